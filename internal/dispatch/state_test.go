package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionState(t *testing.T) {
	s := NewConnectionState()
	assert.Equal(t, PhaseDisconnected, s.Phase())

	s.MarkOpened(3)
	s.MarkOpened(1)
	assert.Equal(t, []uint16{1, 3}, s.Opened())
	assert.True(t, s.IsOpen(1))
	assert.False(t, s.IsClosed(1))

	s.Suspend(1)
	assert.True(t, s.IsSuspended(1))
	s.Resume(1)
	assert.False(t, s.IsSuspended(1))

	s.Suspend(3)
	s.MarkClosed(3)
	assert.False(t, s.IsOpen(3))
	assert.True(t, s.IsClosed(3))
	assert.False(t, s.IsSuspended(3))

	// Reopening a closed number takes it out of the closed set.
	s.MarkOpened(3)
	assert.True(t, s.IsOpen(3))
	assert.False(t, s.IsClosed(3))

	s.CloseAll()
	assert.Empty(t, s.Opened())
	assert.True(t, s.IsClosed(1))
	assert.True(t, s.IsClosed(3))
}

func TestPhaseString(t *testing.T) {
	tests := map[Phase]string{
		PhaseDisconnected: "disconnected",
		PhaseStarted:      "started",
		PhaseTuned:        "tuned",
		PhaseOpen:         "open",
		PhaseClosing:      "closing",
		PhaseClosed:       "closed",
		Phase(42):         "unknown",
	}
	for p, want := range tests {
		assert.Equal(t, want, p.String())
	}
}

func TestChanSinkDropsWhenFull(t *testing.T) {
	sink := NewChanSink(1)
	sink.Notify(Event{Kind: EventBlocked, Reason: "memory"})
	sink.Notify(Event{Kind: EventUnblocked})

	assert.Equal(t, uint64(1), sink.Dropped())
	ev := <-sink.C
	assert.Equal(t, EventBlocked, ev.Kind)
	assert.Equal(t, "blocked", ev.Kind.String())
}

func TestSinkFunc(t *testing.T) {
	var got []EventKind
	var sink EventSink = SinkFunc(func(e Event) { got = append(got, e.Kind) })
	sink.Notify(Event{Kind: EventAck})
	sink.Notify(Event{Kind: EventNack})
	assert.Equal(t, []EventKind{EventAck, EventNack}, got)
}
