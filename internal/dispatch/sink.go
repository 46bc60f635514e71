package dispatch

import (
	"sync/atomic"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// EventKind identifies an unsolicited server event
type EventKind int

const (
	EventFlow EventKind = iota + 1
	EventChannelClosed
	EventConnectionClosed
	EventReturn
	EventAck
	EventNack
	EventCancel
	EventBlocked
	EventUnblocked
)

func (k EventKind) String() string {
	switch k {
	case EventFlow:
		return "flow"
	case EventChannelClosed:
		return "channel-closed"
	case EventConnectionClosed:
		return "connection-closed"
	case EventReturn:
		return "return"
	case EventAck:
		return "ack"
	case EventNack:
		return "nack"
	case EventCancel:
		return "cancel"
	case EventBlocked:
		return "blocked"
	case EventUnblocked:
		return "unblocked"
	default:
		return "unknown"
	}
}

// Event is an unsolicited server event. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind    EventKind
	Channel uint16

	// EventFlow
	Active bool

	// EventChannelClosed, EventConnectionClosed
	Close *protocol.SessionError

	// EventReturn
	Return *Return

	// EventAck, EventNack
	DeliveryTag uint64
	Multiple    bool
	Requeue     bool

	// EventCancel
	ConsumerTag string

	// EventBlocked
	Reason string
}

// EventSink receives unsolicited events. Notify runs on the goroutine that
// is reading the connection and must not block.
type EventSink interface {
	Notify(Event)
}

// SinkFunc adapts a function to EventSink
type SinkFunc func(Event)

func (f SinkFunc) Notify(e Event) { f(e) }

type nopSink struct{}

func (nopSink) Notify(Event) {}

// ChanSink delivers events on a buffered channel that callers poll. Events
// that do not fit are dropped and counted.
type ChanSink struct {
	C       <-chan Event
	c       chan Event
	dropped uint64
}

// NewChanSink creates a ChanSink with the given buffer size
func NewChanSink(size int) *ChanSink {
	c := make(chan Event, size)
	return &ChanSink{C: c, c: c}
}

func (s *ChanSink) Notify(e Event) {
	select {
	case s.c <- e:
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}

// Dropped returns how many events did not fit the buffer
func (s *ChanSink) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}
