package monstermq

import (
	"sync/atomic"
)

// MetricsCollector receives client-side counters from connections and
// channels. Implementations must be safe for concurrent use and must not
// block: some calls run on the goroutine reading the connection.
type MetricsCollector interface {
	ConnectionCreated()
	ConnectionClosed()
	ConnectionError(err error)

	ChannelCreated()
	ChannelClosed()
	ChannelError(err error)

	MessagePublished(bytes int)
	MessageConsumed(bytes int)
	MessageAcked()
	MessageNacked()
	MessageRejected()
	MessageReturned()

	ConfirmReceived(ack bool)
	FlowChanged(active bool)
	BlockedChanged(blocked bool)
}

// Snapshot is a point-in-time copy of the standard counters
type Snapshot struct {
	ConnectionsCreated int64
	ConnectionsClosed  int64
	ConnectionErrors   int64

	ChannelsCreated int64
	ChannelsClosed  int64
	ChannelErrors   int64

	MessagesPublished int64
	BytesPublished    int64
	MessagesConsumed  int64
	BytesConsumed     int64
	MessagesAcked     int64
	MessagesNacked    int64
	MessagesRejected  int64
	MessagesReturned  int64

	ConfirmsAcked  int64
	ConfirmsNacked int64

	FlowPauses int64
	Blocked    int64
}

// StandardMetricsCollector counts with atomics
type StandardMetricsCollector struct {
	connectionsCreated atomic.Int64
	connectionsClosed  atomic.Int64
	connectionErrors   atomic.Int64

	channelsCreated atomic.Int64
	channelsClosed  atomic.Int64
	channelErrors   atomic.Int64

	messagesPublished atomic.Int64
	bytesPublished    atomic.Int64
	messagesConsumed  atomic.Int64
	bytesConsumed     atomic.Int64
	messagesAcked     atomic.Int64
	messagesNacked    atomic.Int64
	messagesRejected  atomic.Int64
	messagesReturned  atomic.Int64

	confirmsAcked  atomic.Int64
	confirmsNacked atomic.Int64

	flowPauses atomic.Int64
	blocked    atomic.Int64
}

// NewStandardMetricsCollector creates a new standard metrics collector
func NewStandardMetricsCollector() *StandardMetricsCollector {
	return &StandardMetricsCollector{}
}

func (m *StandardMetricsCollector) ConnectionCreated() { m.connectionsCreated.Add(1) }
func (m *StandardMetricsCollector) ConnectionClosed() { m.connectionsClosed.Add(1) }
func (m *StandardMetricsCollector) ConnectionError(err error) { m.connectionErrors.Add(1) }

func (m *StandardMetricsCollector) ChannelCreated() { m.channelsCreated.Add(1) }
func (m *StandardMetricsCollector) ChannelClosed() { m.channelsClosed.Add(1) }
func (m *StandardMetricsCollector) ChannelError(err error) { m.channelErrors.Add(1) }

func (m *StandardMetricsCollector) MessagePublished(bytes int) {
	m.messagesPublished.Add(1)
	m.bytesPublished.Add(int64(bytes))
}

func (m *StandardMetricsCollector) MessageConsumed(bytes int) {
	m.messagesConsumed.Add(1)
	m.bytesConsumed.Add(int64(bytes))
}

func (m *StandardMetricsCollector) MessageAcked() { m.messagesAcked.Add(1) }
func (m *StandardMetricsCollector) MessageNacked() { m.messagesNacked.Add(1) }
func (m *StandardMetricsCollector) MessageRejected() { m.messagesRejected.Add(1) }
func (m *StandardMetricsCollector) MessageReturned() { m.messagesReturned.Add(1) }

func (m *StandardMetricsCollector) ConfirmReceived(ack bool) {
	if ack {
		m.confirmsAcked.Add(1)
	} else {
		m.confirmsNacked.Add(1)
	}
}

// FlowChanged counts pauses only
func (m *StandardMetricsCollector) FlowChanged(active bool) {
	if !active {
		m.flowPauses.Add(1)
	}
}

// BlockedChanged counts blocks only
func (m *StandardMetricsCollector) BlockedChanged(blocked bool) {
	if blocked {
		m.blocked.Add(1)
	}
}

// Snapshot reads every counter. Counters are read one by one, so a
// snapshot taken under load is not a consistent cut.
func (m *StandardMetricsCollector) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsCreated: m.connectionsCreated.Load(),
		ConnectionsClosed:  m.connectionsClosed.Load(),
		ConnectionErrors:   m.connectionErrors.Load(),
		ChannelsCreated:    m.channelsCreated.Load(),
		ChannelsClosed:     m.channelsClosed.Load(),
		ChannelErrors:      m.channelErrors.Load(),
		MessagesPublished:  m.messagesPublished.Load(),
		BytesPublished:     m.bytesPublished.Load(),
		MessagesConsumed:   m.messagesConsumed.Load(),
		BytesConsumed:      m.bytesConsumed.Load(),
		MessagesAcked:      m.messagesAcked.Load(),
		MessagesNacked:     m.messagesNacked.Load(),
		MessagesRejected:   m.messagesRejected.Load(),
		MessagesReturned:   m.messagesReturned.Load(),
		ConfirmsAcked:      m.confirmsAcked.Load(),
		ConfirmsNacked:     m.confirmsNacked.Load(),
		FlowPauses:         m.flowPauses.Load(),
		Blocked:            m.blocked.Load(),
	}
}

// NoOpMetricsCollector is a metrics collector that does nothing
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) ConnectionCreated() {}
func (NoOpMetricsCollector) ConnectionClosed() {}
func (NoOpMetricsCollector) ConnectionError(err error) {}
func (NoOpMetricsCollector) ChannelCreated() {}
func (NoOpMetricsCollector) ChannelClosed() {}
func (NoOpMetricsCollector) ChannelError(err error) {}
func (NoOpMetricsCollector) MessagePublished(bytes int) {}
func (NoOpMetricsCollector) MessageConsumed(bytes int) {}
func (NoOpMetricsCollector) MessageAcked() {}
func (NoOpMetricsCollector) MessageNacked() {}
func (NoOpMetricsCollector) MessageRejected() {}
func (NoOpMetricsCollector) MessageReturned() {}
func (NoOpMetricsCollector) ConfirmReceived(ack bool) {}
func (NoOpMetricsCollector) FlowChanged(active bool) {}
func (NoOpMetricsCollector) BlockedChanged(blocked bool) {}
