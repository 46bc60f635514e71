package monstermq

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/goootlib/MonsterMQ-sub000/internal/dispatch"
	"github.com/goootlib/MonsterMQ-sub000/internal/util"
)

// ConnectionState is the phase of a connection
type ConnectionState = dispatch.Phase

const (
	StateConnecting = dispatch.PhaseDisconnected
	StateOpen       = dispatch.PhaseOpen
	StateClosing    = dispatch.PhaseClosing
	StateClosed     = dispatch.PhaseClosed
)

// BlockedNotification represents a connection blocked/unblocked event
type BlockedNotification struct {
	Blocked bool
	Reason  string
}

// Connection is an open AMQP connection.
//
// Operations on one connection are serialized: while one goroutine waits for
// a reply or a delivery, others wait their turn. Cancelling the context of
// an operation that is reading the connection closes the connection, since
// the frame stream cannot be resumed mid-frame.
type Connection struct {
	factory *ConnectionFactory
	d       *dispatch.Dispatchers
	session *dispatch.Session
	alloc   *util.ChannelAllocator

	logger  *zap.Logger
	metrics MetricsCollector
	errs    ErrorHandler

	mu           sync.Mutex
	closed       bool
	channels     map[uint16]*Channel
	closeChans   []chan error
	blockedChans []chan BlockedNotification

	blocked   atomic.Bool
	closeOnce sync.Once
}

func newConnection(cf *ConnectionFactory) *Connection {
	return &Connection{
		factory:  cf,
		logger:   cf.Logger,
		metrics:  cf.Metrics,
		errs:     cf.ErrorHandler,
		channels: make(map[uint16]*Channel),
	}
}

func (c *Connection) opened(s *dispatch.Session) {
	c.session = s
	c.alloc = util.NewChannelAllocator(s.ChannelMax)
}

// Channel opens a new channel on the lowest free number after the last one
// handed out
func (c *Connection) Channel(ctx context.Context) (*Channel, error) {
	if c.IsClosed() {
		return nil, ErrClosed
	}

	id, ok := c.alloc.Allocate()
	if !ok {
		return nil, ErrChannelMax
	}

	ch := newChannel(c, id)
	c.mu.Lock()
	c.channels[id] = ch
	c.mu.Unlock()

	if err := c.d.Channel.Open(ctx, id); err != nil {
		c.forget(id)
		c.metrics.ChannelError(err)
		return nil, c.finish(err)
	}

	c.metrics.ChannelCreated()
	c.logger.Debug("channel open", zap.Uint16("channel", id))
	return ch, nil
}

// Close closes the connection with reply code 200
func (c *Connection) Close(ctx context.Context) error {
	return c.CloseWithCode(ctx, ReplySuccess, "")
}

// CloseWithCode sends Connection.Close and waits for Close-Ok, bounded by
// ctx and the close timeout. The connection is closed locally either way,
// unless code does not fit a reply code.
func (c *Connection) CloseWithCode(ctx context.Context, code int, text string) error {
	if c.IsClosed() {
		return ErrClosed
	}
	if code < 0 || code > math.MaxUint16 {
		return &EncodingError{Op: "connection close", Reason: fmt.Sprintf("reply code %d out of range", code)}
	}

	err := c.d.Connection.Close(ctx, uint16(code), text)
	switch {
	case errors.Is(err, ErrClosed):
		c.shutdown(nil)
		return err
	case err != nil:
		c.metrics.ConnectionError(err)
	}
	c.shutdown(err)
	return err
}

// finish runs after an operation that used the connection. Once the core has
// closed, local channels and listeners are torn down.
func (c *Connection) finish(err error) error {
	if err == nil || c.d.State().Phase() != dispatch.PhaseClosed {
		return err
	}

	// A local Close reports nothing.
	if errors.Is(err, ErrClosed) {
		c.shutdown(nil)
		return err
	}

	c.mu.Lock()
	reported := c.closed
	c.mu.Unlock()
	if !reported {
		c.metrics.ConnectionError(err)
		c.errs.HandleConnectionError(c, err)
	}
	c.shutdown(err)
	return err
}

func (c *Connection) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		channels := c.channels
		closeChans, blockedChans := c.closeChans, c.blockedChans
		c.channels = make(map[uint16]*Channel)
		c.closeChans, c.blockedChans = nil, nil
		c.mu.Unlock()

		for _, ch := range channels {
			ch.shutdown(cause)
		}
		for _, n := range closeChans {
			if cause != nil {
				select {
				case n <- cause:
				default:
				}
			}
			close(n)
		}
		for _, n := range blockedChans {
			close(n)
		}

		c.metrics.ConnectionClosed()
		if cause != nil {
			c.logger.Info("connection closed", zap.Error(cause))
		} else {
			c.logger.Info("connection closed")
		}
	})
}

// dispatchEvent receives unsolicited events from the core. It runs on the
// goroutine reading the connection and never blocks.
func (c *Connection) dispatchEvent(ev dispatch.Event) {
	switch ev.Kind {
	case dispatch.EventConnectionClosed:
		c.metrics.ConnectionError(ev.Close)
		c.errs.HandleConnectionError(c, ev.Close)
		c.shutdown(ev.Close)

	case dispatch.EventBlocked, dispatch.EventUnblocked:
		blocked := ev.Kind == dispatch.EventBlocked
		c.blocked.Store(blocked)
		c.metrics.BlockedChanged(blocked)

		n := BlockedNotification{Blocked: blocked, Reason: ev.Reason}
		c.mu.Lock()
		for _, ch := range c.blockedChans {
			select {
			case ch <- n:
			default:
				c.logger.Warn("blocked notification dropped", zap.Bool("blocked", blocked))
			}
		}
		c.mu.Unlock()

	default:
		ch := c.channel(ev.Channel)
		if ch == nil {
			c.logger.Debug("event for unknown channel",
				zap.Stringer("event", ev.Kind),
				zap.Uint16("channel", ev.Channel))
			return
		}
		ch.dispatchEvent(ev)
	}
}

func (c *Connection) channel(id uint16) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[id]
}

// forget drops a channel and frees its number
func (c *Connection) forget(id uint16) {
	c.mu.Lock()
	delete(c.channels, id)
	c.mu.Unlock()
	c.alloc.Release(id)
}

// IsClosed returns true if the connection is closed
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return closed || c.d.State().Phase() == dispatch.PhaseClosed
}

// GetState returns the connection phase
func (c *Connection) GetState() ConnectionState {
	return c.d.State().Phase()
}

// IsBlocked returns true while the server has blocked publishing
func (c *Connection) IsBlocked() bool {
	return c.blocked.Load()
}

// GetChannelCount returns the number of open channels
func (c *Connection) GetChannelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// NotifyClose registers a listener for the connection closing. The cause is
// sent when the close was not requested by this client, then the channel is
// closed. Use a buffered channel: sends never block.
func (c *Connection) NotifyClose(ch chan error) chan error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(ch)
		return ch
	}
	c.closeChans = append(c.closeChans, ch)
	return ch
}

// NotifyBlocked registers a listener for Connection.Blocked and Unblocked.
// Use a buffered channel: sends never block.
func (c *Connection) NotifyBlocked(ch chan BlockedNotification) chan BlockedNotification {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(ch)
		return ch
	}
	c.blockedChans = append(c.blockedChans, ch)
	return ch
}

// GetChannelMax returns the negotiated channel-max
func (c *Connection) GetChannelMax() uint16 {
	return c.session.ChannelMax
}

// GetFrameMax returns the negotiated frame-max
func (c *Connection) GetFrameMax() uint32 {
	return c.session.FrameMax
}

// GetHeartbeat returns the negotiated heartbeat interval, zero if disabled
func (c *Connection) GetHeartbeat() time.Duration {
	return c.session.Heartbeat
}

// GetMechanism returns the SASL mechanism used to log in
func (c *Connection) GetMechanism() string {
	return c.session.Mechanism
}

// GetServerProperties returns the properties the server sent in
// Connection.Start
func (c *Connection) GetServerProperties() Table {
	return c.session.ServerProperties.Native()
}
