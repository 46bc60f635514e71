package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/zhiqiangxu/util"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/goootlib/MonsterMQ-sub000/internal/frame"
	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// DefaultCloseTimeout bounds the wait for Close-Ok after sending Close
const DefaultCloseTimeout = 130 * time.Second

// ErrClosed is returned for calls on a connection that has been closed
var ErrClosed = errors.New("connection closed")

// Class is implemented by every per-class dispatcher
type Class interface {
	ClassID() uint16
	Name() string
}

// Core holds everything the per-class dispatchers share: the transceiver,
// the connection state, the event sink and the receive loop that resolves
// unsolicited server methods.
//
// Only one synchronous request is outstanding at a time. Sends that expect
// no reply may happen concurrently with a pending request.
type Core struct {
	t      *frame.Transceiver
	state  *ConnectionState
	sink   EventSink
	logger *zap.Logger

	closeTimeout time.Duration

	// calls admits one synchronous request at a time
	calls *semaphore.Weighted

	mu       sync.Mutex
	session  *Session
	pending  map[uint16][]*Delivery
	lastTag  map[uint16]uint64
	hbStop   chan struct{}
	hbWG     sync.WaitGroup
	shutdown bool
}

// Option configures a Core
type Option func(*Core)

// WithSink installs the receiver of unsolicited events
func WithSink(sink EventSink) Option {
	return func(c *Core) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCloseTimeout bounds the wait for Connection.Close-Ok
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Core) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

// NewCore creates a Core over t. state may be nil, in which case a fresh
// ConnectionState is created.
func NewCore(t *frame.Transceiver, state *ConnectionState, opts ...Option) *Core {
	if state == nil {
		state = NewConnectionState()
	}
	c := &Core{
		t:            t,
		state:        state,
		sink:         nopSink{},
		logger:       zap.NewNop(),
		closeTimeout: DefaultCloseTimeout,
		calls:        semaphore.NewWeighted(1),
		pending:      make(map[uint16][]*Delivery),
		lastTag:      make(map[uint16]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the shared connection state
func (c *Core) State() *ConnectionState {
	return c.state
}

// Session returns the negotiated parameters, nil before the handshake
// completed
func (c *Core) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Core) setSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// Logger returns the logger in use
func (c *Core) Logger() *zap.Logger {
	return c.logger
}

// send writes a method that expects no reply
func (c *Core) send(ch, classID, methodID uint16, encode func(*protocol.Writer) error) error {
	if c.state.Phase() == PhaseClosed {
		return ErrClosed
	}
	return c.check(c.t.SendMethod(ch, classID, methodID, encode))
}

// call sends a method and waits for one of the expected replies on the same
// channel
func (c *Core) call(ctx context.Context, ch, classID, methodID uint16, encode func(*protocol.Writer) error,
	expect ...protocol.MethodID) (*frame.Method, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	if err := c.send(ch, classID, methodID, encode); err != nil {
		return nil, err
	}
	return c.await(ctx, ch, expect...)
}

// acquire takes the call slot for a request on an open connection. Giving up
// on the wait leaves the connection untouched.
func (c *Core) acquire(ctx context.Context) error {
	if err := c.calls.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "wait for connection")
	}
	switch c.state.Phase() {
	case PhaseClosing, PhaseClosed:
		c.calls.Release(1)
		return ErrClosed
	}
	return nil
}

func (c *Core) release() {
	c.calls.Release(1)
}

// await reads frames until a method in expect arrives on ch. Unsolicited
// methods arriving first are resolved on the way; see intercept. The caller
// must hold the call slot.
func (c *Core) await(ctx context.Context, ch uint16, expect ...protocol.MethodID) (*frame.Method, error) {
	for {
		if c.state.Phase() == PhaseClosed {
			return nil, ErrClosed
		}

		f, err := c.t.Receive(ctx)
		if err != nil {
			return nil, c.check(err)
		}

		if f.Type != protocol.FrameMethod {
			if c.state.Phase() == PhaseClosing {
				continue
			}
			return nil, c.check(protocol.NewProtocolError("unexpected %s frame on channel %d", frame.TypeName(f.Type), f.Channel))
		}

		m, err := f.ParseMethod()
		if err != nil {
			return nil, c.check(err)
		}

		if f.Channel == ch && contains(expect, m.ID) {
			return m, nil
		}

		done, err := c.intercept(ctx, f.Channel, m, ch, expect)
		if err != nil {
			return nil, c.check(err)
		}
		if done {
			return m, nil
		}
	}
}

// intercept resolves a method that is not the awaited reply. It returns
// done when the method completes the awaited call (a close crossing our own
// close), or an error when the awaited reply can never arrive.
func (c *Core) intercept(ctx context.Context, ch uint16, m *frame.Method, awaitCh uint16,
	expect []protocol.MethodID) (bool, error) {

	switch m.ID {
	case protocol.ID(protocol.ClassConnection, protocol.MethodConnectionClose):
		closeErr, err := readClose(m, 0)
		if err != nil {
			return false, err
		}
		c.logger.Warn("connection closed by server",
			zap.Uint16("code", closeErr.Code), zap.String("text", closeErr.Text))

		_ = c.t.SendMethod(0, protocol.ClassConnection, protocol.MethodConnectionCloseOk, nil)
		c.terminate()
		c.sink.Notify(Event{Kind: EventConnectionClosed, Close: closeErr})

		if awaitCh == 0 && contains(expect, protocol.ID(protocol.ClassConnection, protocol.MethodConnectionCloseOk)) {
			return true, nil
		}
		return false, closeErr
	}

	if c.state.Phase() == PhaseClosing {
		// Between Close and Close-Ok everything else is discarded.
		return false, nil
	}

	switch m.ID {
	case protocol.ID(protocol.ClassChannel, protocol.MethodChannelFlow):
		active, err := m.Reader().ReadBool()
		if err != nil {
			return false, err
		}
		if active {
			c.state.Resume(ch)
		} else {
			c.state.Suspend(ch)
		}
		c.logger.Debug("channel flow", zap.Uint16("channel", ch), zap.Bool("active", active))

		if err := c.t.SendMethod(ch, protocol.ClassChannel, protocol.MethodChannelFlowOk, func(w *protocol.Writer) error {
			return w.WriteBits(active)
		}); err != nil {
			return false, err
		}
		c.sink.Notify(Event{Kind: EventFlow, Channel: ch, Active: active})
		return false, nil

	case protocol.ID(protocol.ClassChannel, protocol.MethodChannelClose):
		closeErr, err := readClose(m, ch)
		if err != nil {
			return false, err
		}
		c.logger.Warn("channel closed by server",
			zap.Uint16("channel", ch), zap.Uint16("code", closeErr.Code), zap.String("text", closeErr.Text))

		c.state.MarkClosed(ch)
		c.forget(ch)
		if err := c.t.SendMethod(ch, protocol.ClassChannel, protocol.MethodChannelCloseOk, nil); err != nil {
			return false, err
		}
		c.sink.Notify(Event{Kind: EventChannelClosed, Channel: ch, Close: closeErr})

		if ch != awaitCh {
			return false, nil
		}
		if contains(expect, protocol.ID(protocol.ClassChannel, protocol.MethodChannelCloseOk)) {
			return true, nil
		}
		return false, closeErr

	case protocol.ID(protocol.ClassBasic, protocol.MethodBasicDeliver):
		d, err := c.readDelivery(ctx, ch, m)
		if err != nil {
			return false, err
		}
		c.mu.Lock()
		c.pending[ch] = append(c.pending[ch], d)
		c.mu.Unlock()
		c.logger.Debug("delivery queued", zap.Uint16("channel", ch), zap.Uint64("delivery_tag", d.DeliveryTag))
		return false, nil

	case protocol.ID(protocol.ClassBasic, protocol.MethodBasicReturn):
		ret, err := c.readReturn(ctx, ch, m)
		if err != nil {
			return false, err
		}
		c.sink.Notify(Event{Kind: EventReturn, Channel: ch, Return: ret})
		return false, nil

	case protocol.ID(protocol.ClassBasic, protocol.MethodBasicAck):
		r := m.Reader()
		tag, err := r.ReadLongLong()
		if err != nil {
			return false, err
		}
		multiple, err := r.ReadBool()
		if err != nil {
			return false, err
		}
		c.sink.Notify(Event{Kind: EventAck, Channel: ch, DeliveryTag: tag, Multiple: multiple})
		return false, nil

	case protocol.ID(protocol.ClassBasic, protocol.MethodBasicNack):
		r := m.Reader()
		tag, err := r.ReadLongLong()
		if err != nil {
			return false, err
		}
		bits, err := r.ReadBits(2)
		if err != nil {
			return false, err
		}
		c.sink.Notify(Event{Kind: EventNack, Channel: ch, DeliveryTag: tag, Multiple: bits[0], Requeue: bits[1]})
		return false, nil

	case protocol.ID(protocol.ClassBasic, protocol.MethodBasicCancel):
		r := m.Reader()
		tag, err := r.ReadShortStr()
		if err != nil {
			return false, err
		}
		noWait, err := r.ReadBool()
		if err != nil {
			return false, err
		}
		c.logger.Info("consumer cancelled by server", zap.Uint16("channel", ch), zap.String("consumer_tag", tag))
		if !noWait {
			if err := c.t.SendMethod(ch, protocol.ClassBasic, protocol.MethodBasicCancelOk, func(w *protocol.Writer) error {
				return w.WriteShortStr(tag)
			}); err != nil {
				return false, err
			}
		}
		c.sink.Notify(Event{Kind: EventCancel, Channel: ch, ConsumerTag: tag})
		return false, nil

	case protocol.ID(protocol.ClassConnection, protocol.MethodConnectionBlocked):
		reason, err := m.Reader().ReadShortStr()
		if err != nil {
			return false, err
		}
		c.logger.Warn("connection blocked", zap.String("reason", reason))
		c.sink.Notify(Event{Kind: EventBlocked, Reason: reason})
		return false, nil

	case protocol.ID(protocol.ClassConnection, protocol.MethodConnectionUnblocked):
		c.logger.Info("connection unblocked")
		c.sink.Notify(Event{Kind: EventUnblocked})
		return false, nil
	}

	want := protocol.MethodID{}
	if len(expect) > 0 {
		want = expect[0]
	}
	return false, protocol.UnexpectedMethod(want, m.ID)
}

func readClose(m *frame.Method, ch uint16) (*protocol.SessionError, error) {
	r := m.Reader()
	code, err := r.ReadShort()
	if err != nil {
		return nil, err
	}
	text, err := r.ReadShortStr()
	if err != nil {
		return nil, err
	}
	classID, err := r.ReadShort()
	if err != nil {
		return nil, err
	}
	methodID, err := r.ReadShort()
	if err != nil {
		return nil, err
	}
	return &protocol.SessionError{
		Channel:  ch,
		Code:     code,
		Text:     text,
		ClassID:  classID,
		MethodID: methodID,
	}, nil
}

// readDelivery decodes Basic.Deliver arguments and the content that follows
func (c *Core) readDelivery(ctx context.Context, ch uint16, m *frame.Method) (*Delivery, error) {
	r := m.Reader()
	d := &Delivery{Channel: ch}

	var err error
	if d.ConsumerTag, err = r.ReadShortStr(); err != nil {
		return nil, err
	}
	if d.DeliveryTag, err = r.ReadLongLong(); err != nil {
		return nil, err
	}
	if d.Redelivered, err = r.ReadBool(); err != nil {
		return nil, err
	}
	if d.Exchange, err = r.ReadShortStr(); err != nil {
		return nil, err
	}
	if d.RoutingKey, err = r.ReadShortStr(); err != nil {
		return nil, err
	}

	content, err := c.t.ReceiveContent(ctx, ch)
	if err != nil {
		return nil, err
	}
	d.Properties = content.Properties
	d.Body = content.Body
	return d, nil
}

func (c *Core) readReturn(ctx context.Context, ch uint16, m *frame.Method) (*Return, error) {
	r := m.Reader()
	ret := &Return{Channel: ch}

	var err error
	if ret.ReplyCode, err = r.ReadShort(); err != nil {
		return nil, err
	}
	if ret.ReplyText, err = r.ReadShortStr(); err != nil {
		return nil, err
	}
	if ret.Exchange, err = r.ReadShortStr(); err != nil {
		return nil, err
	}
	if ret.RoutingKey, err = r.ReadShortStr(); err != nil {
		return nil, err
	}

	content, err := c.t.ReceiveContent(ctx, ch)
	if err != nil {
		return nil, err
	}
	ret.Properties = content.Properties
	ret.Body = content.Body
	return ret, nil
}

// popPending returns the oldest queued delivery for ch
func (c *Core) popPending(ch uint16) *Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := c.pending[ch]
	if len(q) == 0 {
		return nil
	}
	d := q[0]
	q[0] = nil
	c.pending[ch] = q[1:]
	return d
}

// Pending returns how many deliveries are queued for ch
func (c *Core) Pending(ch uint16) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[ch])
}

func (c *Core) remember(ch uint16, tag uint64) {
	c.mu.Lock()
	c.lastTag[ch] = tag
	c.mu.Unlock()
}

// LastDeliveryTag returns the most recent delivery tag handed out on ch
func (c *Core) LastDeliveryTag(ch uint16) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tag, ok := c.lastTag[ch]
	return tag, ok
}

func (c *Core) forget(ch uint16) {
	c.mu.Lock()
	delete(c.pending, ch)
	delete(c.lastTag, ch)
	c.mu.Unlock()
}

// check closes the connection on errors it cannot survive: transport
// failures and protocol violations. Encoding and channel-level session
// errors pass through untouched. A read interrupted by Close becomes
// ErrClosed.
func (c *Core) check(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, frame.ErrInterrupted) {
		// Close cut the read off and takes over the connection.
		return ErrClosed
	}

	var (
		connErr  *protocol.ConnectionError
		protoErr *protocol.ProtocolError
	)
	switch {
	case errors.As(err, &connErr):
		c.logger.Error("connection failed", zap.Error(err))
		c.terminate()
	case errors.As(err, &protoErr):
		c.logger.Error("protocol violation", zap.Error(err))
		code := uint16(protocol.ReplyFrameError)
		if protoErr.Actual != (protocol.MethodID{}) {
			code = protocol.ReplyUnexpectedFrame
		}
		_ = c.t.SendMethod(0, protocol.ClassConnection, protocol.MethodConnectionClose, func(w *protocol.Writer) error {
			_ = w.WriteShort(code)
			_ = w.WriteShortStr(truncate(protoErr.Error(), 255))
			_ = w.WriteShort(protoErr.Actual.Class)
			return w.WriteShort(protoErr.Actual.Method)
		})
		c.terminate()
	}
	return err
}

// terminate marks the connection closed and releases the transport
func (c *Core) terminate() {
	c.state.SetPhase(PhaseClosed)
	c.state.CloseAll()
	c.stopHeartbeat()
	_ = c.t.Close()
}

// startHeartbeat sends a heartbeat frame every interval until stopped
func (c *Core) startHeartbeat(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if interval <= 0 || c.hbStop != nil {
		return
	}
	stop := make(chan struct{})
	c.hbStop = stop

	util.GoFunc(&c.hbWG, func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := c.t.SendHeartbeat(); err != nil {
					c.logger.Warn("heartbeat send failed", zap.Error(err))
					return
				}
			}
		}
	})
}

func (c *Core) stopHeartbeat() {
	c.mu.Lock()
	stop := c.hbStop
	c.hbStop = nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	c.hbWG.Wait()
}

func contains(ids []protocol.MethodID, id protocol.MethodID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
