package frame

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
	"github.com/goootlib/MonsterMQ-sub000/internal/transport"
)

// DefaultReadTimeout bounds every blocking receive
const DefaultReadTimeout = 130 * time.Second

// ErrInterrupted is returned by receives cut off with Interrupt. The stream
// is left on a frame boundary.
var ErrInterrupted = errors.New("receive interrupted")

// Transceiver sends and receives frames over one transport. Sends may come
// from any goroutine; receives must be serialised by the caller.
type Transceiver struct {
	conn   transport.Transport
	reader *Reader
	writer *Writer
	logger *zap.Logger

	readTimeout time.Duration
	interrupted atomic.Bool

	// held are frames for other channels read while assembling content,
	// returned by Receive in arrival order
	held []*Frame

	mu       sync.Mutex
	frameMax uint32
	closed   bool
}

// Option configures a Transceiver
type Option func(*Transceiver)

// WithLogger sets the logger used for frame-level debug output
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transceiver) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithReadTimeout sets the per-receive timeout
func WithReadTimeout(d time.Duration) Option {
	return func(t *Transceiver) {
		if d > 0 {
			t.readTimeout = d
		}
	}
}

// NewTransceiver creates a transceiver limited to the pre-negotiation frame
// size until SetFrameMax is called.
func NewTransceiver(conn transport.Transport, opts ...Option) *Transceiver {
	t := &Transceiver{
		conn:        conn,
		reader:      NewReader(conn, protocol.FrameMinSize),
		writer:      NewWriter(conn, protocol.FrameMinSize),
		logger:      zap.NewNop(),
		readTimeout: DefaultReadTimeout,
		frameMax:    protocol.FrameMinSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetFrameMax applies the negotiated frame size to both directions
func (t *Transceiver) SetFrameMax(size uint32) {
	if size == 0 {
		return
	}
	t.mu.Lock()
	t.frameMax = size
	t.mu.Unlock()

	t.reader.SetMaxFrameSize(size)
	t.writer.SetMaxFrameSize(size)
}

// FrameMax returns the current frame size limit
func (t *Transceiver) FrameMax() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frameMax
}

// SendProtocolHeader writes "AMQP" 0 0 9 1
func (t *Transceiver) SendProtocolHeader() error {
	return t.sendErr("send protocol header", t.writer.WriteProtocolHeader())
}

// SendMethod sends one method frame. encode writes the arguments.
func (t *Transceiver) SendMethod(channel, classID, methodID uint16, encode func(*protocol.Writer) error) error {
	t.logger.Debug("send method",
		zap.Uint16("channel", channel),
		zap.Stringer("method", protocol.ID(classID, methodID)))

	return t.sendErr("send "+protocol.ID(classID, methodID).String(),
		t.writer.WriteMethod(channel, classID, methodID, encode))
}

// SendMethodContent sends a content-carrying method (Basic.Publish) with its
// header and body frames as one uninterrupted sequence
func (t *Transceiver) SendMethodContent(channel, classID, methodID uint16, encode func(*protocol.Writer) error,
	props protocol.Properties, body []byte) error {
	t.logger.Debug("send method with content",
		zap.Uint16("channel", channel),
		zap.Stringer("method", protocol.ID(classID, methodID)),
		zap.Int("body_size", len(body)))

	return t.sendErr("send "+protocol.ID(classID, methodID).String(),
		t.writer.WriteMethodContent(channel, classID, methodID, encode, props, body))
}

// SendContent sends a content header frame followed by the body frames
func (t *Transceiver) SendContent(channel, classID uint16, props protocol.Properties, body []byte) error {
	return t.sendErr("send content", t.writer.WriteContent(channel, classID, props, body))
}

// SendHeartbeat sends a heartbeat frame
func (t *Transceiver) SendHeartbeat() error {
	return t.sendErr("send heartbeat", t.writer.WriteHeartbeat())
}

// sendErr passes encoding errors through untouched and turns everything else
// into a ConnectionError
func (t *Transceiver) sendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var encErr *protocol.EncodingError
	if errors.As(err, &encErr) {
		return err
	}
	return &protocol.ConnectionError{Op: op, Err: err}
}

// Receive returns the next non-heartbeat frame. Heartbeats are consumed and
// skipped. The read is bounded by the read timeout and by ctx.
func (t *Transceiver) Receive(ctx context.Context) (*Frame, error) {
	if len(t.held) > 0 {
		f := t.held[0]
		t.held = t.held[1:]
		return f, nil
	}
	return t.receiveFrame(ctx)
}

func (t *Transceiver) receiveFrame(ctx context.Context) (*Frame, error) {
	for {
		f, err := t.receive(ctx)
		if err != nil {
			return nil, err
		}
		if f.Type == protocol.FrameHeartbeat {
			t.logger.Debug("heartbeat received")
			continue
		}
		return f, nil
	}
}

func (t *Transceiver) receive(ctx context.Context) (*Frame, error) {
	stop, err := t.armDeadline(ctx)
	if err != nil {
		return nil, err
	}
	defer stop()

	f, err := t.reader.ReadFrame()
	if err != nil {
		if t.interrupted.Load() && !t.reader.MidFrame() {
			return nil, ErrInterrupted
		}
		return nil, t.receiveErr(ctx, err)
	}
	return f, nil
}

// Interrupt makes the receive in progress, and every later one, fail with
// ErrInterrupted until Resume. A receive that already consumed part of a
// frame fails with a ConnectionError instead.
func (t *Transceiver) Interrupt() {
	t.interrupted.Store(true)
	_ = t.conn.SetReadDeadline(time.Unix(1, 0))
}

// Resume undoes Interrupt
func (t *Transceiver) Resume() {
	t.interrupted.Store(false)
}

// armDeadline sets the transport read deadline to the earlier of the read
// timeout and the context deadline, and moves it to the past when ctx is
// cancelled mid-read.
func (t *Transceiver) armDeadline(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, &protocol.ConnectionError{Op: "receive", Err: err}
	}
	if t.interrupted.Load() {
		return nil, ErrInterrupted
	}

	deadline := time.Now().Add(t.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return nil, &protocol.ConnectionError{Op: "set read deadline", Err: err}
	}
	// An Interrupt racing the line above may have had its deadline
	// overwritten.
	if t.interrupted.Load() {
		return nil, ErrInterrupted
	}

	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Unix(1, 0))
	})
	return func() { stop() }, nil
}

func (t *Transceiver) receiveErr(ctx context.Context, err error) error {
	var protoErr *protocol.ProtocolError
	if errors.As(err, &protoErr) {
		return err
	}
	var connErr *protocol.ConnectionError
	if errors.As(err, &connErr) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &protocol.ConnectionError{Op: "receive", Err: errors.Wrap(ctxErr, err.Error())}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &protocol.ConnectionError{Op: "receive", Err: errors.Wrap(err, "read timeout")}
	}
	return &protocol.ConnectionError{Op: "receive", Err: err}
}

// ReceiveContent reads a content header on channel followed by body frames
// until the declared body size has been received. Frames for other channels
// that arrive in between are held back for Receive.
func (t *Transceiver) ReceiveContent(ctx context.Context, channel uint16) (*Content, error) {
	f, err := t.receiveOn(ctx, channel)
	if err != nil {
		return nil, err
	}
	if f.Type != protocol.FrameHeader {
		return nil, protocol.NewProtocolError("expected content header on channel %d, got %s frame", channel, TypeName(f.Type))
	}

	header, err := f.ParseHeader()
	if err != nil {
		return nil, err
	}

	if header.BodySize > uint64(maxBodySize) {
		return nil, protocol.NewProtocolError("content body size %d too large", header.BodySize)
	}
	body := make([]byte, 0, bodyCapacity(header.BodySize, t.FrameMax()))
	for uint64(len(body)) < header.BodySize {
		f, err := t.receiveOn(ctx, channel)
		if err != nil {
			return nil, err
		}
		if f.Type != protocol.FrameBody {
			return nil, protocol.NewProtocolError("expected content body on channel %d, got %s frame", channel, TypeName(f.Type))
		}
		if uint64(len(body))+uint64(len(f.Payload)) > header.BodySize {
			return nil, protocol.NewProtocolError("content body overrun: declared %d bytes, received %d",
				header.BodySize, len(body)+len(f.Payload))
		}
		body = append(body, f.Payload...)
	}

	return &Content{
		ClassID:    header.ClassID,
		Properties: header.Properties,
		Body:       body,
	}, nil
}

// receiveOn returns the next frame on channel, taking held frames first and
// holding back frames for other channels
func (t *Transceiver) receiveOn(ctx context.Context, channel uint16) (*Frame, error) {
	for i, f := range t.held {
		if f.Channel == channel {
			t.held = append(t.held[:i], t.held[i+1:]...)
			return f, nil
		}
	}
	for {
		f, err := t.receiveFrame(ctx)
		if err != nil {
			return nil, err
		}
		if f.Channel == channel {
			return f, nil
		}
		if len(t.held) >= maxHeldFrames {
			return nil, protocol.NewProtocolError("content on channel %d interleaved with more than %d frames", channel, maxHeldFrames)
		}
		t.held = append(t.held, f)
	}
}

// bodyCapacity is the buffer preallocated for a body of size octets. A peer
// may declare any size, so at most a few frames are reserved up front.
func bodyCapacity(size uint64, frameMax uint32) int {
	limit := uint64(frameMax) * bodyPreallocFrames
	return int(min(size, limit))
}

const (
	maxBodySize        = 1<<31 - 1
	maxHeldFrames      = 64
	bodyPreallocFrames = 4
)

// Close closes the transport. It is safe to call more than once.
func (t *Transceiver) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	return t.conn.Close()
}
