package dispatch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/goootlib/MonsterMQ-sub000/internal/auth"
	"github.com/goootlib/MonsterMQ-sub000/internal/frame"
	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// Negotiation defaults
const (
	DefaultLocale     = "en_US"
	DefaultChannelMax = 2047
	DefaultFrameMax   = 131072
	DefaultHeartbeat  = 60 * time.Second
)

// Session holds the parameters negotiated by the handshake
type Session struct {
	ChannelMax       uint16
	FrameMax         uint32
	Heartbeat        time.Duration
	ServerProperties protocol.Table
	Mechanism        string
	Locale           string
}

// HandshakeConfig is the client side of the connection negotiation.
// Zero ChannelMax, FrameMax or Heartbeat fall back to the defaults above,
// a negative Heartbeat disables heartbeats.
type HandshakeConfig struct {
	Username         string
	Password         string
	VHost            string
	ChannelMax       uint16
	FrameMax         uint32
	Heartbeat        time.Duration
	Locale           string
	ClientProperties protocol.Table
	Mechanisms       []auth.Mechanism
}

// Connection dispatches methods of the connection class
type Connection struct {
	*Core
}

func (Connection) ClassID() uint16 { return protocol.ClassConnection }
func (Connection) Name() string    { return "connection" }

// Handshake runs the opening sequence up to Connection.Open-Ok. Any failure
// closes the transport and is reported as a ConnectionError.
func (c Connection) Handshake(ctx context.Context, cfg HandshakeConfig) (*Session, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	s, err := c.handshake(ctx, cfg)
	if err != nil {
		c.terminate()
		var connErr *protocol.ConnectionError
		if errors.As(err, &connErr) {
			return nil, err
		}
		return nil, &protocol.ConnectionError{Op: "handshake", Err: err}
	}

	c.setSession(s)
	c.state.SetPhase(PhaseOpen)
	c.logger.Info("connection open",
		zap.String("vhost", cfg.VHost),
		zap.String("mechanism", s.Mechanism),
		zap.Uint16("channel_max", s.ChannelMax),
		zap.Uint32("frame_max", s.FrameMax),
		zap.Duration("heartbeat", s.Heartbeat))

	c.startHeartbeat(s.Heartbeat / 2)
	return s, nil
}

func (c Connection) handshake(ctx context.Context, cfg HandshakeConfig) (*Session, error) {
	if err := c.t.SendProtocolHeader(); err != nil {
		return nil, err
	}

	// Connection.Start
	m, err := c.await(ctx, 0, protocol.ID(protocol.ClassConnection, protocol.MethodConnectionStart))
	if err != nil {
		return nil, errors.Wrap(err, "await connection.start")
	}
	start, err := readStart(m)
	if err != nil {
		return nil, errors.Wrap(err, "read connection.start")
	}
	if start.major != protocol.ProtocolVersionMajor || start.minor != protocol.ProtocolVersionMinor {
		return nil, errors.Errorf("unsupported AMQP version %d-%d", start.major, start.minor)
	}
	c.state.SetPhase(PhaseStarted)

	mech, err := auth.Select(auth.ParseMechanisms(start.mechanisms), cfg.Mechanisms)
	if err != nil {
		return nil, err
	}
	response, err := mech.Response(cfg.Username, cfg.Password)
	if err != nil {
		return nil, errors.Wrap(err, "build auth response")
	}

	locale := cfg.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	props := cfg.ClientProperties
	if props == nil {
		props = DefaultClientProperties()
	}

	if err := c.send(0, protocol.ClassConnection, protocol.MethodConnectionStartOk, func(w *protocol.Writer) error {
		if err := w.WriteTable(props); err != nil {
			return err
		}
		if err := w.WriteShortStr(mech.Name()); err != nil {
			return err
		}
		if err := w.WriteLongStr(response); err != nil {
			return err
		}
		return w.WriteShortStr(locale)
	}); err != nil {
		return nil, err
	}

	// Connection.Tune, or Connection.Secure for a challenge we cannot answer
	m, err = c.await(ctx, 0,
		protocol.ID(protocol.ClassConnection, protocol.MethodConnectionTune),
		protocol.ID(protocol.ClassConnection, protocol.MethodConnectionSecure))
	if err != nil {
		return nil, errors.Wrap(err, "await connection.tune")
	}
	if m.ID.Method == protocol.MethodConnectionSecure {
		return nil, errors.Errorf("mechanism %s: secure challenge not supported", mech.Name())
	}

	r := m.Reader()
	serverChannelMax, err := r.ReadShort()
	if err != nil {
		return nil, err
	}
	serverFrameMax, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	serverHeartbeat, err := r.ReadShort()
	if err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	s := &Session{
		ChannelMax:       negotiateShort(serverChannelMax, cfg.ChannelMax),
		FrameMax:         negotiateLong(serverFrameMax, cfg.FrameMax),
		ServerProperties: start.properties,
		Mechanism:        mech.Name(),
		Locale:           locale,
	}
	if s.FrameMax < protocol.FrameMinSize {
		s.FrameMax = protocol.FrameMinSize
	}
	if cfg.Heartbeat >= 0 {
		s.Heartbeat = time.Duration(negotiateShort(serverHeartbeat, heartbeatSeconds(cfg.Heartbeat))) * time.Second
	}

	if err := c.send(0, protocol.ClassConnection, protocol.MethodConnectionTuneOk, func(w *protocol.Writer) error {
		_ = w.WriteShort(s.ChannelMax)
		_ = w.WriteLong(s.FrameMax)
		return w.WriteShort(uint16(s.Heartbeat / time.Second))
	}); err != nil {
		return nil, err
	}

	c.t.SetFrameMax(s.FrameMax)
	c.state.SetPhase(PhaseTuned)

	if _, err := c.roundTrip(ctx, 0, protocol.ClassConnection, protocol.MethodConnectionOpen, func(w *protocol.Writer) error {
		if err := w.WriteShortStr(cfg.VHost); err != nil {
			return err
		}
		_ = w.WriteShortStr("")
		return w.WriteBits(false)
	}, protocol.ID(protocol.ClassConnection, protocol.MethodConnectionOpenOk)); err != nil {
		return nil, errors.Wrapf(err, "open vhost %q", cfg.VHost)
	}

	return s, nil
}

// roundTrip is call without taking the call slot, which the handshake
// already holds
func (c Connection) roundTrip(ctx context.Context, ch, classID, methodID uint16, encode func(*protocol.Writer) error,
	expect ...protocol.MethodID) (*frame.Method, error) {
	if err := c.send(ch, classID, methodID, encode); err != nil {
		return nil, err
	}
	return c.await(ctx, ch, expect...)
}

func (cfg HandshakeConfig) withDefaults() HandshakeConfig {
	if cfg.ChannelMax == 0 {
		cfg.ChannelMax = DefaultChannelMax
	}
	if cfg.FrameMax == 0 {
		cfg.FrameMax = DefaultFrameMax
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	return cfg
}

type startArgs struct {
	major, minor uint8
	properties   protocol.Table
	mechanisms   string
	locales      string
}

func readStart(m *frame.Method) (*startArgs, error) {
	r := m.Reader()
	s := &startArgs{}

	var err error
	if s.major, err = r.ReadOctet(); err != nil {
		return nil, err
	}
	if s.minor, err = r.ReadOctet(); err != nil {
		return nil, err
	}
	if s.properties, err = r.ReadTable(); err != nil {
		return nil, err
	}
	mechanisms, err := r.ReadLongStr()
	if err != nil {
		return nil, err
	}
	locales, err := r.ReadLongStr()
	if err != nil {
		return nil, err
	}
	s.mechanisms = string(mechanisms)
	s.locales = string(locales)
	return s, nil
}

// negotiateShort applies the tune rule: zero on either side means no limit,
// otherwise the client may only lower the server value
func negotiateShort(server, client uint16) uint16 {
	if server == 0 {
		return client
	}
	if client == 0 || client > server {
		return server
	}
	return client
}

func negotiateLong(server, client uint32) uint32 {
	if server == 0 {
		return client
	}
	if client == 0 || client > server {
		return server
	}
	return client
}

func heartbeatSeconds(d time.Duration) uint16 {
	s := d / time.Second
	if s > 0xFFFF {
		return 0xFFFF
	}
	return uint16(s)
}

// DefaultClientProperties describes this client in Connection.Start-Ok
func DefaultClientProperties() protocol.Table {
	return protocol.Table{
		"product":  protocol.LongString("MonsterMQ"),
		"platform": protocol.LongString("Go"),
		"version":  protocol.LongString(Version),
		"capabilities": protocol.Table{
			"publisher_confirms":           protocol.Boolean(true),
			"exchange_exchange_bindings":   protocol.Boolean(true),
			"basic.nack":                   protocol.Boolean(true),
			"consumer_cancel_notify":       protocol.Boolean(true),
			"connection.blocked":           protocol.Boolean(true),
			"authentication_failure_close": protocol.Boolean(true),
		},
	}
}

// Version is reported to the server in the client properties
const Version = "0.4.0"

// Close sends Connection.Close and waits for Close-Ok, bounded by ctx and
// the close timeout. A caller blocked reading the connection, such as an idle
// consumer, is cut off first. When the wait fails the transport is closed
// anyway.
func (c Connection) Close(ctx context.Context, code uint16, text string) error {
	if !c.state.BeginClosing() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, c.closeTimeout)
	defer cancel()

	c.t.Interrupt()
	if err := c.calls.Acquire(ctx, 1); err != nil {
		c.terminate()
		c.logger.Warn("connection close did not complete", zap.Error(err))
		return &protocol.ConnectionError{Op: "close", Err: err}
	}
	defer c.release()

	if c.state.Phase() == PhaseClosed {
		return ErrClosed
	}
	c.t.Resume()
	c.stopHeartbeat()

	err := c.send(0, protocol.ClassConnection, protocol.MethodConnectionClose, func(w *protocol.Writer) error {
		_ = w.WriteShort(code)
		if err := w.WriteShortStr(truncate(text, 255)); err != nil {
			return err
		}
		_ = w.WriteShort(0)
		return w.WriteShort(0)
	})
	if err == nil {
		_, err = c.await(ctx, 0, protocol.ID(protocol.ClassConnection, protocol.MethodConnectionCloseOk))
	}

	c.terminate()
	if err != nil {
		c.logger.Warn("connection close did not complete", zap.Error(err))
		var connErr *protocol.ConnectionError
		if errors.As(err, &connErr) {
			return err
		}
		return &protocol.ConnectionError{Op: "close", Err: err}
	}

	c.logger.Info("connection closed", zap.Uint16("code", code))
	return nil
}
