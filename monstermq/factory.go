package monstermq

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/goootlib/MonsterMQ-sub000/internal/auth"
	"github.com/goootlib/MonsterMQ-sub000/internal/dispatch"
	"github.com/goootlib/MonsterMQ-sub000/internal/frame"
	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
	"github.com/goootlib/MonsterMQ-sub000/internal/transport"
)

// ConnectionFactory creates and configures AMQP connections
type ConnectionFactory struct {
	// Connection settings
	Host     string
	Port     int
	VHost    string
	Username string
	Password string

	// WebSocketURL, when set, replaces Host and Port with a WebSocket relay
	WebSocketURL string

	// Timeouts
	ConnectionTimeout time.Duration
	HandshakeTimeout  time.Duration
	ReadTimeout       time.Duration
	CloseTimeout      time.Duration

	// AMQP parameters. Zero ChannelMax and FrameMax use the client limits
	// 2047 and 131072; zero Heartbeat disables heartbeats.
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  time.Duration

	// Mechanisms lists SASL mechanism names in order of preference
	Mechanisms []string

	// Client properties sent to server, merged over the defaults
	ClientProperties Table

	ErrorHandler ErrorHandler
	Logger       *zap.Logger
	Metrics      MetricsCollector
}

// NewConnectionFactory creates a new ConnectionFactory with sensible defaults
func NewConnectionFactory(opts ...FactoryOption) *ConnectionFactory {
	cf := &ConnectionFactory{
		Host:              "localhost",
		Port:              5672,
		VHost:             "/",
		Username:          "guest",
		Password:          "guest",
		ConnectionTimeout: 60 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		ReadTimeout:       frame.DefaultReadTimeout,
		CloseTimeout:      dispatch.DefaultCloseTimeout,
		Heartbeat:         dispatch.DefaultHeartbeat,
		Mechanisms:        []string{"AMQPLAIN", "PLAIN"},
	}

	for _, opt := range opts {
		opt(cf)
	}
	cf.defaults()

	return cf
}

func (cf *ConnectionFactory) defaults() {
	if cf.Logger == nil {
		cf.Logger = zap.NewNop()
	}
	if cf.Metrics == nil {
		cf.Metrics = NoOpMetricsCollector{}
	}
	if cf.ErrorHandler == nil {
		cf.ErrorHandler = &DefaultErrorHandler{Logger: cf.Logger}
	}
}

// NewConnection dials the broker and runs the handshake. The handshake is
// bounded by HandshakeTimeout as well as ctx.
func (cf *ConnectionFactory) NewConnection(ctx context.Context) (*Connection, error) {
	cf.defaults()
	if err := cf.Validate(); err != nil {
		return nil, err
	}

	cfg, err := cf.handshakeConfig()
	if err != nil {
		return nil, err
	}

	conn, err := cf.dial(ctx)
	if err != nil {
		cf.Metrics.ConnectionError(err)
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	c := newConnection(cf)
	tr := frame.NewTransceiver(conn,
		frame.WithLogger(cf.Logger),
		frame.WithReadTimeout(cf.ReadTimeout))
	c.d = dispatch.New(tr,
		dispatch.WithSink(dispatch.SinkFunc(c.dispatchEvent)),
		dispatch.WithLogger(cf.Logger),
		dispatch.WithCloseTimeout(cf.CloseTimeout))

	hctx := ctx
	if cf.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, cf.HandshakeTimeout)
		defer cancel()
	}

	session, err := c.d.Connection.Handshake(hctx, cfg)
	if err != nil {
		cf.Metrics.ConnectionError(err)
		return nil, err
	}
	c.opened(session)

	cf.Metrics.ConnectionCreated()
	return c, nil
}

// dial opens the transport: a WebSocket when WebSocketURL is set, TCP
// otherwise
func (cf *ConnectionFactory) dial(ctx context.Context) (transport.Transport, error) {
	if cf.WebSocketURL != "" {
		return transport.DialWebSocket(ctx, cf.WebSocketURL, cf.ConnectionTimeout)
	}
	return transport.DialTCP(ctx, cf.Addr(), cf.ConnectionTimeout)
}

// Addr returns the "host:port" dialed over TCP
func (cf *ConnectionFactory) Addr() string {
	return net.JoinHostPort(cf.Host, strconv.Itoa(cf.Port))
}

func (cf *ConnectionFactory) handshakeConfig() (dispatch.HandshakeConfig, error) {
	mechs := make([]auth.Mechanism, 0, len(cf.Mechanisms))
	for _, name := range cf.Mechanisms {
		m, err := auth.ByName(name)
		if err != nil {
			return dispatch.HandshakeConfig{}, err
		}
		mechs = append(mechs, m)
	}

	props := dispatch.DefaultClientProperties()
	if len(cf.ClientProperties) > 0 {
		extra, err := protocol.NewTable(cf.ClientProperties)
		if err != nil {
			return dispatch.HandshakeConfig{}, errors.Wrap(err, "client properties")
		}
		for k, v := range extra {
			props[k] = v
		}
	}

	heartbeat := cf.Heartbeat
	if heartbeat == 0 {
		heartbeat = -1
	}

	return dispatch.HandshakeConfig{
		Username:         cf.Username,
		Password:         cf.Password,
		VHost:            cf.VHost,
		ChannelMax:       cf.ChannelMax,
		FrameMax:         cf.FrameMax,
		Heartbeat:        heartbeat,
		ClientProperties: props,
		Mechanisms:       mechs,
	}, nil
}

// Validate validates the ConnectionFactory configuration
func (cf *ConnectionFactory) Validate() error {
	if cf.WebSocketURL == "" {
		if cf.Host == "" {
			return fmt.Errorf("host cannot be empty")
		}
		if cf.Port <= 0 || cf.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", cf.Port)
		}
	}

	if cf.VHost == "" {
		return fmt.Errorf("vhost cannot be empty")
	}
	if cf.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	if cf.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout cannot be negative, got %v", cf.ConnectionTimeout)
	}
	if cf.HandshakeTimeout < 0 {
		return fmt.Errorf("handshake timeout cannot be negative, got %v", cf.HandshakeTimeout)
	}
	if cf.ReadTimeout < 0 {
		return fmt.Errorf("read timeout cannot be negative, got %v", cf.ReadTimeout)
	}
	if cf.CloseTimeout < 0 {
		return fmt.Errorf("close timeout cannot be negative, got %v", cf.CloseTimeout)
	}

	// 0 means disabled
	if cf.Heartbeat < 0 {
		return fmt.Errorf("heartbeat cannot be negative, got %v", cf.Heartbeat)
	}
	if cf.Heartbeat > 0 && cf.Heartbeat < time.Second {
		return fmt.Errorf("heartbeat must be 0 or at least 1s, got %v", cf.Heartbeat)
	}

	if cf.FrameMax != 0 && cf.FrameMax < protocol.FrameMinSize {
		return fmt.Errorf("frame max must be 0 or >= %d, got %d", protocol.FrameMinSize, cf.FrameMax)
	}

	if len(cf.Mechanisms) == 0 {
		return fmt.Errorf("at least one authentication mechanism is required")
	}
	for _, name := range cf.Mechanisms {
		if _, err := auth.ByName(name); err != nil {
			return fmt.Errorf("mechanism %q: %v", name, err)
		}
	}

	return nil
}
