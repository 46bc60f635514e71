package monstermq

import (
	"time"

	"go.uber.org/zap"
)

// FactoryOption is a functional option for ConnectionFactory
type FactoryOption func(*ConnectionFactory)

// WithHost sets the host to connect to
func WithHost(host string) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Host = host
	}
}

// WithPort sets the port to connect to
func WithPort(port int) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Port = port
	}
}

// WithCredentials sets the username and password
func WithCredentials(username, password string) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Username = username
		cf.Password = password
	}
}

// WithVHost sets the virtual host
func WithVHost(vhost string) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.VHost = vhost
	}
}

// WithWebSocket connects through an AMQP-over-WebSocket relay at url
// instead of plain TCP
func WithWebSocket(url string) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.WebSocketURL = url
	}
}

// WithConnectionTimeout sets the dial timeout
func WithConnectionTimeout(timeout time.Duration) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.ConnectionTimeout = timeout
	}
}

// WithHandshakeTimeout sets the handshake timeout
func WithHandshakeTimeout(timeout time.Duration) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.HandshakeTimeout = timeout
	}
}

// WithReadTimeout bounds every wait for a frame
func WithReadTimeout(timeout time.Duration) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.ReadTimeout = timeout
	}
}

// WithCloseTimeout bounds the wait for Close-Ok
func WithCloseTimeout(timeout time.Duration) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.CloseTimeout = timeout
	}
}

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(interval time.Duration) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Heartbeat = interval
	}
}

// WithChannelMax sets the maximum number of channels
func WithChannelMax(limit uint16) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.ChannelMax = limit
	}
}

// WithFrameMax sets the maximum frame size
func WithFrameMax(limit uint32) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.FrameMax = limit
	}
}

// WithMechanisms sets the SASL mechanisms in order of preference
func WithMechanisms(names ...string) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Mechanisms = names
	}
}

// WithClientProperties sets custom client properties
func WithClientProperties(properties Table) FactoryOption {
	return func(cf *ConnectionFactory) {
		if cf.ClientProperties == nil {
			cf.ClientProperties = make(Table)
		}
		for k, v := range properties {
			cf.ClientProperties[k] = v
		}
	}
}

// WithClientProperty sets a single client property
func WithClientProperty(key string, value interface{}) FactoryOption {
	return func(cf *ConnectionFactory) {
		if cf.ClientProperties == nil {
			cf.ClientProperties = make(Table)
		}
		cf.ClientProperties[key] = value
	}
}

// WithErrorHandler sets a custom error handler
func WithErrorHandler(handler ErrorHandler) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.ErrorHandler = handler
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) FactoryOption {
	return func(cf *ConnectionFactory) {
		cf.Metrics = metrics
	}
}
