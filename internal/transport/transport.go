package transport

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// DefaultDialTimeout bounds connection establishment when no timeout is given
const DefaultDialTimeout = 30 * time.Second

// Transport is the byte stream an AMQP connection runs over
type Transport interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

var _ Transport = (net.Conn)(nil)

// DialTCP opens a TCP connection to addr ("host:port")
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (Transport, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial tcp %s", addr)
	}

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	return conn, nil
}
