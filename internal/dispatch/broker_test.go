package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goootlib/MonsterMQ-sub000/internal/amqptest"
	"github.com/goootlib/MonsterMQ-sub000/internal/frame"
	"github.com/goootlib/MonsterMQ-sub000/internal/transport"
)

// script starts a scripted broker and dials it. The returned wait function
// must be called once the client is done.
func script(t *testing.T, fn func(ctx context.Context, b *amqptest.Broker) error) (*frame.Transceiver, func() error) {
	t.Helper()

	srv := amqptest.Serve(t, fn)
	conn, err := transport.DialTCP(context.Background(), srv.Addr(), time.Second)
	require.NoError(t, err)

	return frame.NewTransceiver(conn, frame.WithReadTimeout(5*time.Second)), srv.Wait
}

// connect runs the client handshake as guest/guest with heartbeats off
func connect(t *testing.T, tr *frame.Transceiver, opts ...Option) *Dispatchers {
	t.Helper()

	d := New(tr, opts...)
	_, err := d.Connection.Handshake(context.Background(), HandshakeConfig{
		Username:  "guest",
		Password:  "guest",
		VHost:     "/",
		Heartbeat: -1,
	})
	require.NoError(t, err)
	return d
}
