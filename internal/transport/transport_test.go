package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()

	tr, err := DialTCP(context.Background(), ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Write([]byte("AMQP\x00\x00\x09\x01"))
	require.NoError(t, err)

	require.NoError(t, tr.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 8)
	_, err = io.ReadFull(tr, buf)
	require.NoError(t, err)
	assert.Equal(t, "AMQP\x00\x00\x09\x01", string(buf))
}

func TestDialTCPRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = DialTCP(context.Background(), addr, time.Second)
	assert.Error(t, err)
}

func TestWebSocketStream(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{"amqp"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Echo every message back split in two, to prove boundaries do not matter.
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			half := len(data) / 2
			_ = conn.WriteMessage(mt, data[:half])
			_ = conn.WriteMessage(mt, data[half:])
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := DialWebSocket(context.Background(), url, time.Second)
	require.NoError(t, err)
	defer ws.Close()

	_, err = ws.Write([]byte("hello world"))
	require.NoError(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	buf := make([]byte, 11)
	_, err = io.ReadFull(ws, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf))
}
