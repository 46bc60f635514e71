package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WebSocket carries the AMQP byte stream inside binary WebSocket messages,
// as spoken by AMQP-over-WebSocket relays. Message boundaries carry no
// meaning: reads drain one message after another.
type WebSocket struct {
	conn *websocket.Conn

	readMu sync.Mutex
	reader io.Reader

	// Write mutex to keep each Write in a single message
	writeMu sync.Mutex
}

var _ Transport = (*WebSocket)(nil)

// DialWebSocket connects to a ws:// or wss:// URL and negotiates the "amqp"
// subprotocol
func DialWebSocket(ctx context.Context, url string, timeout time.Duration) (*WebSocket, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: timeout,
		Subprotocols:     []string{"amqp"},
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial websocket %s", url)
	}

	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an established WebSocket connection
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

func (ws *WebSocket) Read(p []byte) (int, error) {
	ws.readMu.Lock()
	defer ws.readMu.Unlock()

	for {
		if ws.reader == nil {
			messageType, r, err := ws.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				return 0, errors.Errorf("unexpected websocket message type %d", messageType)
			}
			ws.reader = r
		}

		n, err := ws.reader.Read(p)
		if err == io.EOF {
			ws.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (ws *WebSocket) Write(p []byte) (int, error) {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	if err := ws.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, errors.Wrap(err, "failed to write message")
	}
	return len(p), nil
}

func (ws *WebSocket) SetReadDeadline(t time.Time) error {
	return ws.conn.SetReadDeadline(t)
}

// Close sends a close message and closes the underlying connection
func (ws *WebSocket) Close() error {
	ws.writeMu.Lock()
	_ = ws.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	ws.writeMu.Unlock()

	return ws.conn.Close()
}
