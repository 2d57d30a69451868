// internal/client/transport.go
package client

import (
	"context"

	"github.com/coder/websocket"
)

// Transport dials session sockets. Injected so the reconnect machinery can
// be exercised against a fake in tests.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is one live socket.
type Conn interface {
	// Read blocks until the next text message arrives.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// WebsocketTransport dials real websocket connections speaking the session
// subprotocol.
type WebsocketTransport struct {
	Subprotocol string
}

func NewWebsocketTransport() *WebsocketTransport {
	return &WebsocketTransport{Subprotocol: "partyline"}
}

func (t *WebsocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{t.Subprotocol},
	})
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "client closed")
}
