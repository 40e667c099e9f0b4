package feed

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
)

// Conn is the minimal connection surface the hub needs. Production
// uses the websocket wrapper below; tests inject scripted fakes.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes one connection attempt.
type Dialer func(ctx context.Context) (Conn, error)

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := w.c.ReadMessage()
	return data, err
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}

// WebsocketDialer dials the upstream feed endpoint.
func WebsocketDialer(url string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "dial feed %s", url)
		}
		return &wsConn{c: c}, nil
	}
}
