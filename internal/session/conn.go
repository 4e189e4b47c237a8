package session

import (
	"context"

	"github.com/coder/websocket"

	"github.com/tabwire/tabwire/internal/wire"
)

// Conn abstracts a message-oriented full-duplex transport so tests can
// substitute in-memory pipes.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a Conn to the given address.
type Dialer func(ctx context.Context, url string) (Conn, error)

type wsConn struct {
	c       *websocket.Conn
	msgType websocket.MessageType
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, w.msgType, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "closing")
}

// DialWebSocket returns the default websocket dialer. Binary-mode frames are
// sent as binary messages, text-mode frames as text messages.
func DialWebSocket(mode wire.Mode) Dialer {
	msgType := websocket.MessageBinary
	if mode == wire.ModeText {
		msgType = websocket.MessageText
	}
	return func(ctx context.Context, url string) (Conn, error) {
		c, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return &wsConn{c: c, msgType: msgType}, nil
	}
}

// WrapConn adapts an accepted websocket connection to the Conn interface.
func WrapConn(c *websocket.Conn, mode wire.Mode) Conn {
	msgType := websocket.MessageBinary
	if mode == wire.ModeText {
		msgType = websocket.MessageText
	}
	return &wsConn{c: c, msgType: msgType}
}

// Probe opens a transport to url and closes it immediately, reporting only
// reachability. No handshake is attempted and no socket is held open.
func Probe(ctx context.Context, dial Dialer, url string) bool {
	conn, err := dial(ctx, url)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
