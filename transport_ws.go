package jrpc

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport wraps a WebSocket connection as a transport.
type wsTransport struct {
	ws        *websocket.Conn
	send      chan []byte
	opts      ServerOptions
	closeOnce sync.Once
}

func newWSTransport(ws *websocket.Conn, opts ServerOptions) *wsTransport {
	return &wsTransport{
		ws:   ws,
		send: make(chan []byte, 256),
		opts: opts,
	}
}

func (t *wsTransport) Send(data []byte) error {
	select {
	case t.send <- data:
		return nil
	default:
		return nil // Drop message if buffer full
	}
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() { close(t.send) })
	return nil
}

func (t *wsTransport) CloseGracefully() error {
	// Send a WebSocket close frame to notify the client
	_ = t.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(5*time.Second),
	)
	t.closeOnce.Do(func() { close(t.send) })
	return nil
}

// readPump reads messages from the WebSocket and dispatches them to the connection.
func (t *wsTransport) readPump(conn *Conn) {
	defer func() {
		conn.server.unregister <- conn
		t.ws.Close()
	}()

	if t.opts.MaxMessageSize > 0 {
		t.ws.SetReadLimit(t.opts.MaxMessageSize)
	}
	t.ws.SetReadDeadline(time.Now().Add(t.opts.PingInterval + t.opts.PongTimeout))
	t.ws.SetPongHandler(func(string) error {
		t.ws.SetReadDeadline(time.Now().Add(t.opts.PingInterval + t.opts.PongTimeout))
		return nil
	})

	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			return
		}
		conn.handleIncoming(data)
	}
}

// writePump writes messages from the send channel to the WebSocket and
// keeps the connection alive with periodic pings.
func (t *wsTransport) writePump() {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer func() {
		ticker.Stop()
		t.ws.Close()
	}()

	for {
		select {
		case data, ok := <-t.send:
			if !ok {
				return
			}
			t.ws.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
			if err := t.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			t.ws.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout))
			if err := t.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
