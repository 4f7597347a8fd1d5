package httpdriver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/augustoroman/relay"
)

// closeGracePeriod bounds how long writing a close frame may take.
const closeGracePeriod = time.Second

// wsConn adapts one websocket upgrade request to socket events. The
// connection is only upgraded once the socket handler accepts it; a handler
// that rejects the handshake gets a plain 403.
type wsConn struct {
	d *Driver
	w http.ResponseWriter
	r *http.Request

	connected bool
	conn      *websocket.Conn
	inbound   chan relay.Event
	done      chan struct{}
	closeOnce sync.Once
	rejected  bool
}

func (d *Driver) serveSocket(w http.ResponseWriter, r *http.Request) {
	serve, err := d.gw.Accept(scope(relay.KindSocket, r))
	if err != nil {
		d.log.Error("cannot accept socket", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	c := &wsConn{d: d, w: w, r: r, inbound: make(chan relay.Event, 1), done: make(chan struct{})}
	defer c.shutdown()

	if err := serve(r.Context(), c.receive, c.send); err != nil {
		d.log.Warn("socket failed", zap.String("path", r.URL.Path), zap.Error(err))
		if c.conn == nil && !c.rejected {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

func (c *wsConn) receive(ctx context.Context) (relay.Event, error) {
	if !c.connected {
		c.connected = true
		return relay.Event{Type: relay.EventSocketConnect}, nil
	}
	if c.conn == nil {
		return relay.Event{Type: relay.EventSocketDisconnect, Code: websocket.CloseAbnormalClosure}, nil
	}
	select {
	case ev := <-c.inbound:
		return ev, nil
	case <-ctx.Done():
		return relay.Event{}, ctx.Err()
	}
}

func (c *wsConn) send(ctx context.Context, ev relay.Event) error {
	switch ev.Type {
	case relay.EventSocketAccept:
		if c.conn != nil {
			return &relay.ConnectivityError{Reason: "socket accepted twice"}
		}
		var h http.Header
		if ev.Subprotocol != "" {
			h = http.Header{"Sec-Websocket-Protocol": {ev.Subprotocol}}
		}
		conn, err := c.d.upgrader.Upgrade(c.w, c.r, h)
		if err != nil {
			// The upgrader has already replied to the client.
			c.rejected = true
			return err
		}
		c.conn = conn
		go c.read()
		return nil

	case relay.EventSocketClose:
		if c.conn == nil {
			c.rejected = true
			http.Error(c.w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return nil
		}
		msg := websocket.FormatCloseMessage(ev.Code, ev.Reason)
		return c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))

	case relay.EventSocketSend:
		if c.conn == nil {
			return &relay.ConnectivityError{Reason: "socket.send before socket.accept"}
		}
		if ev.Text != nil {
			return c.conn.WriteMessage(websocket.TextMessage, []byte(*ev.Text))
		}
		return c.conn.WriteMessage(websocket.BinaryMessage, ev.Bytes)
	}
	return &relay.ConnectivityError{Reason: "unexpected " + ev.Type + " event on a socket"}
}

// read pumps client frames into the inbound channel until the connection
// fails or is closed, which is reported as a single disconnect event.
func (c *wsConn) read() {
	for {
		typ, data, err := c.conn.ReadMessage()
		var ev relay.Event
		switch {
		case err != nil:
			code := websocket.CloseAbnormalClosure
			var cerr *websocket.CloseError
			if errors.As(err, &cerr) {
				code = cerr.Code
			}
			ev = relay.Event{Type: relay.EventSocketDisconnect, Code: code}
		case typ == websocket.TextMessage:
			ev = relay.SocketReceiveText(string(data))
		default:
			ev = relay.SocketReceiveBytes(data)
		}
		select {
		case c.inbound <- ev:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
