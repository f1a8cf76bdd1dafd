// Package ws owns the websocket side of the relay: one connection actor per
// live socket, translating between wire events and hub messages.
package ws

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/luis10barbo/chatapp/internal/wire"
)

const writeWait = 10 * time.Second

// Client is a connection actor. The hub pushes events into send; writePump is
// the only goroutine writing data frames, so socket writes never race.
type Client struct {
	conn *websocket.Conn
	send chan wire.Event
	echo chan []byte
	done chan struct{}

	userID       int64
	pingInterval time.Duration
	pongTimeout  time.Duration
	maxMsgSize   int64
	log          *zap.SugaredLogger
}

func newClient(conn *websocket.Conn, userID int64, pingInterval, pongTimeout time.Duration, maxMsgSize int64, log *zap.SugaredLogger) *Client {
	return &Client{
		conn:         conn,
		send:         make(chan wire.Event, 256),
		echo:         make(chan []byte, 8),
		done:         make(chan struct{}),
		userID:       userID,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		maxMsgSize:   maxMsgSize,
		log:          log,
	}
}

// outbound is the channel the hub registers as this user's session.
func (c *Client) outbound() chan<- wire.Event {
	return c.send
}

// writePump forwards hub events as text frames and pings the peer on a fixed
// interval. It exits when the reader is done or the socket fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			b, err := ev.Encode()
			if err != nil {
				c.log.Errorw("encode event", "user", c.userID, "kind", ev.Type, "err", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Debugw("write frame", "user", c.userID, "err", err)
				return
			}
		case b := <-c.echo:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("PING"), time.Now().Add(writeWait)); err != nil {
				c.log.Debugw("ping", "user", c.userID, "err", err)
				return
			}
		}
	}
}

// readPump consumes inbound frames until the connection dies. Any ping/pong
// traffic counts as liveness; a peer silent past the pong timeout fails the
// read deadline and the connection is torn down.
func (c *Client) readPump(onText func(string)) {
	defer close(c.done)

	c.conn.SetReadLimit(c.maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			// close frames, liveness timeouts and protocol errors all land
			// here; membership cleanup happens in the handler's teardown
			c.log.Debugw("read frame", "user", c.userID, "err", err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		switch mt {
		case websocket.TextMessage:
			if onText != nil {
				onText(string(data))
			}
		case websocket.BinaryMessage:
			select {
			case c.echo <- data:
			default:
			}
		}
	}
}
