package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leandrodaf/faderws/sdk/contracts"
)

// client adapts a websocket connection to hub.Sink. Send is only called by
// the hub's writer goroutine; pings go through WriteControl, which gorilla
// allows concurrently with it.
type client struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func newClient(conn *websocket.Conn, writeTimeout time.Duration) *client {
	return &client{conn: conn, writeTimeout: writeTimeout}
}

func (c *client) Send(payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrClientTransport, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrClientTransport, err)
	}
	return nil
}

// Close sends a going-away frame on a best effort basis and releases the
// connection, unblocking any pending Send or read.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// readLoop discards inbound frames and returns once the connection fails or
// stays silent, pongs included, for longer than idle.
func (c *client) readLoop(idle time.Duration) error {
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	if err := extend(); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
		if err := extend(); err != nil {
			return err
		}
	}
}

// keepalive pings every interval until done is closed. A failed ping closes
// the connection, which ends readLoop.
func (c *client) keepalive(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
