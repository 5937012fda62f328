package session

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Imok282/glassmeet/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Signaler is the controller's view of the signaling channel. Send must be
// safe to call from any goroutine and must not block the caller.
type Signaler interface {
	Send(env models.Envelope)
	Incoming() <-chan models.Envelope
	Close()
}

// Client is the WebSocket signaling client. It mirrors the relay's pump
// structure: a read pump feeding Incoming and a write pump draining Send,
// with ping/pong keepalive.
type Client struct {
	conn     *websocket.Conn
	incoming chan models.Envelope
	outgoing chan models.Envelope
	done     chan struct{}
	closed   bool
}

// Dial connects to the relay's /ws endpoint.
func Dial(serverURL string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	c := &Client{
		conn:     conn,
		incoming: make(chan models.Envelope, 64),
		outgoing: make(chan models.Envelope, 64),
		done:     make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return c, nil
}

func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var env models.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		c.incoming <- env
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues an envelope for the relay. A full queue drops the envelope
// rather than stalling the caller.
func (c *Client) Send(env models.Envelope) {
	select {
	case c.outgoing <- env:
	case <-c.done:
	default:
	}
}

// Incoming returns the channel of envelopes from the relay. It closes when
// the connection drops.
func (c *Client) Incoming() <-chan models.Envelope {
	return c.incoming
}

// Close shuts the connection down.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
