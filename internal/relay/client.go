package relay

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Imok282/glassmeet/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client represents one WebSocket connection to the relay. ID is the
// ephemeral connection id; a reconnecting user gets a fresh one.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// NewClient wraps an upgraded connection. conn may be nil in tests that only
// exercise the Send queue.
func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, 256),
	}
}

// SendEnvelope queues an envelope for delivery. A full buffer drops the
// message rather than blocking the relay.
func (c *Client) SendEnvelope(env models.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("Failed to marshal %s envelope: %v", env.Event, err)
		return
	}

	select {
	case c.Send <- data:
	default:
		log.Printf("Failed to send %s to connection %s, buffer full", env.Event, c.ID)
	}
}

// ReadPump reads envelopes off the socket and hands them to the relay. It
// owns disconnect cleanup: presence unregistration and room departures happen
// when the read loop exits, whatever the reason.
func (c *Client) ReadPump(r *Relay) {
	defer func() {
		r.Disconnect(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("Failed to parse envelope from %s: %v", c.ID, err)
			continue
		}

		r.Dispatch(c, env)
	}
}

// WritePump drains the Send queue onto the socket and keeps the connection
// alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
