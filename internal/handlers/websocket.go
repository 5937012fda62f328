package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Imok282/glassmeet/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// HandleSignaling upgrades the connection and hands it to the relay. Each
// connection gets a fresh ephemeral id; identity comes later via the login
// envelope. Rooms are joined over the socket, not in the URL, so one
// connection serves the lobby and any number of rooms.
func HandleSignaling(r *relay.Relay) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		client := relay.NewClient(uuid.New().String(), conn)
		r.Connect(client)

		go client.WritePump()
		go client.ReadPump(r)
	}
}
