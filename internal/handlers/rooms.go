package handlers

import (
	"crypto/rand"
	"encoding/json"
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Imok282/glassmeet/internal/models"
	"github.com/Imok282/glassmeet/internal/redis"
	"github.com/Imok282/glassmeet/internal/relay"
)

const (
	roomCodeLength = 6
	roomTTL        = 24 * time.Hour
	codeChars      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

// CreateRoom creates a new room (requires authentication)
func CreateRoom(c *gin.Context) {
	if !requireRoomStorage(c) {
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Rooms are built for pairs; allow small groups
	if req.MaxParticipants == 0 {
		req.MaxParticipants = 2
	}

	// Generate unique room ID and code
	roomID := uuid.New().String()
	roomCode := generateRoomCode()

	room := models.RoomMetadata{
		ID:              roomID,
		Code:            roomCode,
		CreatorID:       userID.(string),
		CreatedAt:       time.Now(),
		MaxParticipants: req.MaxParticipants,
	}

	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	roomData, err := json.Marshal(room)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	if err := redisClient.Set(ctx, "room:"+roomID, roomData, roomTTL).Err(); err != nil {
		log.Printf("Failed to store room in Redis: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	// Store code-to-ID mapping for easy lookup
	if err := redisClient.Set(ctx, "code:"+roomCode, roomID, roomTTL).Err(); err != nil {
		log.Printf("Failed to store room code in Redis: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	log.Printf("Room created: %s (code: %s) by user %s", roomID, roomCode, userID)

	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		RoomID: roomID,
		Code:   roomCode,
	})
}

// GetRoom gets room information by code or ID (public). The live member count
// comes from the broadcast fabric, not storage: membership is whoever is
// subscribed right now.
func GetRoom(fabric *relay.Fabric) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireRoomStorage(c) {
			return
		}

		roomIdentifier := c.Param("roomId")

		room, roomID, err := lookupRoom(roomIdentifier)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}

		room.ParticipantCount = fabric.MemberCount(roomID)
		c.JSON(http.StatusOK, room)
	}
}

// DeleteRoom deletes a room's metadata (requires authentication and creator).
// Live members are unaffected; the signaling room itself exists only through
// membership and disappears with its last member.
func DeleteRoom(c *gin.Context) {
	if !requireRoomStorage(c) {
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	roomID := c.Param("roomId")

	room, roomID, err := lookupRoom(roomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}

	if room.CreatorID != userID.(string) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	redisClient := redis.GetClient()
	ctx := redis.GetContext()
	redisClient.Del(ctx, "room:"+roomID)
	redisClient.Del(ctx, "code:"+room.Code)

	log.Printf("Room deleted: %s by user %s", roomID, userID)

	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// requireRoomStorage rejects the request when the process is running without
// redis. Signaling and chat degrade to memory, but room metadata has no
// fallback; the API says so instead of panicking.
func requireRoomStorage(c *gin.Context) bool {
	if redis.GetClient() == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Room storage unavailable"})
		return false
	}
	return true
}

// lookupRoom resolves a short code or UUID to room metadata.
func lookupRoom(roomIdentifier string) (*models.RoomMetadata, string, error) {
	redisClient := redis.GetClient()
	ctx := redis.GetContext()

	roomID := roomIdentifier

	// Check if it's a code (6 chars) vs UUID
	if len(roomIdentifier) == roomCodeLength {
		id, err := redisClient.Get(ctx, "code:"+roomIdentifier).Result()
		if err != nil {
			return nil, "", err
		}
		roomID = id
	}

	roomData, err := redisClient.Get(ctx, "room:"+roomID).Result()
	if err != nil {
		return nil, "", err
	}

	var room models.RoomMetadata
	if err := json.Unmarshal([]byte(roomData), &room); err != nil {
		return nil, "", err
	}

	return &room, roomID, nil
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
