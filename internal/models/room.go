package models

import "time"

// RoomMetadata stores information about a room created through the REST API.
// Signaling itself treats rooms as opaque names; metadata only backs the
// shareable code lookup and the lobby listing.
type RoomMetadata struct {
	ID               string    `json:"id"`
	Code             string    `json:"code"` // Short, shareable room code (e.g., "ABCD123")
	CreatorID        string    `json:"creatorId"`
	CreatedAt        time.Time `json:"createdAt"`
	MaxParticipants  int       `json:"maxParticipants"`
	ParticipantCount int       `json:"participantCount"`
}

// CreateRoomRequest is the request body for creating a room
type CreateRoomRequest struct {
	MaxParticipants int `json:"maxParticipants" binding:"min=0,max=16"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}
