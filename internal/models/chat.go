package models

import "time"

// ChatMessage is a room-scoped chat entry. IDs are generated client side so a
// message can be echoed back and matched for read receipts.
type ChatMessage struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Content   string    `json:"content"`
	Type      string    `json:"type"` // text, image or file
	FileURL   string    `json:"fileUrl,omitempty"`
	ReadBy    []string  `json:"readBy"`
	Timestamp time.Time `json:"timestamp"`
}

// Stationery styles a letter is written on.
const (
	StationeryCream    = "cream"
	StationeryRose     = "rose"
	StationeryMidnight = "midnight"
)

// Letter is a long-form message persisted per username, delivered whenever
// the recipient is online.
type Letter struct {
	ID           string    `json:"id"`
	FromUsername string    `json:"fromUsername"`
	ToUsername   string    `json:"toUsername"`
	Subject      string    `json:"subject"`
	Content      string    `json:"content"`
	Stationery   string    `json:"stationery"`
	IsRead       bool      `json:"isRead"`
	Timestamp    time.Time `json:"timestamp"`
}

// MarkReadPayload marks a room chat message as read by a user.
type MarkReadPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// MarkLetterReadPayload marks a letter as read.
type MarkLetterReadPayload struct {
	LetterID string `json:"letterId"`
}
