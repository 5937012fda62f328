package models

// Profile describes a participant. ConnectionID is reassigned on every
// reconnect; Username is the stable key for anything that must survive one.
type Profile struct {
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	IsHost       bool   `json:"isHost"`
	IsHandRaised bool   `json:"isHandRaised"`
}

// JoinRoomPayload is carried by a join-room envelope.
type JoinRoomPayload struct {
	Profile Profile `json:"profile"`
}

// PeerArrivedPayload announces a new room member to existing members. The
// existing members become initiators toward the arrival.
type PeerArrivedPayload struct {
	ConnectionID string  `json:"connectionId"`
	Profile      Profile `json:"profile"`
}

// DirectMessage is a lobby chat message routed by username.
type DirectMessage struct {
	ID           string `json:"id"`
	FromUsername string `json:"fromUsername"`
	ToUsername   string `json:"toUsername"`
	Content      string `json:"content"`
	Timestamp    string `json:"timestamp"`
}

// CallInvite asks another user to join a room. Delivered to every connection
// the target username currently has.
type CallInvite struct {
	FromUser Profile `json:"fromUser"`
	RoomID   string  `json:"roomId"`
}
