package models

import (
	"encoding/json"
	"fmt"
)

// EventType identifies a signaling or application event on the wire
type EventType string

const (
	// Lobby / presence
	EventLogin            EventType = "login"
	EventPresenceSnapshot EventType = "presence-snapshot"

	// Room membership
	EventJoinRoom    EventType = "join-room"
	EventLeaveRoom   EventType = "leave-room"
	EventPeerArrived EventType = "peer-arrived"
	EventPeerLeft    EventType = "peer-left"

	// WebRTC signaling, forwarded verbatim by connection id
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "ice-candidate"

	// Username-addressed application messages
	EventDirectMessage EventType = "direct-message"
	EventCallInvite    EventType = "call-invite"
	EventIncomingCall  EventType = "incoming-call"

	// Room chat
	EventSendMessage    EventType = "send-message"
	EventReceiveMessage EventType = "receive-message"
	EventChatHistory    EventType = "chat-history"
	EventMarkRead       EventType = "mark-read"
	EventMessageRead    EventType = "message-read"
	EventTyping         EventType = "typing"

	// Letters (long-form, persisted per username)
	EventSendLetter     EventType = "send-letter"
	EventReceiveLetter  EventType = "receive-letter"
	EventLetterHistory  EventType = "letter-history"
	EventMarkLetterRead EventType = "mark-letter-read"

	// Room feature sync (opaque to the relay)
	EventDraw          EventType = "draw"
	EventClearBoard    EventType = "clear-board"
	EventToggleHand    EventType = "toggle-hand"
	EventReaction      EventType = "reaction"
	EventTouchSurface  EventType = "touch-surface"
	EventSyncMusic     EventType = "sync-music"
	EventSendKiss      EventType = "send-kiss"
	EventSyncCountdown EventType = "sync-countdown"
	EventSyncNote      EventType = "sync-note"
	EventDrawCard      EventType = "draw-card"
	EventSyncStars     EventType = "sync-stars"
	EventShootingStar  EventType = "shooting-star"
	EventSyncBreathing EventType = "sync-breathing"
	EventSyncDateMode  EventType = "sync-date-mode"

	EventError EventType = "error"
)

// Envelope is the wire shape of every message exchanged with the relay.
//
// Signaling events (offer, answer, ice-candidate) are addressed by ephemeral
// connection id via Target. Application messages that must survive reconnects
// (direct-message, call-invite, send-letter) are addressed by durable username
// via TargetUsername instead. The relay reads only the routing fields; Payload
// is forwarded untouched.
type Envelope struct {
	Event          EventType       `json:"event"`
	Room           string          `json:"room,omitempty"`
	Sender         string          `json:"sender,omitempty"`
	SenderUsername string          `json:"senderUsername,omitempty"`
	Target         string          `json:"target,omitempty"`
	TargetUsername string          `json:"targetUsername,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// IsSignal reports whether the event is one of the three WebRTC negotiation
// kinds that are forwarded verbatim by connection id.
func (e EventType) IsSignal() bool {
	return e == EventOffer || e == EventAnswer || e == EventICECandidate
}

// Validate checks the routing invariants for the discriminated union. It never
// inspects Payload.
func (env *Envelope) Validate() error {
	if env.Event == "" {
		return fmt.Errorf("envelope missing event")
	}
	if env.Event.IsSignal() {
		if env.Target == "" {
			return fmt.Errorf("%s envelope missing target", env.Event)
		}
		if env.Sender == "" {
			return fmt.Errorf("%s envelope missing sender", env.Event)
		}
		return nil
	}
	switch env.Event {
	case EventDirectMessage, EventCallInvite, EventSendLetter:
		if env.TargetUsername == "" {
			return fmt.Errorf("%s envelope missing targetUsername", env.Event)
		}
	}
	return nil
}
