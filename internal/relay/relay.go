// Package relay forwards signaling and application messages between
// connections. It never interprets media payloads: signaling envelopes are
// routed by connection id, application messages by username through the
// presence registry, and everything else fans out to room members verbatim.
package relay

import (
	"context"
	"encoding/json"
	"log"

	"github.com/Imok282/glassmeet/internal/models"
	"github.com/Imok282/glassmeet/internal/presence"
	"github.com/Imok282/glassmeet/internal/store"
)

// featureEvents are room-scoped pass-through events the relay forwards
// without decoding. The value says whether the sender hears its own event
// (shared-surface events do, everything else is echo-suppressed).
var featureEvents = map[models.EventType]bool{
	models.EventTyping:        false,
	models.EventDraw:          false,
	models.EventClearBoard:    false,
	models.EventToggleHand:    false,
	models.EventReaction:      false,
	models.EventSyncMusic:     false,
	models.EventSendKiss:      false,
	models.EventSyncCountdown: false,
	models.EventSyncNote:      false,
	models.EventDrawCard:      false,
	models.EventSyncStars:     false,
	models.EventShootingStar:  false,
	models.EventSyncBreathing: false,
	models.EventSyncDateMode:  false,
	models.EventTouchSurface:  true,
}

// Relay wires the presence registry, the room fabric and the persistence
// collaborator together. All methods are safe for concurrent use; each
// connection's read pump calls Dispatch serially for its own messages.
type Relay struct {
	registry *presence.Registry
	fabric   *Fabric
	store    *store.Store
}

func New(registry *presence.Registry, fabric *Fabric, st *store.Store) *Relay {
	return &Relay{registry: registry, fabric: fabric, store: st}
}

// SnapshotPublisher returns the hook the presence registry calls after every
// change: a full online-user directory broadcast to every connection.
func SnapshotPublisher(fabric *Fabric) func([]models.Profile) {
	return func(snapshot []models.Profile) {
		payload, err := json.Marshal(snapshot)
		if err != nil {
			log.Printf("Failed to marshal presence snapshot: %v", err)
			return
		}
		fabric.BroadcastAll(models.Envelope{
			Event:   models.EventPresenceSnapshot,
			Payload: payload,
		})
	}
}

// Connect makes a new connection addressable. Presence registration happens
// later, when the client sends its login envelope.
func (r *Relay) Connect(c *Client) {
	r.fabric.Register(c)
	log.Printf("Connection %s established", c.ID)
}

// Disconnect tears down everything the connection held: presence entry (which
// publishes a fresh snapshot) and room memberships (announced as peer-left so
// remote orchestrators close their links).
func (r *Relay) Disconnect(c *Client) {
	rooms := r.fabric.Unregister(c)
	for _, name := range rooms {
		r.fabric.Broadcast(name, models.Envelope{
			Event:  models.EventPeerLeft,
			Room:   name,
			Sender: c.ID,
		}, c.ID)
	}
	r.registry.Unregister(c.ID)
	log.Printf("Connection %s closed", c.ID)
}

// Dispatch routes one inbound envelope. The sender field is always stamped
// server-side; clients cannot spoof each other's connection ids.
func (r *Relay) Dispatch(c *Client, env models.Envelope) {
	env.Sender = c.ID
	if err := env.Validate(); err != nil {
		log.Printf("Rejected envelope from %s: %v", c.ID, err)
		c.SendEnvelope(models.Envelope{Event: models.EventError, Error: err.Error()})
		return
	}

	ctx := context.Background()

	switch {
	case env.Event.IsSignal():
		// Verbatim forwarding. An unknown target is dropped silently; the
		// sender's orchestrator recovers at the room layer.
		r.fabric.Unicast(env.Target, env)

	case env.Event == models.EventLogin:
		r.handleLogin(ctx, c, env)

	case env.Event == models.EventJoinRoom:
		r.handleJoinRoom(ctx, c, env)

	case env.Event == models.EventLeaveRoom:
		r.fabric.Leave(c, env.Room)
		r.fabric.Broadcast(env.Room, models.Envelope{
			Event:  models.EventPeerLeft,
			Room:   env.Room,
			Sender: c.ID,
		}, c.ID)

	case env.Event == models.EventDirectMessage:
		r.fanOutToUsername(env.TargetUsername, env)

	case env.Event == models.EventCallInvite:
		r.handleCallInvite(c, env)

	case env.Event == models.EventSendMessage:
		r.handleSendMessage(ctx, env)

	case env.Event == models.EventMarkRead:
		r.handleMarkRead(ctx, env)

	case env.Event == models.EventSendLetter:
		r.handleSendLetter(ctx, c, env)

	case env.Event == models.EventMarkLetterRead:
		var payload models.MarkLetterReadPayload
		if err := json.Unmarshal(env.Payload, &payload); err == nil {
			r.store.MarkLetterRead(ctx, payload.LetterID)
		}

	default:
		if includeSender, ok := featureEvents[env.Event]; ok {
			exclude := c.ID
			if includeSender {
				exclude = ""
			}
			r.fabric.Broadcast(env.Room, env, exclude)
			return
		}
		log.Printf("Unknown event type from %s: %s", c.ID, env.Event)
	}
}

func (r *Relay) handleLogin(ctx context.Context, c *Client, env models.Envelope) {
	var profile models.Profile
	if err := json.Unmarshal(env.Payload, &profile); err != nil {
		log.Printf("Failed to parse login profile from %s: %v", c.ID, err)
		return
	}

	r.registry.Register(c.ID, profile)
	log.Printf("Connection %s logged in as %q", c.ID, profile.Username)

	letters := r.store.LettersFor(ctx, profile.Username)
	if payload, err := json.Marshal(letters); err == nil {
		c.SendEnvelope(models.Envelope{Event: models.EventLetterHistory, Payload: payload})
	}
}

func (r *Relay) handleJoinRoom(ctx context.Context, c *Client, env models.Envelope) {
	var payload models.JoinRoomPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		log.Printf("Failed to parse join-room from %s: %v", c.ID, err)
		return
	}
	payload.Profile.ConnectionID = c.ID

	// Presence may already be registered from login; joining a room updates
	// the profile (avatar changes in the lobby, host flag).
	r.registry.Register(c.ID, payload.Profile)

	arrived, err := json.Marshal(models.PeerArrivedPayload{
		ConnectionID: c.ID,
		Profile:      payload.Profile,
	})
	if err != nil {
		log.Printf("Failed to marshal peer-arrived for %s: %v", c.ID, err)
		return
	}

	// Existing members learn of the arrival and become initiators; the
	// arriving side waits for their offers. Membership and announcement are
	// one atomic step, so two racing joins cannot both see the other as an
	// existing member and offer at once.
	r.fabric.JoinAnnounce(c, env.Room, models.Envelope{
		Event:   models.EventPeerArrived,
		Room:    env.Room,
		Sender:  c.ID,
		Payload: arrived,
	})
	log.Printf("Connection %s (%s) joined room %s - %d members",
		c.ID, payload.Profile.Username, env.Room, r.fabric.MemberCount(env.Room))

	history := r.store.History(ctx, env.Room)
	if payload, err := json.Marshal(history); err == nil {
		c.SendEnvelope(models.Envelope{Event: models.EventChatHistory, Room: env.Room, Payload: payload})
	}
}

func (r *Relay) handleCallInvite(c *Client, env models.Envelope) {
	var invite models.CallInvite
	if err := json.Unmarshal(env.Payload, &invite); err != nil {
		log.Printf("Failed to parse call-invite from %s: %v", c.ID, err)
		return
	}
	if caller, ok := r.registry.Lookup(c.ID); ok {
		invite.FromUser = caller
	}
	payload, err := json.Marshal(invite)
	if err != nil {
		return
	}
	r.fanOutToUsername(env.TargetUsername, models.Envelope{
		Event:   models.EventIncomingCall,
		Sender:  c.ID,
		Payload: payload,
	})
}

func (r *Relay) handleSendMessage(ctx context.Context, env models.Envelope) {
	var msg models.ChatMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		log.Printf("Failed to parse chat message: %v", err)
		return
	}
	msg.RoomID = env.Room
	r.store.AppendMessage(ctx, msg)

	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	// Everyone in the room, sender included, receives the canonical copy.
	r.fabric.Broadcast(env.Room, models.Envelope{
		Event:   models.EventReceiveMessage,
		Room:    env.Room,
		Sender:  env.Sender,
		Payload: payload,
	}, "")
}

func (r *Relay) handleMarkRead(ctx context.Context, env models.Envelope) {
	var payload models.MarkReadPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return
	}
	r.store.MarkRead(ctx, env.Room, payload.MessageID, payload.UserID)
	r.fabric.Broadcast(env.Room, models.Envelope{
		Event:   models.EventMessageRead,
		Room:    env.Room,
		Payload: env.Payload,
	}, "")
}

func (r *Relay) handleSendLetter(ctx context.Context, c *Client, env models.Envelope) {
	var letter models.Letter
	if err := json.Unmarshal(env.Payload, &letter); err != nil {
		log.Printf("Failed to parse letter from %s: %v", c.ID, err)
		return
	}
	letter.ToUsername = env.TargetUsername
	r.store.AppendLetter(ctx, letter)
	log.Printf("Letter sent from %s to %s", letter.FromUsername, letter.ToUsername)

	payload, err := json.Marshal(letter)
	if err != nil {
		return
	}
	delivery := models.Envelope{Event: models.EventReceiveLetter, Payload: payload}
	r.fanOutToUsername(letter.ToUsername, delivery)
	// The sender sees its own letter for the outbox, on this connection only.
	c.SendEnvelope(delivery)
}

// fanOutToUsername delivers to every connection the username has (one per
// device). Zero matches means the user is offline: deliver nothing.
func (r *Relay) fanOutToUsername(username string, env models.Envelope) {
	for _, connID := range r.registry.Resolve(username) {
		r.fabric.Unicast(connID, env)
	}
}
