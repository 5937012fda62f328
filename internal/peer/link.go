package peer

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/pion/webrtc/v4"

	"github.com/Imok282/glassmeet/internal/models"
)

// LinkState is the lifecycle of one remote participant's connection.
type LinkState int

const (
	StateIdle LinkState = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Role says which side of the negotiation this link is. The side already in
// the room always initiates toward an arrival; the arriving side waits for an
// offer. Arrival order decides the role, so the two sides never race offers.
type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleReceiver
)

// Link orchestrates the connection to one remote participant. All methods
// must be called from a single goroutine (the session controller's event
// loop); the link itself holds no locks. A link is never reused: a
// reconnecting peer arrives under a fresh connection id and gets a fresh
// Link.
type Link struct {
	remoteID string
	role     Role
	state    LinkState
	conn     Conn
	send     func(models.Envelope)

	// iceQueue stages remote candidates that arrived before the remote
	// description. It is flushed in arrival order exactly once, immediately
	// after the remote description is first set.
	iceQueue []webrtc.ICECandidateInit

	remote *models.Profile
}

// NewLink wraps a fresh connection for a remote participant. send delivers
// signaling envelopes to the relay and must not block.
func NewLink(remoteID string, conn Conn, send func(models.Envelope)) *Link {
	return &Link{
		remoteID: remoteID,
		state:    StateIdle,
		conn:     conn,
		send:     send,
	}
}

func (l *Link) RemoteID() string { return l.remoteID }
func (l *Link) State() LinkState { return l.state }
func (l *Link) Role() Role       { return l.role }

// RemoteProfile returns what is known about the remote participant; filled in
// lazily from the first signaling message that carries it.
func (l *Link) RemoteProfile() *models.Profile { return l.remote }

func (l *Link) SetRemoteProfile(profile models.Profile) {
	profile.ConnectionID = l.remoteID
	l.remote = &profile
}

// StartOffer runs the initiator half of negotiation: attach the current local
// tracks, create and set the offer, and send it to the remote connection id.
func (l *Link) StartOffer(tracks []webrtc.TrackLocal) error {
	if l.state != StateIdle {
		return fmt.Errorf("cannot offer to %s in state %s", l.remoteID, l.state)
	}
	l.role = RoleInitiator

	if err := l.attachTracks(tracks); err != nil {
		return err
	}

	offer, err := l.conn.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", l.remoteID, err)
	}
	if err := l.conn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer for %s: %w", l.remoteID, err)
	}

	l.state = StateNegotiating
	return l.sendDescription(models.EventOffer, offer)
}

// HandleOffer runs the receiver half: attach tracks, set the remote
// description, flush any staged candidates, then answer.
func (l *Link) HandleOffer(offer webrtc.SessionDescription, tracks []webrtc.TrackLocal) error {
	if l.state == StateClosed {
		return fmt.Errorf("offer for closed link %s", l.remoteID)
	}
	if l.role == RoleInitiator {
		// Both sides offering means the arrival-order rule was violated
		// upstream; drop rather than fight over it.
		return fmt.Errorf("glare: offer from %s but this side already offered", l.remoteID)
	}
	l.role = RoleReceiver
	l.state = StateNegotiating

	if err := l.attachTracks(tracks); err != nil {
		return err
	}

	if err := l.conn.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer from %s: %w", l.remoteID, err)
	}
	l.flushICEQueue()

	answer, err := l.conn.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer for %s: %w", l.remoteID, err)
	}
	if err := l.conn.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer for %s: %w", l.remoteID, err)
	}
	if err := l.sendDescription(models.EventAnswer, answer); err != nil {
		return err
	}

	l.state = StateConnected
	return nil
}

// HandleAnswer completes the initiator's negotiation.
func (l *Link) HandleAnswer(answer webrtc.SessionDescription) error {
	if l.state != StateNegotiating || l.role != RoleInitiator {
		return fmt.Errorf("unexpected answer from %s in state %s", l.remoteID, l.state)
	}

	if err := l.conn.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer from %s: %w", l.remoteID, err)
	}
	l.flushICEQueue()

	l.state = StateConnected
	return nil
}

// HandleCandidate applies a remote candidate immediately when the remote
// description is already set, and stages it otherwise. Candidates are never
// applied before the remote description and never dropped while the link
// lives.
func (l *Link) HandleCandidate(candidate webrtc.ICECandidateInit) error {
	if l.state == StateClosed {
		return nil
	}
	if !l.conn.RemoteDescriptionSet() {
		l.iceQueue = append(l.iceQueue, candidate)
		return nil
	}
	if err := l.conn.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add candidate from %s: %w", l.remoteID, err)
	}
	return nil
}

// flushICEQueue applies staged candidates in arrival order and clears the
// queue, so a redundant later call cannot re-apply anything.
func (l *Link) flushICEQueue() {
	if len(l.iceQueue) == 0 {
		return
	}
	queued := l.iceQueue
	l.iceQueue = nil
	log.Printf("Flushing %d queued ICE candidates for %s", len(queued), l.remoteID)
	for _, candidate := range queued {
		if err := l.conn.AddICECandidate(candidate); err != nil {
			log.Printf("Failed to apply queued candidate from %s: %v", l.remoteID, err)
		}
	}
}

// SendLocalCandidate forwards a locally gathered candidate to the remote
// side. Valid in any non-Closed state.
func (l *Link) SendLocalCandidate(candidate webrtc.ICECandidateInit) {
	if l.state == StateClosed {
		return
	}
	payload, err := json.Marshal(candidate)
	if err != nil {
		log.Printf("Failed to marshal candidate for %s: %v", l.remoteID, err)
		return
	}
	l.send(models.Envelope{
		Event:   models.EventICECandidate,
		Target:  l.remoteID,
		Payload: payload,
	})
}

// ReplaceTracks swaps the outgoing media in place on a live link: each new
// track replaces the sender of the same kind, or is added when no such sender
// exists. The link's state does not change and no renegotiation is forced.
func (l *Link) ReplaceTracks(tracks []webrtc.TrackLocal) error {
	if l.state == StateClosed {
		return fmt.Errorf("replace tracks on closed link %s", l.remoteID)
	}

	senders := l.conn.Senders()
	for _, track := range tracks {
		replaced := false
		for _, sender := range senders {
			current := sender.Track()
			if current != nil && current.Kind() == track.Kind() {
				if err := sender.ReplaceTrack(track); err != nil {
					return fmt.Errorf("replace %s track for %s: %w", track.Kind(), l.remoteID, err)
				}
				replaced = true
				break
			}
		}
		if !replaced {
			if _, err := l.conn.AddTrack(track); err != nil {
				return fmt.Errorf("add %s track for %s: %w", track.Kind(), l.remoteID, err)
			}
		}
	}
	return nil
}

// Close releases the native connection and discards the candidate queue. The
// link must not be used afterward; reconnecting peers get a fresh one.
func (l *Link) Close() {
	if l.state == StateClosed {
		return
	}
	l.state = StateClosed
	l.iceQueue = nil
	if err := l.conn.Close(); err != nil {
		log.Printf("Error closing connection to %s: %v", l.remoteID, err)
	}
}

func (l *Link) attachTracks(tracks []webrtc.TrackLocal) error {
	for _, track := range tracks {
		if _, err := l.conn.AddTrack(track); err != nil {
			return fmt.Errorf("attach %s track for %s: %w", track.Kind(), l.remoteID, err)
		}
	}
	return nil
}

func (l *Link) sendDescription(event models.EventType, sdp webrtc.SessionDescription) error {
	payload, err := json.Marshal(sdp)
	if err != nil {
		return fmt.Errorf("marshal %s for %s: %w", event, l.remoteID, err)
	}
	l.send(models.Envelope{
		Event:   event,
		Target:  l.remoteID,
		Payload: payload,
	})
	return nil
}
