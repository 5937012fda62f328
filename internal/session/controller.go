// Package session runs a room session on the client side: one event loop
// owning a collection of peer links, reacting to relay events and local
// media changes.
package session

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/Imok282/glassmeet/internal/models"
	"github.com/Imok282/glassmeet/internal/peer"
)

// MediaSource supplies the local outgoing tracks. Acquisition (camera,
// display capture) lives outside this package; joining without a source is a
// supported degraded mode.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	Close() error
}

// Config wires a Controller.
type Config struct {
	Room     string
	Self     models.Profile
	Signaler Signaler
	Connect  peer.Factory

	// Source is the initial media source. Leave it unset to join without
	// media; storing a nil concrete pointer in the field does not count as
	// unset.
	Source MediaSource

	// OnRemoteTrack fires from the event loop when a remote participant's
	// media arrives. It must not call back into the Controller; hand off to
	// another goroutine instead.
	OnRemoteTrack func(remoteID string, track *webrtc.TrackRemote)

	// OnEvent receives every non-signaling envelope (chat, presence,
	// feature sync) for the embedding program. Same restriction as
	// OnRemoteTrack: no reentrant Controller calls.
	OnEvent func(env models.Envelope)
}

// Controller owns the peer links of one room session. Every state transition
// runs on the single Run goroutine: incoming signaling, native connection
// events and local commands all funnel through one mailbox, so links never
// need locks and no two transitions for the same link can interleave.
type Controller struct {
	cfg      Config
	links    map[string]*peer.Link
	source   MediaSource
	mailbox  chan func()
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:     cfg,
		links:   make(map[string]*peer.Link),
		source:  cfg.Source,
		mailbox: make(chan func(), 64),
		stopped: make(chan struct{}),
	}
}

// Run announces the session to the relay and processes events until the
// context is cancelled, Leave is called, or the signaling connection drops.
// Teardown is complete on return: no links remain and the media source is
// closed.
func (c *Controller) Run(ctx context.Context) error {
	login, err := json.Marshal(c.cfg.Self)
	if err != nil {
		return err
	}
	c.cfg.Signaler.Send(models.Envelope{Event: models.EventLogin, Payload: login})

	join, err := json.Marshal(models.JoinRoomPayload{Profile: c.cfg.Self})
	if err != nil {
		return err
	}
	c.cfg.Signaler.Send(models.Envelope{
		Event:   models.EventJoinRoom,
		Room:    c.cfg.Room,
		Payload: join,
	})

	defer c.stop()

	for {
		select {
		case env, ok := <-c.cfg.Signaler.Incoming():
			if !ok {
				c.teardown()
				return nil
			}
			c.handle(env)

		case fn := <-c.mailbox:
			fn()
			select {
			case <-c.stopped:
				return nil
			default:
			}

		case <-ctx.Done():
			c.teardown()
			return ctx.Err()
		}
	}
}

// Leave tears the session down synchronously: every link closed, the media
// source released, the relay told. Safe to call from any goroutine except
// the event loop's own callbacks (OnEvent, OnRemoteTrack), where it would
// wait on the loop that is waiting on it.
func (c *Controller) Leave() {
	done := make(chan struct{})
	select {
	case c.mailbox <- func() {
		c.teardown()
		c.stop()
		close(done)
	}:
		select {
		case <-done:
		case <-c.stopped:
		}
	case <-c.stopped:
	}
}

func (c *Controller) stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// SetSource swaps the local media source, rebinding its tracks into every
// live link in place. Link states do not change. The previous source is not
// closed; the caller may be switching back to it later (camera vs screen).
func (c *Controller) SetSource(src MediaSource) {
	c.do(func() {
		c.source = src
		tracks := c.tracks()
		for _, link := range c.links {
			if err := link.ReplaceTracks(tracks); err != nil {
				log.Printf("Failed to rebind tracks for %s: %v", link.RemoteID(), err)
			}
		}
	})
}

// do runs fn on the event loop and waits for it. Like Leave, it must not be
// called from inside an event-loop callback.
func (c *Controller) do(fn func()) {
	done := make(chan struct{})
	select {
	case c.mailbox <- func() {
		fn()
		close(done)
	}:
		// The loop may stop before draining the mailbox; don't wait on a
		// command that will never run.
		select {
		case <-done:
		case <-c.stopped:
		}
	case <-c.stopped:
	}
}

// enqueue hands fn to the event loop without waiting. Used by native
// connection callbacks, which run on pion goroutines.
func (c *Controller) enqueue(fn func()) {
	select {
	case c.mailbox <- fn:
	case <-c.stopped:
	}
}

func (c *Controller) tracks() []webrtc.TrackLocal {
	if c.source == nil {
		return nil
	}
	return c.source.Tracks()
}

func (c *Controller) handle(env models.Envelope) {
	switch env.Event {
	case models.EventPeerArrived:
		c.handlePeerArrived(env)

	case models.EventOffer:
		c.handleOffer(env)

	case models.EventAnswer:
		c.handleAnswer(env)

	case models.EventICECandidate:
		c.handleCandidate(env)

	case models.EventPeerLeft:
		c.closeLink(env.Sender)

	default:
		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(env)
		}
	}
}

// handlePeerArrived makes this side the initiator: it was already in the
// room, the remote just joined.
func (c *Controller) handlePeerArrived(env models.Envelope) {
	var arrived models.PeerArrivedPayload
	if err := json.Unmarshal(env.Payload, &arrived); err != nil {
		log.Printf("Failed to parse peer-arrived: %v", err)
		return
	}
	remoteID := arrived.ConnectionID

	if _, exists := c.links[remoteID]; exists {
		log.Printf("Link for %s already exists, ignoring duplicate arrival", remoteID)
		return
	}

	link, err := c.newLink(remoteID)
	if err != nil {
		log.Printf("Failed to create connection for %s: %v", remoteID, err)
		return
	}
	link.SetRemoteProfile(arrived.Profile)

	if err := link.StartOffer(c.tracks()); err != nil {
		log.Printf("Failed to offer to %s: %v", remoteID, err)
		c.closeLink(remoteID)
	}
}

func (c *Controller) handleOffer(env models.Envelope) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &offer); err != nil {
		log.Printf("Failed to parse offer from %s: %v", env.Sender, err)
		return
	}

	link, ok := c.links[env.Sender]
	if !ok {
		var err error
		link, err = c.newLink(env.Sender)
		if err != nil {
			log.Printf("Failed to create connection for %s: %v", env.Sender, err)
			return
		}
	}

	if err := link.HandleOffer(offer, c.tracks()); err != nil {
		log.Printf("Failed to answer %s: %v", env.Sender, err)
		c.closeLink(env.Sender)
	}
}

func (c *Controller) handleAnswer(env models.Envelope) {
	link, ok := c.links[env.Sender]
	if !ok {
		log.Printf("Answer from unknown peer %s, ignoring", env.Sender)
		return
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(env.Payload, &answer); err != nil {
		log.Printf("Failed to parse answer from %s: %v", env.Sender, err)
		return
	}

	if err := link.HandleAnswer(answer); err != nil {
		log.Printf("Failed to complete negotiation with %s: %v", env.Sender, err)
		c.closeLink(env.Sender)
	}
}

func (c *Controller) handleCandidate(env models.Envelope) {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Payload, &candidate); err != nil {
		log.Printf("Failed to parse candidate from %s: %v", env.Sender, err)
		return
	}

	// A candidate can reference a peer we have no link for yet when it
	// outruns the peer-arrived broadcast; create the link so the candidate
	// is staged rather than dropped.
	link, ok := c.links[env.Sender]
	if !ok {
		var err error
		link, err = c.newLink(env.Sender)
		if err != nil {
			log.Printf("Failed to create connection for %s: %v", env.Sender, err)
			return
		}
	}

	if err := link.HandleCandidate(candidate); err != nil {
		log.Printf("Failed to apply candidate from %s: %v", env.Sender, err)
	}
}

func (c *Controller) newLink(remoteID string) (*peer.Link, error) {
	conn, err := c.cfg.Connect(peer.Callbacks{
		OnICECandidate: func(candidate webrtc.ICECandidateInit) {
			c.enqueue(func() {
				if link, ok := c.links[remoteID]; ok {
					link.SendLocalCandidate(candidate)
				}
			})
		},
		OnTrack: func(track *webrtc.TrackRemote) {
			c.enqueue(func() {
				if _, ok := c.links[remoteID]; ok && c.cfg.OnRemoteTrack != nil {
					c.cfg.OnRemoteTrack(remoteID, track)
				}
			})
		},
		OnStateChange: func(state webrtc.PeerConnectionState) {
			c.enqueue(func() {
				switch state {
				case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
					// Terminal for this link. No retry: the peer rejoins from
					// the room layer and gets a fresh link.
					log.Printf("Connection to %s reported %s, closing link", remoteID, state)
					c.closeLink(remoteID)
				}
			})
		},
	})
	if err != nil {
		return nil, err
	}

	link := peer.NewLink(remoteID, conn, c.cfg.Signaler.Send)
	c.links[remoteID] = link
	return link, nil
}

func (c *Controller) closeLink(remoteID string) {
	link, ok := c.links[remoteID]
	if !ok {
		return
	}
	link.Close()
	delete(c.links, remoteID)
}

// LinkCount reports how many links are live; zero after teardown.
func (c *Controller) LinkCount() int {
	var n int
	c.do(func() { n = len(c.links) })
	return n
}

// LinkState reports the state of the link to a remote connection id.
func (c *Controller) LinkState(remoteID string) (peer.LinkState, bool) {
	var (
		state peer.LinkState
		ok    bool
	)
	c.do(func() {
		var link *peer.Link
		if link, ok = c.links[remoteID]; ok {
			state = link.State()
		}
	})
	return state, ok
}

func (c *Controller) teardown() {
	c.cfg.Signaler.Send(models.Envelope{
		Event: models.EventLeaveRoom,
		Room:  c.cfg.Room,
	})

	for remoteID, link := range c.links {
		link.Close()
		delete(c.links, remoteID)
	}

	if c.source != nil {
		if err := c.source.Close(); err != nil {
			log.Printf("Failed to release media source: %v", err)
		}
		c.source = nil
	}
}
