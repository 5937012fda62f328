package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/Imok282/glassmeet/internal/models"
	"github.com/Imok282/glassmeet/internal/peer"
)

// fakeSignaler records outgoing envelopes and lets tests inject incoming ones.
type fakeSignaler struct {
	mu       sync.Mutex
	sent     []models.Envelope
	incoming chan models.Envelope
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{incoming: make(chan models.Envelope, 16)}
}

func (f *fakeSignaler) Send(env models.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
}

func (f *fakeSignaler) Incoming() <-chan models.Envelope { return f.incoming }
func (f *fakeSignaler) Close()                           {}

func (f *fakeSignaler) sentEvents() []models.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

// waitForSent polls until an envelope with the given event shows up.
func (f *fakeSignaler) waitForSent(t *testing.T, event models.EventType) models.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, env := range f.sentEvents() {
			if env.Event == event {
				return env
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s envelope sent within deadline", event)
	return models.Envelope{}
}

// fakeConn mirrors the peer package's test double so controller flows run
// without SDP machinery.
type fakeConn struct {
	mu         sync.Mutex
	remoteDesc *webrtc.SessionDescription
	applied    []webrtc.ICECandidateInit
	earlyApply bool
	senders    []*fakeSender
	closed     bool
}

func (f *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (f *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (f *fakeConn) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (f *fakeConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteDesc = &sdp
	return nil
}

func (f *fakeConn) RemoteDescriptionSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteDesc != nil
}

func (f *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remoteDesc == nil {
		f.earlyApply = true
	}
	f.applied = append(f.applied, candidate)
	return nil
}

func (f *fakeConn) AddTrack(track webrtc.TrackLocal) (peer.Sender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sender := &fakeSender{track: track}
	f.senders = append(f.senders, sender)
	return sender, nil
}

func (f *fakeConn) Senders() []peer.Sender {
	f.mu.Lock()
	defer f.mu.Unlock()
	senders := make([]peer.Sender, 0, len(f.senders))
	for _, s := range f.senders {
		senders = append(senders, s)
	}
	return senders
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	return nil
}

type fakeTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t *fakeTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *fakeTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *fakeTrack) ID() string                            { return t.id }
func (t *fakeTrack) RID() string                           { return "" }
func (t *fakeTrack) StreamID() string                      { return "local" }
func (t *fakeTrack) Kind() webrtc.RTPCodecType             { return t.kind }

type fakeSource struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal
	closed bool
}

func (s *fakeSource) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// connRegistry hands out fake connections and remembers them by creation
// order so tests can inspect them.
type connRegistry struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (r *connRegistry) factory(peer.Callbacks) (peer.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn := &fakeConn{}
	r.conns = append(r.conns, conn)
	return conn, nil
}

func (r *connRegistry) conn(i int) *fakeConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= len(r.conns) {
		return nil
	}
	return r.conns[i]
}

type controllerHarness struct {
	signaler *fakeSignaler
	conns    *connRegistry
	source   *fakeSource
	ctrl     *Controller
	cancel   context.CancelFunc
	runDone  chan error
	exited   chan struct{}
}

func startController(t *testing.T, source *fakeSource) *controllerHarness {
	t.Helper()

	h := &controllerHarness{
		signaler: newFakeSignaler(),
		conns:    &connRegistry{},
		source:   source,
		runDone:  make(chan error, 1),
		exited:   make(chan struct{}),
	}
	cfg := Config{
		Room:     "room-1",
		Self:     models.Profile{Username: "alice"},
		Signaler: h.signaler,
		Connect:  h.conns.factory,
	}
	// Assign only a live source: a typed-nil pointer in the interface field
	// would defeat the controller's nil check.
	if source != nil {
		cfg.Source = source
	}
	h.ctrl = NewController(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.runDone <- h.ctrl.Run(ctx)
		close(h.exited)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.exited:
		case <-time.After(2 * time.Second):
			t.Error("controller did not stop")
		}
	})

	// Announce envelopes go out before the loop starts.
	h.signaler.waitForSent(t, models.EventJoinRoom)
	return h
}

func peerArrivedEnvelope(t *testing.T, connID, username string) models.Envelope {
	t.Helper()
	payload, err := json.Marshal(models.PeerArrivedPayload{
		ConnectionID: connID,
		Profile:      models.Profile{ConnectionID: connID, Username: username},
	})
	if err != nil {
		t.Fatalf("marshal peer-arrived: %v", err)
	}
	return models.Envelope{Event: models.EventPeerArrived, Sender: connID, Payload: payload}
}

func descriptionEnvelope(t *testing.T, event models.EventType, sender string, sdpType webrtc.SDPType) models.Envelope {
	t.Helper()
	payload, err := json.Marshal(webrtc.SessionDescription{Type: sdpType, SDP: "remote-sdp"})
	if err != nil {
		t.Fatalf("marshal description: %v", err)
	}
	return models.Envelope{Event: event, Sender: sender, Payload: payload}
}

func waitForState(t *testing.T, h *controllerHarness, remoteID string, want peer.LinkState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if state, ok := h.ctrl.LinkState(remoteID); ok && state == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	state, ok := h.ctrl.LinkState(remoteID)
	t.Fatalf("link %s state = %v (exists=%v), want %s", remoteID, state, ok, want)
}

func waitForLinkCount(t *testing.T, h *controllerHarness, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ctrl.LinkCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("link count = %d, want %d", h.ctrl.LinkCount(), want)
}

func TestRunAnnouncesLoginThenJoin(t *testing.T) {
	h := startController(t, nil)

	sent := h.signaler.sentEvents()
	if len(sent) < 2 {
		t.Fatalf("sent %d envelopes, want at least 2", len(sent))
	}
	if sent[0].Event != models.EventLogin {
		t.Errorf("first envelope = %s, want login", sent[0].Event)
	}
	if sent[1].Event != models.EventJoinRoom || sent[1].Room != "room-1" {
		t.Errorf("second envelope = %s room %q, want join-room room-1", sent[1].Event, sent[1].Room)
	}
}

func TestPeerArrivalMakesThisSideInitiator(t *testing.T) {
	h := startController(t, nil)

	h.signaler.incoming <- peerArrivedEnvelope(t, "bob-conn", "bob")

	offer := h.signaler.waitForSent(t, models.EventOffer)
	if offer.Target != "bob-conn" {
		t.Fatalf("offer target = %q, want bob-conn", offer.Target)
	}
	waitForState(t, h, "bob-conn", peer.StateNegotiating)

	h.signaler.incoming <- descriptionEnvelope(t, models.EventAnswer, "bob-conn", webrtc.SDPTypeAnswer)
	waitForState(t, h, "bob-conn", peer.StateConnected)
}

func TestIncomingOfferMakesThisSideReceiver(t *testing.T) {
	h := startController(t, nil)

	h.signaler.incoming <- descriptionEnvelope(t, models.EventOffer, "carol-conn", webrtc.SDPTypeOffer)

	answer := h.signaler.waitForSent(t, models.EventAnswer)
	if answer.Target != "carol-conn" {
		t.Fatalf("answer target = %q, want carol-conn", answer.Target)
	}
	waitForState(t, h, "carol-conn", peer.StateConnected)
}

func TestEarlyCandidateStagedNotDropped(t *testing.T) {
	h := startController(t, nil)

	payload, err := json.Marshal(webrtc.ICECandidateInit{Candidate: "early"})
	if err != nil {
		t.Fatalf("marshal candidate: %v", err)
	}
	h.signaler.incoming <- models.Envelope{
		Event:   models.EventICECandidate,
		Sender:  "dan-conn",
		Payload: payload,
	}
	waitForLinkCount(t, h, 1)

	conn := h.conns.conn(0)
	conn.mu.Lock()
	applied := len(conn.applied)
	conn.mu.Unlock()
	if applied != 0 {
		t.Fatal("candidate applied before any remote description")
	}

	h.signaler.incoming <- descriptionEnvelope(t, models.EventOffer, "dan-conn", webrtc.SDPTypeOffer)
	waitForState(t, h, "dan-conn", peer.StateConnected)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.earlyApply {
		t.Fatal("candidate applied before remote description was set")
	}
	if len(conn.applied) != 1 || conn.applied[0].Candidate != "early" {
		t.Fatalf("applied = %v, want the staged candidate exactly once", conn.applied)
	}
}

func TestPeerLeftClosesLink(t *testing.T) {
	h := startController(t, nil)

	h.signaler.incoming <- peerArrivedEnvelope(t, "bob-conn", "bob")
	waitForLinkCount(t, h, 1)

	h.signaler.incoming <- models.Envelope{Event: models.EventPeerLeft, Sender: "bob-conn"}
	waitForLinkCount(t, h, 0)

	conn := h.conns.conn(0)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.closed {
		t.Fatal("native connection not closed after peer-left")
	}
}

func TestLeaveTearsEverythingDown(t *testing.T) {
	source := &fakeSource{tracks: []webrtc.TrackLocal{
		&fakeTrack{id: "cam", kind: webrtc.RTPCodecTypeVideo},
	}}
	h := startController(t, source)

	h.signaler.incoming <- peerArrivedEnvelope(t, "bob-conn", "bob")
	h.signaler.waitForSent(t, models.EventOffer)

	h.ctrl.Leave()

	select {
	case err := <-h.runDone:
		if err != nil {
			t.Fatalf("Run returned %v after Leave", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Leave")
	}

	if !source.isClosed() {
		t.Error("media source not released")
	}
	conn := h.conns.conn(0)
	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Error("link connection not closed")
	}
	h.signaler.waitForSent(t, models.EventLeaveRoom)
}

func TestLeaveTwiceDoesNotHang(t *testing.T) {
	h := startController(t, nil)

	finished := make(chan struct{})
	go func() {
		h.ctrl.Leave()
		h.ctrl.Leave()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("second Leave blocked")
	}
}

func TestSetSourceRebindsWithoutRenegotiation(t *testing.T) {
	source := &fakeSource{tracks: []webrtc.TrackLocal{
		&fakeTrack{id: "cam", kind: webrtc.RTPCodecTypeVideo},
	}}
	h := startController(t, source)

	h.signaler.incoming <- peerArrivedEnvelope(t, "bob-conn", "bob")
	h.signaler.waitForSent(t, models.EventOffer)
	h.signaler.incoming <- descriptionEnvelope(t, models.EventAnswer, "bob-conn", webrtc.SDPTypeAnswer)
	waitForState(t, h, "bob-conn", peer.StateConnected)

	offersBefore := 0
	for _, env := range h.signaler.sentEvents() {
		if env.Event == models.EventOffer {
			offersBefore++
		}
	}

	screen := &fakeSource{tracks: []webrtc.TrackLocal{
		&fakeTrack{id: "screen", kind: webrtc.RTPCodecTypeVideo},
	}}
	h.ctrl.SetSource(screen)

	waitForState(t, h, "bob-conn", peer.StateConnected)
	conn := h.conns.conn(0)
	senders := conn.Senders()
	if len(senders) != 1 {
		t.Fatalf("sender count = %d, want 1", len(senders))
	}
	if senders[0].Track().ID() != "screen" {
		t.Errorf("sender track = %q, want screen", senders[0].Track().ID())
	}
	if source.isClosed() {
		t.Error("previous source closed by SetSource; caller owns its lifecycle")
	}

	offersAfter := 0
	for _, env := range h.signaler.sentEvents() {
		if env.Event == models.EventOffer {
			offersAfter++
		}
	}
	if offersAfter != offersBefore {
		t.Errorf("SetSource triggered renegotiation: %d new offers", offersAfter-offersBefore)
	}
}

func TestNonSignalEventsForwarded(t *testing.T) {
	var (
		mu     sync.Mutex
		events []models.EventType
	)
	signaler := newFakeSignaler()
	conns := &connRegistry{}
	ctrl := NewController(Config{
		Room:     "room-1",
		Self:     models.Profile{Username: "alice"},
		Signaler: signaler,
		Connect:  conns.factory,
		OnEvent: func(env models.Envelope) {
			mu.Lock()
			events = append(events, env.Event)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- ctrl.Run(ctx) }()
	signaler.waitForSent(t, models.EventJoinRoom)

	signaler.incoming <- models.Envelope{Event: models.EventReceiveMessage}
	signaler.incoming <- models.Envelope{Event: models.EventPresenceSnapshot}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != models.EventReceiveMessage || events[1] != models.EventPresenceSnapshot {
		t.Fatalf("forwarded events = %v", events)
	}
	cancel()
	<-runDone
}

func TestSignalingDropEndsRun(t *testing.T) {
	h := startController(t, nil)

	close(h.signaler.incoming)

	select {
	case err := <-h.runDone:
		if err != nil {
			t.Fatalf("Run returned %v on signaling drop, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after incoming channel closed")
	}
}
