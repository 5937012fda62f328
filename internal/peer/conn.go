// Package peer implements the per-remote-participant connection orchestrator:
// one Link per remote connection id, owning the native peer connection, the
// ICE candidate staging queue and the outgoing track set.
package peer

import (
	"github.com/pion/webrtc/v4"
)

// Sender is an outgoing track handle on a connection.
type Sender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(webrtc.TrackLocal) error
}

// Conn is the subset of the native peer connection a Link drives. The
// production implementation wraps *webrtc.PeerConnection; tests substitute a
// fake to exercise ordering rules without network or SDP machinery.
type Conn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	RemoteDescriptionSet() bool
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) (Sender, error)
	Senders() []Sender
	Close() error
}

// Callbacks carry asynchronous events out of the native connection. They are
// invoked on the connection's own goroutines; implementations must hand off
// to their event loop rather than touch Link state directly.
type Callbacks struct {
	OnICECandidate func(webrtc.ICECandidateInit)
	OnTrack        func(*webrtc.TrackRemote)
	OnStateChange  func(webrtc.PeerConnectionState)
}

// Factory creates a fresh Conn with its callbacks registered before any
// negotiation can race them.
type Factory func(cb Callbacks) (Conn, error)

// NewPionFactory returns a Factory backed by pion with the given ICE servers.
func NewPionFactory(stunServers []string) Factory {
	cfg := webrtc.Configuration{}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}

	return func(cb Callbacks) (Conn, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}

		pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
			if candidate == nil || cb.OnICECandidate == nil {
				return
			}
			cb.OnICECandidate(candidate.ToJSON())
		})
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if cb.OnTrack != nil {
				cb.OnTrack(track)
			}
		})
		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			if cb.OnStateChange != nil {
				cb.OnStateChange(state)
			}
		})

		return &pionConn{pc: pc}, nil
	}
}

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sdp)
}

func (c *pionConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sdp)
}

func (c *pionConn) RemoteDescriptionSet() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *pionConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConn) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	return pionSender{sender}, nil
}

func (c *pionConn) Senders() []Sender {
	rtpSenders := c.pc.GetSenders()
	senders := make([]Sender, 0, len(rtpSenders))
	for _, s := range rtpSenders {
		senders = append(senders, pionSender{s})
	}
	return senders
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

type pionSender struct {
	s *webrtc.RTPSender
}

func (p pionSender) Track() webrtc.TrackLocal {
	return p.s.Track()
}

func (p pionSender) ReplaceTrack(track webrtc.TrackLocal) error {
	return p.s.ReplaceTrack(track)
}
