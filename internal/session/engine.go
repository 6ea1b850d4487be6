package session

import (
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/protocol"
)

// ConnectionState mirrors the peer connection's aggregate state.
type ConnectionState int

const (
	ConnectionStateNew ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnected
	ConnectionStateFailed
	ConnectionStateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// Track is a media track known by a stable id.
type Track interface {
	ID() string
	Kind() string
}

// RemoteTrack is a track received from the peer.
type RemoteTrack interface {
	Track
	StreamID() string
	Codec() string
}

// Engine performs SDP generation, ICE and media transport for one peer
// connection. Callbacks must not be invoked while an Engine method is
// still running on the caller's goroutine.
type Engine interface {
	CreateOffer() (*protocol.SessionDescription, error)
	CreateAnswer() (*protocol.SessionDescription, error)
	SetLocalDescription(desc *protocol.SessionDescription) error
	SetRemoteDescription(desc *protocol.SessionDescription) error
	AddICECandidate(candidate *protocol.ICECandidate) error
	AddTrack(track Track) error

	// OnICECandidate is called with each gathered local candidate.
	OnICECandidate(func(*protocol.ICECandidate))
	OnTrack(func(RemoteTrack))
	OnConnectionStateChange(func(ConnectionState))

	Close() error
}

// EngineFactory builds the engine when the session joins a room.
type EngineFactory func() (Engine, error)
