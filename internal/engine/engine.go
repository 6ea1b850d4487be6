// Package engine implements session.Engine on top of pion/webrtc.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/protocol"
	"github.com/BioHazard786/Warpcall/internal/session"
	"github.com/BioHazard786/Warpcall/internal/utils"
)

var errForeignTrack = errors.New("track was not created by the media package")

var _ session.Engine = (*PeerConnection)(nil)

// LocalTrack is implemented by tracks that can be sent through pion.
type LocalTrack interface {
	session.Track
	TrackLocal() webrtc.TrackLocal
}

// Options configure a peer connection.
type Options struct {
	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string

	// ForceRelay limits ICE to relay candidates. It only applies when
	// TURN servers are configured.
	ForceRelay bool

	// RecordDir, when set, receives one file per remote track.
	RecordDir string

	Logger *slog.Logger
}

// OptionsFromConfig builds Options from client configuration. Relay is
// forced when asked for or when the host looks like it sits behind a VPN
// or CGNAT.
func OptionsFromConfig(cfg *config.Config) Options {
	user, pass := cfg.GetTURNCredentials()
	turn := cfg.GetTURNServers()
	return Options{
		STUNServers: cfg.GetSTUNServers(),
		TURNServers: turn,
		TURNUser:    user,
		TURNPass:    pass,
		ForceRelay:  turn != nil && (cfg.ForceRelay || utils.ShouldForceRelay()),
		RecordDir:   cfg.RecordDir,
	}
}

// PeerConnection adapts *webrtc.PeerConnection to session.Engine.
type PeerConnection struct {
	pc       *webrtc.PeerConnection
	log      *slog.Logger
	dispatch *dispatcher
	opts     Options

	bytesReceived atomic.Uint64

	mu    sync.Mutex
	sinks []*sink
}

// New creates a peer connection with the default codecs and slog-backed
// pion logging.
func New(opts Options) (*PeerConnection, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	s := webrtc.SettingEngine{
		LoggerFactory: logging.NewPionFactory(logger),
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(s))

	iceServers := []webrtc.ICEServer{}
	if len(opts.STUNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: opts.STUNServers})
	}
	if len(opts.TURNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       opts.TURNServers,
			Username:   opts.TURNUser,
			Credential: opts.TURNPass,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if opts.ForceRelay && len(opts.TURNServers) > 0 {
		policy = webrtc.ICETransportPolicyRelay
		logger.Info("forcing relay-only ICE")
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	return &PeerConnection{
		pc:       pc,
		log:      logger.With("component", "engine"),
		dispatch: newDispatcher(),
		opts:     opts,
	}, nil
}

// CreateOffer creates an offer. Kinds with no local track get a
// receive-only transceiver so the offer still asks for the peer's media.
func (p *PeerConnection) CreateOffer() (*protocol.SessionDescription, error) {
	if err := p.ensureReceivers(); err != nil {
		return nil, err
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	return fromPion(offer), nil
}

func (p *PeerConnection) CreateAnswer() (*protocol.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	return fromPion(answer), nil
}

func (p *PeerConnection) SetLocalDescription(desc *protocol.SessionDescription) error {
	sd, err := toPion(desc)
	if err != nil {
		return err
	}
	p.logKinds("local", desc.SDP)
	return p.pc.SetLocalDescription(sd)
}

// SetRemoteDescription validates the SDP before handing it to pion so a
// malformed peer description fails with a readable error.
func (p *PeerConnection) SetRemoteDescription(desc *protocol.SessionDescription) error {
	sd, err := toPion(desc)
	if err != nil {
		return err
	}
	if _, err := MediaKinds(desc.SDP); err != nil {
		return err
	}
	p.logKinds("remote", desc.SDP)
	return p.pc.SetRemoteDescription(sd)
}

func (p *PeerConnection) AddICECandidate(c *protocol.ICECandidate) error {
	return p.pc.AddICECandidate(candidateToPion(c))
}

func (p *PeerConnection) AddTrack(track session.Track) error {
	lt, ok := track.(LocalTrack)
	if !ok {
		return fmt.Errorf("add track %s: %w", track.ID(), errForeignTrack)
	}

	sender, err := p.pc.AddTrack(lt.TrackLocal())
	if err != nil {
		return err
	}

	// RTCP has to be read for interceptors to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *PeerConnection) OnICECandidate(f func(*protocol.ICECandidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.dispatch.post(func() { f(candidateFromPion(init)) })
	})
}

func (p *PeerConnection) OnTrack(f func(session.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s := p.startSink(track)
		p.dispatch.post(func() { f(s) })
	})
}

func (p *PeerConnection) OnConnectionStateChange(f func(session.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		converted := connectionState(state)
		p.dispatch.post(func() { f(converted) })
	})
}

// BytesReceived counts remote RTP payload bytes across all tracks.
func (p *PeerConnection) BytesReceived() uint64 {
	return p.bytesReceived.Load()
}

func (p *PeerConnection) Close() error {
	err := p.pc.Close()

	p.mu.Lock()
	sinks := p.sinks
	p.sinks = nil
	p.mu.Unlock()
	for _, s := range sinks {
		s.close()
	}

	p.dispatch.stop()
	return err
}

func (p *PeerConnection) ensureReceivers() error {
	have := map[webrtc.RTPCodecType]bool{}
	for _, t := range p.pc.GetTransceivers() {
		have[t.Kind()] = true
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		_, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("add %s receiver: %w", kind, err)
		}
	}
	return nil
}

func (p *PeerConnection) logKinds(side, sdp string) {
	kinds, err := MediaKinds(sdp)
	if err != nil {
		return
	}
	p.log.Debug("session description", "side", side, "media", kinds)
}

func connectionState(s webrtc.PeerConnectionState) session.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return session.ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return session.ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return session.ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return session.ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return session.ConnectionStateClosed
	default:
		return session.ConnectionStateNew
	}
}
