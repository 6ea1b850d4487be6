package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/protocol"
	"github.com/BioHazard786/Warpcall/internal/roomid"
)

// Sender delivers outbound signaling messages. Send must not block.
type Sender interface {
	Send(msg *protocol.Message) error
}

// EventKind identifies an observer event.
type EventKind int

const (
	EventStateChanged EventKind = iota + 1
	EventRemoteTrack
	EventMediaReady
	EventMediaFailed
	EventPeerLeft
)

// Event reports a session change to the observer.
type Event struct {
	Kind  EventKind
	State State
	Role  Role
	Track RemoteTrack
	Err   error
}

// Config configures a PeerSession.
type Config struct {
	RoomID    string
	NewEngine EngineFactory
	Sender    Sender

	// Media may be nil for a receive-only session.
	Media MediaSource

	// Observer is called in order, outside the session lock. It must not
	// call back into the session's handlers.
	Observer func(Event)
	Logger   *slog.Logger
}

// PeerSession is the client side of one call. It owns the peer connection
// engine, the local stream and all negotiation state; every handler runs
// under the session lock, so transitions are serialized.
type PeerSession struct {
	roomID    string
	newEngine EngineFactory
	media     MediaSource
	sender    Sender
	observer  func(Event)
	log       *slog.Logger

	mu     sync.Mutex
	emitMu sync.Mutex

	state         State
	role          Role
	participantID string
	peerID        string

	engine   Engine
	stream   LocalStream
	attached map[string]struct{}

	mediaStarted bool
	mediaSettled bool
	cancelMedia  context.CancelFunc

	// offerOutstanding is set between sending our offer and applying the
	// answer. offerDeferred and pendingOffer hold negotiation until local
	// media has settled.
	offerOutstanding bool
	offerDeferred    bool
	pendingOffer     *protocol.SessionDescription

	remoteSet         bool
	pendingCandidates []*protocol.ICECandidate

	disconnected bool

	err  error
	done chan struct{}

	// Filled under mu, drained by do after unlocking.
	events  []Event
	release []func()
}

// New creates an idle session.
func New(cfg Config) (*PeerSession, error) {
	if !roomid.Valid(cfg.RoomID) {
		return nil, fmt.Errorf("invalid room id %q", cfg.RoomID)
	}
	if cfg.NewEngine == nil {
		return nil, errors.New("session: engine factory is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("session: sender is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PeerSession{
		roomID:    cfg.RoomID,
		newEngine: cfg.NewEngine,
		media:     cfg.Media,
		sender:    cfg.Sender,
		observer:  cfg.Observer,
		log:       logger.With("room", cfg.RoomID),
		attached:  make(map[string]struct{}),
		done:      make(chan struct{}),
	}, nil
}

// State returns the current state.
func (s *PeerSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Role returns the negotiation role, once assigned.
func (s *PeerSession) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *PeerSession) RoomID() string {
	return s.roomID
}

// ParticipantID is our server-assigned id from the welcome message.
func (s *PeerSession) ParticipantID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantID
}

// PeerID is the other participant's id, once known.
func (s *PeerSession) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Done is closed when the session reaches Closed.
func (s *PeerSession) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session closed. It is nil for a requested leave.
func (s *PeerSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// do runs fn under the session lock, hands queued events to the observer
// and then releases whatever fn retired. Releases run with no lock held
// since closing an engine may call straight back into the session.
func (s *PeerSession) do(fn func() error) error {
	s.mu.Lock()
	err := fn()
	events, release := s.events, s.release
	s.events, s.release = nil, nil

	// emitMu is taken before mu is dropped so observers see events in
	// the order the transitions happened.
	s.emitMu.Lock()
	s.mu.Unlock()

	if s.observer != nil {
		for _, ev := range events {
			s.observer(ev)
		}
	}
	s.emitMu.Unlock()

	for _, r := range release {
		r()
	}
	return err
}

func (s *PeerSession) emitLocked(ev Event) {
	s.events = append(s.events, ev)
}

// setStateLocked moves forward to next. Backward moves are refused.
func (s *PeerSession) setStateLocked(next State) {
	if next <= s.state {
		if next < s.state {
			s.log.Warn("refusing backward transition", "from", s.state, "to", next)
		}
		return
	}

	s.log.Debug("session state", "from", s.state, "to", next, "role", s.role)
	s.state = next
	s.emitLocked(Event{Kind: EventStateChanged, State: next, Role: s.role})
}

// Start moves an idle session to Connecting; the caller then opens the
// transport.
func (s *PeerSession) Start() error {
	return s.do(func() error {
		switch s.state {
		case StateIdle:
			s.setStateLocked(StateConnecting)
			return nil
		case StateClosed:
			return ErrSessionClosed
		default:
			return WrapError("start", ErrUnexpectedSignal, "already started")
		}
	})
}

// HandleConnected reacts to the transport (re)connecting.
func (s *PeerSession) HandleConnected() error {
	return s.do(func() error {
		wasDisconnected := s.disconnected
		s.disconnected = false

		switch s.state {
		case StateConnecting:
			return s.joinLocked()

		case StateJoined:
			if wasDisconnected {
				// The server forgot us with the old connection.
				s.log.Info("signaling reconnected, rejoining room")
				return s.sendLocked(&protocol.Message{Type: protocol.TypeJoinRoom, RoomID: s.roomID})
			}
			return nil

		case StateRoleAssigned, StateNegotiating:
			if wasDisconnected {
				s.closeLocked(WrapError("reconnect", ErrTransportClosed, "signaling lost during negotiation"))
			}
			return nil

		case StateConnected:
			s.log.Info("signaling reconnected, media unaffected")
			return nil

		case StateClosed:
			return ErrSessionClosed

		default:
			return WrapError("connected", ErrUnexpectedSignal, s.state.String())
		}
	})
}

// joinLocked is the Connecting to Joined transition: build the engine,
// start media, attach what is there and ask the server for the room.
func (s *PeerSession) joinLocked() error {
	engine, err := s.newEngine()
	if err != nil {
		s.closeLocked(NewError("create peer connection", err))
		return s.err
	}

	s.engine = engine
	engine.OnICECandidate(s.handleLocalCandidate)
	engine.OnTrack(s.handleRemoteTrack)
	engine.OnConnectionStateChange(s.HandleEngineState)

	s.setStateLocked(StateJoined)
	s.startMediaLocked()
	s.attachTracksLocked()

	return s.sendLocked(&protocol.Message{Type: protocol.TypeJoinRoom, RoomID: s.roomID})
}

func (s *PeerSession) startMediaLocked() {
	if s.mediaStarted {
		return
	}
	s.mediaStarted = true

	if s.media == nil {
		s.log.Info("no media source, receive-only session")
		s.mediaSettled = true
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelMedia = cancel

	go func() {
		stream, err := s.media.Acquire(ctx)
		s.handleMedia(stream, err)
	}()
}

// handleMedia receives the asynchronous media result. A result that
// arrives after close is released, never attached.
func (s *PeerSession) handleMedia(stream LocalStream, err error) {
	s.do(func() error {
		if s.state == StateClosed {
			if stream != nil {
				s.log.Debug("media arrived after close, releasing")
				s.release = append(s.release, stream.Stop)
			}
			return ErrSessionClosed
		}

		s.mediaSettled = true
		if s.cancelMedia != nil {
			s.cancelMedia()
			s.cancelMedia = nil
		}

		if err != nil {
			if stream != nil {
				s.release = append(s.release, stream.Stop)
			}
			merr := WrapError("acquire media", ErrMediaUnavailable, err.Error())
			s.log.Warn("local media unavailable, continuing receive-only", "err", err)
			s.emitLocked(Event{Kind: EventMediaFailed, State: s.state, Role: s.role, Err: merr})
		} else {
			s.stream = stream
			s.emitLocked(Event{Kind: EventMediaReady, State: s.state, Role: s.role})
			s.attachTracksLocked()
		}

		s.resumeLocked()
		return nil
	})
}

// resumeLocked runs negotiation steps that waited for media.
func (s *PeerSession) resumeLocked() {
	if s.offerDeferred {
		s.offerDeferred = false
		if err := s.sendOfferLocked(); err != nil {
			s.log.Warn("deferred offer failed", "err", err)
		}
	}
	if s.pendingOffer != nil {
		offer := s.pendingOffer
		s.pendingOffer = nil
		if err := s.answerLocked(offer); err != nil {
			s.log.Warn("deferred answer failed", "err", err)
		}
	}
}

// attachTracksLocked adds every local track the engine does not have yet.
// It is called at each point where tracks or the engine may have appeared.
func (s *PeerSession) attachTracksLocked() {
	if s.engine == nil || s.stream == nil {
		return
	}

	for _, track := range s.stream.Tracks() {
		if _, ok := s.attached[track.ID()]; ok {
			continue
		}
		if err := s.engine.AddTrack(track); err != nil {
			s.log.Warn("failed to attach local track", "track", track.ID(), "kind", track.Kind(), "err", err)
			continue
		}
		s.attached[track.ID()] = struct{}{}
		s.log.Debug("attached local track", "track", track.ID(), "kind", track.Kind())
	}
}

// HandleWelcome records the id the server assigned to this connection.
func (s *PeerSession) HandleWelcome(msg *protocol.Message) error {
	return s.do(func() error {
		s.participantID = msg.ParticipantID
		s.log.Debug("welcome", "participant", msg.ParticipantID)
		return nil
	})
}

// HandlePeerReady makes this session the offerer.
func (s *PeerSession) HandlePeerReady(msg *protocol.Message) error {
	return s.do(func() error {
		if err := s.checkRoomLocked("peer ready", msg); err != nil {
			return err
		}
		if s.state != StateJoined {
			return WrapError("peer ready", ErrUnexpectedSignal, "state "+s.state.String())
		}

		s.role = RoleOfferer
		s.setStateLocked(StateRoleAssigned)
		s.attachTracksLocked()

		if !s.mediaSettled {
			s.log.Debug("offer deferred until local media settles")
			s.offerDeferred = true
			return nil
		}
		return s.sendOfferLocked()
	})
}

// HandleUserJoined makes this session the answerer.
func (s *PeerSession) HandleUserJoined(msg *protocol.Message) error {
	return s.do(func() error {
		if err := s.checkRoomLocked("user joined", msg); err != nil {
			return err
		}
		if s.state != StateJoined {
			return WrapError("user joined", ErrUnexpectedSignal, "state "+s.state.String())
		}

		s.role = RoleAnswerer
		s.peerID = msg.ParticipantID
		s.setStateLocked(StateRoleAssigned)
		s.attachTracksLocked()
		return nil
	})
}

func (s *PeerSession) sendOfferLocked() error {
	if s.offerOutstanding {
		return WrapError("create offer", ErrUnexpectedSignal, "offer already outstanding")
	}

	offer, err := s.engine.CreateOffer()
	if err != nil {
		return NewError("create offer", err)
	}
	if err := s.engine.SetLocalDescription(offer); err != nil {
		return NewError("set local description", err)
	}

	s.offerOutstanding = true
	s.setStateLocked(StateNegotiating)
	return s.sendLocked(&protocol.Message{Type: protocol.TypeOffer, RoomID: s.roomID, SDP: offer})
}

// HandleOffer answers the peer's offer.
func (s *PeerSession) HandleOffer(msg *protocol.Message) error {
	return s.do(func() error {
		if err := s.checkRoomLocked("offer", msg); err != nil {
			return err
		}
		if msg.SDP == nil || (msg.SDP.Type != "" && msg.SDP.Type != protocol.SDPTypeOffer) {
			return WrapError("offer", ErrUnexpectedSignal, "missing offer description")
		}
		if s.role == RoleOfferer {
			return WrapError("offer", ErrUnexpectedSignal, "offer received by the offerer")
		}

		// The server sends user_joined before relaying anything, but an
		// offer is enough to know our role.
		if s.state == StateJoined {
			s.role = RoleAnswerer
			s.setStateLocked(StateRoleAssigned)
		}
		if s.state != StateRoleAssigned {
			return WrapError("offer", ErrUnexpectedSignal, "state "+s.state.String())
		}

		if s.peerID == "" {
			s.peerID = msg.From
		}
		s.attachTracksLocked()

		if !s.mediaSettled {
			s.log.Debug("answer deferred until local media settles")
			s.pendingOffer = msg.SDP
			return nil
		}
		return s.answerLocked(msg.SDP)
	})
}

func (s *PeerSession) answerLocked(offer *protocol.SessionDescription) error {
	if err := s.engine.SetRemoteDescription(offer); err != nil {
		return NewError("set remote description", err)
	}
	s.remoteSet = true
	s.flushCandidatesLocked()

	answer, err := s.engine.CreateAnswer()
	if err != nil {
		return NewError("create answer", err)
	}
	if err := s.engine.SetLocalDescription(answer); err != nil {
		return NewError("set local description", err)
	}

	s.setStateLocked(StateNegotiating)
	return s.sendLocked(&protocol.Message{Type: protocol.TypeAnswer, RoomID: s.roomID, SDP: answer})
}

// HandleAnswer applies the peer's answer to our outstanding offer. An
// answer with no offer outstanding is rejected without touching state.
func (s *PeerSession) HandleAnswer(msg *protocol.Message) error {
	return s.do(func() error {
		if err := s.checkRoomLocked("answer", msg); err != nil {
			return err
		}
		if msg.SDP == nil || (msg.SDP.Type != "" && msg.SDP.Type != protocol.SDPTypeAnswer) {
			return WrapError("answer", ErrUnexpectedSignal, "missing answer description")
		}
		if !s.offerOutstanding {
			return WrapError("answer", ErrNoOutstandingOffer, "state "+s.state.String())
		}

		if err := s.engine.SetRemoteDescription(msg.SDP); err != nil {
			return NewError("set remote description", err)
		}

		s.offerOutstanding = false
		s.remoteSet = true
		if s.peerID == "" {
			s.peerID = msg.From
		}
		s.flushCandidatesLocked()
		return nil
	})
}

// HandleCandidate applies a remote candidate, or queues it until the
// remote description is set.
func (s *PeerSession) HandleCandidate(msg *protocol.Message) error {
	return s.do(func() error {
		if err := s.checkRoomLocked("ice candidate", msg); err != nil {
			return err
		}
		if msg.Candidate == nil {
			return WrapError("ice candidate", ErrUnexpectedSignal, "missing candidate")
		}

		if s.engine == nil || !s.remoteSet {
			s.pendingCandidates = append(s.pendingCandidates, msg.Candidate)
			return nil
		}
		if err := s.engine.AddICECandidate(msg.Candidate); err != nil {
			return NewError("add ice candidate", err)
		}
		return nil
	})
}

func (s *PeerSession) flushCandidatesLocked() {
	if len(s.pendingCandidates) == 0 {
		return
	}

	s.log.Debug("applying queued candidates", "count", len(s.pendingCandidates))
	for _, c := range s.pendingCandidates {
		if err := s.engine.AddICECandidate(c); err != nil {
			s.log.Warn("queued candidate rejected", "err", err)
		}
	}
	s.pendingCandidates = nil
}

// HandlePeerLeft ends the call when the other participant goes away.
func (s *PeerSession) HandlePeerLeft(msg *protocol.Message) error {
	return s.do(func() error {
		if s.state == StateClosed {
			return nil
		}
		if s.state < StateRoleAssigned {
			s.log.Debug("peer left before negotiation", "participant", msg.ParticipantID)
			return nil
		}

		s.emitLocked(Event{Kind: EventPeerLeft, State: s.state, Role: s.role})
		s.closeLocked(ErrPeerLeft)
		return nil
	})
}

// HandleServerError handles an error message from the server. Join
// rejections end the session.
func (s *PeerSession) HandleServerError(msg *protocol.Message) error {
	return s.do(func() error {
		if s.state == StateClosed {
			return nil
		}

		switch msg.Error {
		case protocol.ErrCodeRoomFull, protocol.ErrCodeInvalidRoomID:
			s.closeLocked(WrapError("join room", ErrSignalingError, msg.Error))
			return nil
		default:
			return WrapError("server", ErrSignalingError, msg.Error)
		}
	})
}

// HandleEngineState follows the peer connection state.
func (s *PeerSession) HandleEngineState(state ConnectionState) {
	s.do(func() error {
		if s.state == StateClosed {
			return nil
		}

		s.log.Debug("peer connection state", "state", state)
		switch state {
		case ConnectionStateConnected:
			if s.state == StateNegotiating {
				s.setStateLocked(StateConnected)
			}
		case ConnectionStateDisconnected:
			s.log.Warn("peer connection interrupted")
		case ConnectionStateFailed, ConnectionStateClosed:
			s.closeLocked(WrapError("peer connection", ErrConnectionFailed, state.String()))
		}
		return nil
	})
}

func (s *PeerSession) handleLocalCandidate(c *protocol.ICECandidate) {
	if c == nil {
		return
	}
	s.do(func() error {
		if s.state == StateClosed {
			return nil
		}
		return s.sendLocked(&protocol.Message{Type: protocol.TypeICECandidate, RoomID: s.roomID, Candidate: c})
	})
}

func (s *PeerSession) handleRemoteTrack(track RemoteTrack) {
	s.do(func() error {
		if s.state == StateClosed {
			return nil
		}
		s.log.Info("remote track", "track", track.ID(), "kind", track.Kind(), "codec", track.Codec())
		s.emitLocked(Event{Kind: EventRemoteTrack, State: s.state, Role: s.role, Track: track})
		return nil
	})
}

// HandleDisconnected notes that the transport dropped. What happens on
// reconnect depends on how far the session got.
func (s *PeerSession) HandleDisconnected() {
	s.do(func() error {
		if s.state != StateClosed {
			s.disconnected = true
		}
		return nil
	})
}

// HandleTransportClosed closes the session after the transport gave up.
func (s *PeerSession) HandleTransportClosed(cause error) {
	s.do(func() error {
		if cause == nil {
			s.closeLocked(ErrTransportClosed)
		} else {
			s.closeLocked(WrapError("signaling", ErrTransportClosed, cause.Error()))
		}
		return nil
	})
}

// Close leaves the room and releases everything. It returns once the
// session is Closed; calling it again does nothing.
func (s *PeerSession) Close() {
	s.do(func() error {
		if s.state == StateClosed {
			return nil
		}
		if s.state >= StateJoined && !s.disconnected {
			s.sendLocked(&protocol.Message{Type: protocol.TypeLeaveRoom, RoomID: s.roomID})
		}
		s.closeLocked(nil)
		return nil
	})
}

func (s *PeerSession) closeLocked(reason error) {
	if s.state == StateClosed {
		return
	}

	if reason != nil {
		s.log.Info("session closing", "state", s.state, "reason", reason)
	} else {
		s.log.Info("session closing", "state", s.state)
	}

	s.state = StateClosed
	s.err = reason
	s.emitLocked(Event{Kind: EventStateChanged, State: StateClosed, Role: s.role, Err: reason})

	if s.cancelMedia != nil {
		s.cancelMedia()
		s.cancelMedia = nil
	}
	if s.engine != nil {
		engine := s.engine
		s.release = append(s.release, func() {
			if err := engine.Close(); err != nil {
				s.log.Debug("engine close", "err", err)
			}
		})
	}
	if s.stream != nil {
		s.release = append(s.release, s.stream.Stop)
	}

	s.engine = nil
	s.stream = nil
	s.attached = make(map[string]struct{})
	s.offerOutstanding = false
	s.offerDeferred = false
	s.pendingOffer = nil
	s.pendingCandidates = nil
	s.remoteSet = false

	close(s.done)
}

func (s *PeerSession) checkRoomLocked(op string, msg *protocol.Message) error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if msg.RoomID != "" && msg.RoomID != s.roomID {
		return WrapError(op, ErrUnexpectedSignal, "message for room "+msg.RoomID)
	}
	return nil
}

func (s *PeerSession) sendLocked(msg *protocol.Message) error {
	if err := s.sender.Send(msg); err != nil {
		s.log.Warn("failed to send signaling message", "type", msg.Type, "err", err)
		return NewError("send "+msg.Type, err)
	}
	return nil
}
