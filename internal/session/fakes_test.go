package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/Warpcall/internal/protocol"
	"github.com/BioHazard786/Warpcall/internal/transport"
)

type fakeTrack struct {
	id, kind string
}

func (t fakeTrack) ID() string       { return t.id }
func (t fakeTrack) Kind() string     { return t.kind }
func (t fakeTrack) StreamID() string { return "remote" }
func (t fakeTrack) Codec() string    { return "video/VP8" }

type fakeStream struct {
	tracks []Track

	mu      sync.Mutex
	stopped int
}

func newFakeStream() *fakeStream {
	return &fakeStream{tracks: []Track{fakeTrack{"mic", "audio"}, fakeTrack{"cam", "video"}}}
}

func (s *fakeStream) Tracks() []Track { return s.tracks }

func (s *fakeStream) Stop() {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type mediaResult struct {
	stream LocalStream
	err    error
}

// fakeMedia blocks Acquire until a result is pushed. With ignoreCtx it
// keeps waiting after cancellation, like a slow permission prompt.
type fakeMedia struct {
	results   chan mediaResult
	ignoreCtx bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{results: make(chan mediaResult, 1)}
}

func (m *fakeMedia) Acquire(ctx context.Context) (LocalStream, error) {
	if m.ignoreCtx {
		r := <-m.results
		return r.stream, r.err
	}
	select {
	case r := <-m.results:
		return r.stream, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fakeEngine records calls. Callbacks are fired by the test, or
// asynchronously when autoConnect is set.
type fakeEngine struct {
	mu sync.Mutex

	calls      []string
	addTrack   map[string]int
	local      *protocol.SessionDescription
	remote     *protocol.SessionDescription
	candidates []string
	offers     int
	closed     int

	failSetRemote   error
	failCreateOffer error

	// autoConnect reports connected once both descriptions are set and
	// emits one local candidate per local description.
	autoConnect bool

	onCandidate func(*protocol.ICECandidate)
	onTrack     func(RemoteTrack)
	onState     func(ConnectionState)
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{addTrack: make(map[string]int)}
}

func (e *fakeEngine) record(call string) {
	e.calls = append(e.calls, call)
}

func (e *fakeEngine) CreateOffer() (*protocol.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("create-offer")
	if e.failCreateOffer != nil {
		return nil, e.failCreateOffer
	}
	e.offers++
	return &protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", e.offers)}, nil
}

func (e *fakeEngine) CreateAnswer() (*protocol.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("create-answer")
	return &protocol.SessionDescription{Type: protocol.SDPTypeAnswer, SDP: "answer"}, nil
}

func (e *fakeEngine) SetLocalDescription(desc *protocol.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("set-local:" + desc.Type)
	e.local = desc
	if e.autoConnect {
		e.fireLocked()
	}
	return nil
}

func (e *fakeEngine) SetRemoteDescription(desc *protocol.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("set-remote:" + desc.Type)
	if e.failSetRemote != nil {
		return e.failSetRemote
	}
	e.remote = desc
	if e.autoConnect {
		e.fireLocked()
	}
	return nil
}

// fireLocked emits asynchronously, the way a real engine does from its
// own goroutines.
func (e *fakeEngine) fireLocked() {
	onCandidate, onState := e.onCandidate, e.onState
	connected := e.local != nil && e.remote != nil
	go func() {
		if onCandidate != nil {
			onCandidate(&protocol.ICECandidate{Candidate: "candidate:auto"})
		}
		if connected && onState != nil {
			onState(ConnectionStateConnected)
		}
	}()
}

func (e *fakeEngine) AddICECandidate(c *protocol.ICECandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("add-candidate")
	e.candidates = append(e.candidates, c.Candidate)
	return nil
}

func (e *fakeEngine) AddTrack(track Track) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("add-track:" + track.ID())
	e.addTrack[track.ID()]++
	return nil
}

func (e *fakeEngine) OnICECandidate(f func(*protocol.ICECandidate)) {
	e.mu.Lock()
	e.onCandidate = f
	e.mu.Unlock()
}

func (e *fakeEngine) OnTrack(f func(RemoteTrack)) {
	e.mu.Lock()
	e.onTrack = f
	e.mu.Unlock()
}

func (e *fakeEngine) OnConnectionStateChange(f func(ConnectionState)) {
	e.mu.Lock()
	e.onState = f
	e.mu.Unlock()
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed++
	onState := e.onState
	e.mu.Unlock()

	// A real engine reports its own closure.
	if onState != nil {
		onState(ConnectionStateClosed)
	}
	return nil
}

func (e *fakeEngine) snapshot() fakeEngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	tracks := make(map[string]int, len(e.addTrack))
	for k, v := range e.addTrack {
		tracks[k] = v
	}
	return fakeEngineState{
		calls:      append([]string(nil), e.calls...),
		addTrack:   tracks,
		remote:     e.remote,
		candidates: append([]string(nil), e.candidates...),
		offers:     e.offers,
		closed:     e.closed,
	}
}

type fakeEngineState struct {
	calls      []string
	addTrack   map[string]int
	remote     *protocol.SessionDescription
	candidates []string
	offers     int
	closed     int
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []*protocol.Message
	err  error
}

func (s *fakeSender) Send(msg *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *fakeSender) sent(typ string) []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*protocol.Message
	for _, m := range s.msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// fakeTransport lets tests inject channel events.
type fakeTransport struct {
	fakeSender

	events  chan transport.Event
	openErr error

	mu       sync.Mutex
	closeErr error
	closes   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 16)}
}

func (t *fakeTransport) Open(context.Context) error { return t.openErr }

func (t *fakeTransport) Events() <-chan transport.Event { return t.events }

func (t *fakeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeErr
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// harness is a session wired to fakes, with observer events on a channel.
type harness struct {
	t       *testing.T
	session *PeerSession
	engine  *fakeEngine
	sender  *fakeSender
	media   *fakeMedia
	events  chan Event
}

func newHarness(t *testing.T, media *fakeMedia) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		engine: newFakeEngine(),
		sender: &fakeSender{},
		media:  media,
		events: make(chan Event, 64),
	}

	cfg := Config{
		RoomID:    "R1",
		NewEngine: func() (Engine, error) { return h.engine, nil },
		Sender:    h.sender,
		Observer:  func(ev Event) { h.events <- ev },
	}
	if media != nil {
		cfg.Media = media
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.session = s
	return h
}

// joined drives the harness to Joined.
func (h *harness) joined() *harness {
	h.t.Helper()
	if err := h.session.Start(); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	if err := h.session.HandleConnected(); err != nil {
		h.t.Fatalf("HandleConnected: %v", err)
	}
	if got := h.session.State(); got != StateJoined {
		h.t.Fatalf("state = %s, want joined", got)
	}
	return h
}

// waitFor returns the next observer event of kind, skipping others.
func (h *harness) waitFor(kind EventKind) Event {
	h.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			h.t.Fatalf("timed out waiting for event %d", kind)
			return Event{}
		}
	}
}

// waitState polls until the session reaches want.
func waitState(t *testing.T, s *PeerSession, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", s.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func offerMsg(sdp string) *protocol.Message {
	return &protocol.Message{Type: protocol.TypeOffer, RoomID: "R1", From: "peer", SDP: &protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: sdp}}
}

func answerMsg() *protocol.Message {
	return &protocol.Message{Type: protocol.TypeAnswer, RoomID: "R1", From: "peer", SDP: &protocol.SessionDescription{Type: protocol.SDPTypeAnswer, SDP: "answer"}}
}

func candidateMsg(c string) *protocol.Message {
	return &protocol.Message{Type: protocol.TypeICECandidate, RoomID: "R1", From: "peer", Candidate: &protocol.ICECandidate{Candidate: c}}
}
