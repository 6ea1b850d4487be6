package session

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"

	"github.com/BioHazard786/Warpcall/internal/protocol"
)

func TestNewValidatesConfig(t *testing.T) {
	engine := func() (Engine, error) { return newFakeEngine(), nil }
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty room", Config{NewEngine: engine, Sender: &fakeSender{}}},
		{"no engine", Config{RoomID: "R1", Sender: &fakeSender{}}},
		{"no sender", Config{RoomID: "R1", NewEngine: engine}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestConnectedJoinsRoom(t *testing.T) {
	h := newHarness(t, nil).joined()

	joins := h.sender.sent(protocol.TypeJoinRoom)
	if len(joins) != 1 || joins[0].RoomID != "R1" {
		t.Fatalf("join messages = %+v", joins)
	}
	if h.session.Role() != RoleUnassigned {
		t.Errorf("role assigned before any peer: %s", h.session.Role())
	}

	// A second connected event without a disconnect changes nothing.
	if err := h.session.HandleConnected(); err != nil {
		t.Fatalf("HandleConnected: %v", err)
	}
	if n := len(h.sender.sent(protocol.TypeJoinRoom)); n != 1 {
		t.Errorf("join sent %d times", n)
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.session.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.session.Start(); !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("second Start = %v", err)
	}
}

func TestEngineFactoryFailureCloses(t *testing.T) {
	s, err := New(Config{
		RoomID:    "R1",
		NewEngine: func() (Engine, error) { return nil, errors.New("bad ice config") },
		Sender:    &fakeSender{},
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	if err := s.HandleConnected(); err == nil {
		t.Fatal("expected error")
	}
	if s.State() != StateClosed || s.Err() == nil {
		t.Fatalf("state = %s, err = %v", s.State(), s.Err())
	}
}

func TestOffererWaitsForMedia(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	media := newFakeMedia()
	h := newHarness(t, media).joined()

	if err := h.session.HandlePeerReady(&protocol.Message{Type: protocol.TypePeerReady, RoomID: "R1"}); err != nil {
		t.Fatalf("HandlePeerReady: %v", err)
	}
	if h.session.State() != StateRoleAssigned || h.session.Role() != RoleOfferer {
		t.Fatalf("state = %s role = %s", h.session.State(), h.session.Role())
	}
	if n := len(h.sender.sent(protocol.TypeOffer)); n != 0 {
		t.Fatalf("offer sent before media settled")
	}

	media.results <- mediaResult{stream: newFakeStream()}
	h.waitFor(EventMediaReady)

	offers := h.sender.sent(protocol.TypeOffer)
	if len(offers) != 1 || offers[0].SDP == nil || offers[0].SDP.SDP != "offer-1" {
		t.Fatalf("offers = %+v", offers)
	}
	if h.session.State() != StateNegotiating {
		t.Errorf("state = %s, want negotiating", h.session.State())
	}

	// Tracks go in before the offer is created.
	got := h.engine.snapshot().calls
	want := []string{"add-track:mic", "add-track:cam", "create-offer", "set-local:offer"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("engine calls = %v, want %v", got, want)
	}
}

func TestOffererWithoutMediaStillOffers(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	media := newFakeMedia()
	h := newHarness(t, media).joined()
	h.session.HandlePeerReady(&protocol.Message{Type: protocol.TypePeerReady, RoomID: "R1"})

	media.results <- mediaResult{err: errors.New("permission denied")}
	ev := h.waitFor(EventMediaFailed)
	if !errors.Is(ev.Err, ErrMediaUnavailable) {
		t.Errorf("media failure = %v", ev.Err)
	}

	if n := len(h.sender.sent(protocol.TypeOffer)); n != 1 {
		t.Fatalf("receive-only offer count = %d", n)
	}
	if n := len(h.engine.snapshot().addTrack); n != 0 {
		t.Errorf("tracks attached without media: %d", n)
	}
}

func TestAnswererFlow(t *testing.T) {
	h := newHarness(t, nil).joined()

	if err := h.session.HandleUserJoined(&protocol.Message{Type: protocol.TypeUserJoined, RoomID: "R1", ParticipantID: "B"}); err != nil {
		t.Fatalf("HandleUserJoined: %v", err)
	}
	if h.session.Role() != RoleAnswerer || h.session.PeerID() != "B" {
		t.Fatalf("role = %s peer = %q", h.session.Role(), h.session.PeerID())
	}
	if n := len(h.sender.sent(protocol.TypeOffer)); n != 0 {
		t.Fatal("answerer created an offer")
	}

	if err := h.session.HandleOffer(offerMsg("remote-offer")); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	answers := h.sender.sent(protocol.TypeAnswer)
	if len(answers) != 1 || answers[0].RoomID != "R1" || answers[0].SDP.Type != protocol.SDPTypeAnswer {
		t.Fatalf("answers = %+v", answers)
	}
	if h.session.State() != StateNegotiating {
		t.Fatalf("state = %s", h.session.State())
	}

	h.session.HandleEngineState(ConnectionStateConnected)
	if h.session.State() != StateConnected {
		t.Fatalf("state = %s after engine connected", h.session.State())
	}
}

func TestOffererCompletesOnAnswer(t *testing.T) {
	h := newHarness(t, nil).joined()
	h.session.HandlePeerReady(&protocol.Message{Type: protocol.TypePeerReady, RoomID: "R1"})

	// Engine connectivity before the answer is applied does not count.
	h.session.HandleEngineState(ConnectionStateConnecting)

	if err := h.session.HandleAnswer(answerMsg()); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	if remote := h.engine.snapshot().remote; remote == nil || remote.SDP != "answer" {
		t.Fatalf("answer not applied: %+v", remote)
	}

	h.session.HandleEngineState(ConnectionStateConnected)
	if h.session.State() != StateConnected {
		t.Fatalf("state = %s", h.session.State())
	}
}

func TestAnswerWithoutOutstandingOfferIsRejected(t *testing.T) {
	t.Run("before any offer", func(t *testing.T) {
		h := newHarness(t, nil).joined()

		err := h.session.HandleAnswer(answerMsg())
		if !errors.Is(err, ErrNoOutstandingOffer) {
			t.Fatalf("err = %v, want ErrNoOutstandingOffer", err)
		}
		if h.session.State() != StateJoined {
			t.Errorf("state changed to %s", h.session.State())
		}
		if h.engine.snapshot().remote != nil {
			t.Error("unexpected answer was applied")
		}
	})

	t.Run("second answer", func(t *testing.T) {
		h := newHarness(t, nil).joined()
		h.session.HandlePeerReady(&protocol.Message{Type: protocol.TypePeerReady, RoomID: "R1"})
		if err := h.session.HandleAnswer(answerMsg()); err != nil {
			t.Fatalf("first answer: %v", err)
		}

		if err := h.session.HandleAnswer(answerMsg()); !errors.Is(err, ErrNoOutstandingOffer) {
			t.Fatalf("second answer err = %v", err)
		}
		var applied int
		for _, c := range h.engine.snapshot().calls {
			if c == "set-remote:answer" {
				applied++
			}
		}
		if applied != 1 {
			t.Errorf("answer applied %d times", applied)
		}
	})
}

func TestTrackAttachmentIsIdempotent(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	media := newFakeMedia()
	h := newHarness(t, media).joined()

	stream := newFakeStream()
	stream.tracks = append(stream.tracks, fakeTrack{"cam", "video"})
	media.results <- mediaResult{stream: stream}
	h.waitFor(EventMediaReady)

	// Every later touchpoint tries to attach again.
	h.session.HandleUserJoined(&protocol.Message{Type: protocol.TypeUserJoined, RoomID: "R1", ParticipantID: "B"})
	h.session.HandleOffer(offerMsg("o"))

	got := h.engine.snapshot().addTrack
	want := map[string]int{"mic": 1, "cam": 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AddTrack counts = %v, want %v", got, want)
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t, nil)
	h.session.Start()

	// Before the engine even exists.
	h.session.HandleCandidate(candidateMsg("c1"))
	h.session.HandleConnected()
	h.session.HandleCandidate(candidateMsg("c2"))
	h.session.HandleUserJoined(&protocol.Message{Type: protocol.TypeUserJoined, RoomID: "R1", ParticipantID: "B"})
	h.session.HandleCandidate(candidateMsg("c3"))

	if n := len(h.engine.snapshot().candidates); n != 0 {
		t.Fatalf("%d candidates applied before remote description", n)
	}

	if err := h.session.HandleOffer(offerMsg("o")); err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	h.session.HandleCandidate(candidateMsg("c4"))

	got := h.engine.snapshot()
	if want := []string{"c1", "c2", "c3", "c4"}; !reflect.DeepEqual(got.candidates, want) {
		t.Fatalf("candidates = %v, want %v", got.candidates, want)
	}

	// Queued candidates are applied right after the remote description.
	remoteAt, firstCandidate := -1, -1
	for i, c := range got.calls {
		if c == "set-remote:offer" && remoteAt < 0 {
			remoteAt = i
		}
		if c == "add-candidate" && firstCandidate < 0 {
			firstCandidate = i
		}
	}
	if firstCandidate < remoteAt {
		t.Errorf("candidate applied at %d before remote description at %d", firstCandidate, remoteAt)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	media := newFakeMedia()
	h := newHarness(t, media).joined()
	stream := newFakeStream()
	media.results <- mediaResult{stream: stream}
	h.waitFor(EventMediaReady)

	h.session.Close()
	h.session.Close()

	if h.session.State() != StateClosed {
		t.Fatalf("state = %s", h.session.State())
	}
	select {
	case <-h.session.Done():
	default:
		t.Fatal("Done not closed")
	}
	if h.session.Err() != nil {
		t.Errorf("Err = %v after a requested leave", h.session.Err())
	}

	closedEvents := 0
	for len(h.events) > 0 {
		if ev := <-h.events; ev.Kind == EventStateChanged && ev.State == StateClosed {
			closedEvents++
		}
	}
	if closedEvents != 1 {
		t.Errorf("closed %d times", closedEvents)
	}

	if n := h.engine.snapshot().closed; n != 1 {
		t.Errorf("engine closed %d times", n)
	}
	if n := stream.stopCount(); n != 1 {
		t.Errorf("stream stopped %d times", n)
	}
	if n := len(h.sender.sent(protocol.TypeLeaveRoom)); n != 1 {
		t.Errorf("leave sent %d times", n)
	}

	if err := h.session.HandleOffer(offerMsg("late")); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("handler after close = %v", err)
	}
}

func TestMediaArrivingAfterCloseIsReleased(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	media := newFakeMedia()
	media.ignoreCtx = true
	h := newHarness(t, media).joined()

	h.session.Close()

	stream := newFakeStream()
	media.results <- mediaResult{stream: stream}

	deadline := time.Now().Add(5 * time.Second)
	for stream.stopCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("late stream was never released")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(h.engine.snapshot().addTrack); n != 0 {
		t.Errorf("late stream attached %d tracks", n)
	}
}

func TestEngineErrorsAreAbsorbed(t *testing.T) {
	h := newHarness(t, nil).joined()
	h.session.HandleUserJoined(&protocol.Message{Type: protocol.TypeUserJoined, RoomID: "R1", ParticipantID: "B"})

	h.engine.mu.Lock()
	h.engine.failSetRemote = errors.New("malformed sdp")
	h.engine.mu.Unlock()

	if err := h.session.HandleOffer(offerMsg("garbage")); err == nil {
		t.Fatal("expected error")
	}
	if h.session.State() != StateRoleAssigned {
		t.Fatalf("state = %s after failed offer", h.session.State())
	}

	// A corrective offer still works.
	h.engine.mu.Lock()
	h.engine.failSetRemote = nil
	h.engine.mu.Unlock()

	if err := h.session.HandleOffer(offerMsg("good")); err != nil {
		t.Fatalf("corrective offer: %v", err)
	}
	if h.session.State() != StateNegotiating {
		t.Fatalf("state = %s", h.session.State())
	}
}

func TestOnlyOneOfferInFlight(t *testing.T) {
	h := newHarness(t, nil).joined()

	ready := &protocol.Message{Type: protocol.TypePeerReady, RoomID: "R1"}
	if err := h.session.HandlePeerReady(ready); err != nil {
		t.Fatal(err)
	}
	if err := h.session.HandlePeerReady(ready); !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("second peer_ready = %v", err)
	}
	if err := h.session.HandleOffer(offerMsg("glare")); !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("offer to offerer = %v", err)
	}
	if n := h.engine.snapshot().offers; n != 1 {
		t.Errorf("created %d offers", n)
	}
}

func TestReconnectPolicy(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(h *harness)
		wantState  State
		wantRejoin bool
	}{
		{
			name:       "joined rejoins",
			setup:      func(h *harness) {},
			wantState:  StateJoined,
			wantRejoin: true,
		},
		{
			name: "negotiating closes",
			setup: func(h *harness) {
				h.session.HandlePeerReady(&protocol.Message{Type: protocol.TypePeerReady, RoomID: "R1"})
			},
			wantState: StateClosed,
		},
		{
			name: "connected stays",
			setup: func(h *harness) {
				h.session.HandlePeerReady(&protocol.Message{Type: protocol.TypePeerReady, RoomID: "R1"})
				h.session.HandleAnswer(answerMsg())
				h.session.HandleEngineState(ConnectionStateConnected)
			},
			wantState: StateConnected,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil).joined()
			tc.setup(h)

			h.session.HandleDisconnected()
			h.session.HandleConnected()

			if got := h.session.State(); got != tc.wantState {
				t.Fatalf("state = %s, want %s", got, tc.wantState)
			}
			rejoined := len(h.sender.sent(protocol.TypeJoinRoom)) == 2
			if rejoined != tc.wantRejoin {
				t.Errorf("rejoined = %v, want %v", rejoined, tc.wantRejoin)
			}
			if tc.wantState == StateClosed && !errors.Is(h.session.Err(), ErrTransportClosed) {
				t.Errorf("close reason = %v", h.session.Err())
			}
		})
	}
}

func TestConnectedSurvivesSignalingLoss(t *testing.T) {
	h := newHarness(t, nil).joined()
	h.session.HandleUserJoined(&protocol.Message{Type: protocol.TypeUserJoined, RoomID: "R1", ParticipantID: "B"})
	h.session.HandleOffer(offerMsg("remote-offer"))
	h.session.HandleEngineState(ConnectionStateConnected)

	// Our own signaling blips and the media path hiccups; the call stays up.
	h.session.HandleDisconnected()
	h.session.HandleEngineState(ConnectionStateDisconnected)
	h.session.HandleConnected()
	h.session.HandleEngineState(ConnectionStateConnected)

	if got := h.session.State(); got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}
	if n := len(h.sender.sent(protocol.TypeJoinRoom)); n != 1 {
		t.Errorf("sent %d join_room, want 1", n)
	}

	// Losing the peer for good shows up in the engine state.
	h.session.HandleEngineState(ConnectionStateFailed)
	if !errors.Is(h.session.Err(), ErrConnectionFailed) {
		t.Fatalf("Err = %v, want ErrConnectionFailed", h.session.Err())
	}
}

func TestTerminalEvents(t *testing.T) {
	tests := []struct {
		name    string
		trigger func(s *PeerSession)
		wantErr error
	}{
		{"room full", func(s *PeerSession) {
			s.HandleServerError(&protocol.Message{Type: protocol.TypeError, Error: protocol.ErrCodeRoomFull})
		}, ErrSignalingError},
		{"peer left", func(s *PeerSession) {
			s.HandlePeerLeft(&protocol.Message{Type: protocol.TypePeerLeft, ParticipantID: "B"})
		}, ErrPeerLeft},
		{"engine failed", func(s *PeerSession) {
			s.HandleEngineState(ConnectionStateFailed)
		}, ErrConnectionFailed},
		{"transport gave up", func(s *PeerSession) {
			s.HandleTransportClosed(errors.New("5 attempts failed"))
		}, ErrTransportClosed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil).joined()
			h.session.HandleUserJoined(&protocol.Message{Type: protocol.TypeUserJoined, RoomID: "R1", ParticipantID: "B"})

			tc.trigger(h.session)

			if h.session.State() != StateClosed {
				t.Fatalf("state = %s", h.session.State())
			}
			if !errors.Is(h.session.Err(), tc.wantErr) {
				t.Errorf("Err = %v, want %v", h.session.Err(), tc.wantErr)
			}
			if n := h.engine.snapshot().closed; n != 1 {
				t.Errorf("engine closed %d times", n)
			}
		})
	}
}

func TestUnknownServerErrorIsAbsorbed(t *testing.T) {
	h := newHarness(t, nil).joined()
	err := h.session.HandleServerError(&protocol.Message{Type: protocol.TypeError, Error: "something_else"})
	if !errors.Is(err, ErrSignalingError) {
		t.Fatalf("err = %v", err)
	}
	if h.session.State() != StateJoined {
		t.Fatalf("state = %s", h.session.State())
	}
}

func TestLocalCandidatesAndRemoteTracks(t *testing.T) {
	h := newHarness(t, nil).joined()

	h.engine.onCandidate(&protocol.ICECandidate{Candidate: "candidate:local"})
	h.engine.onCandidate(nil)

	sent := h.sender.sent(protocol.TypeICECandidate)
	if len(sent) != 1 || sent[0].RoomID != "R1" || sent[0].Candidate.Candidate != "candidate:local" {
		t.Fatalf("sent candidates = %+v", sent)
	}

	h.engine.onTrack(fakeTrack{"remote-cam", "video"})
	ev := h.waitFor(EventRemoteTrack)
	if ev.Track == nil || ev.Track.ID() != "remote-cam" {
		t.Fatalf("track event = %+v", ev)
	}
}

func TestMessagesForOtherRoomsAreIgnored(t *testing.T) {
	h := newHarness(t, nil).joined()
	err := h.session.HandlePeerReady(&protocol.Message{Type: protocol.TypePeerReady, RoomID: "R2"})
	if !errors.Is(err, ErrUnexpectedSignal) {
		t.Fatalf("err = %v", err)
	}
	if h.session.State() != StateJoined {
		t.Fatalf("state = %s", h.session.State())
	}
}

func TestStatesOnlyMoveForward(t *testing.T) {
	h := newHarness(t, nil).joined()

	var seen []State
	h.session.HandlePeerReady(&protocol.Message{Type: protocol.TypePeerReady, RoomID: "R1"})
	h.session.HandleAnswer(answerMsg())
	h.session.HandleEngineState(ConnectionStateConnected)
	h.session.HandleUserJoined(&protocol.Message{Type: protocol.TypeUserJoined, RoomID: "R1"})
	h.session.Close()

	for len(h.events) > 0 {
		if ev := <-h.events; ev.Kind == EventStateChanged {
			seen = append(seen, ev.State)
		}
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("state went from %s to %s", seen[i-1], seen[i])
		}
	}
	want := []State{StateConnecting, StateJoined, StateRoleAssigned, StateNegotiating, StateConnected, StateClosed}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("states = %v, want %v", seen, want)
	}
}
