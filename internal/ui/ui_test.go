package ui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/Warpcall/internal/session"
)

type remoteTrack struct{ kind, codec string }

func (t remoteTrack) ID() string       { return t.kind }
func (t remoteTrack) Kind() string     { return t.kind }
func (t remoteTrack) StreamID() string { return "s" }
func (t remoteTrack) Codec() string    { return t.codec }

func TestCallModelFollowsSession(t *testing.T) {
	m := newCallModel("kitten-waffle", func() uint64 { return 2048 }, nil, make(chan sessionMsg))

	if !strings.Contains(m.View(), "connecting") {
		t.Fatalf("initial view = %q", m.View())
	}

	m.Update(sessionMsg{Kind: session.EventStateChanged, State: session.StateJoined})
	if !strings.Contains(m.View(), "waiting for a peer") {
		t.Fatalf("joined view = %q", m.View())
	}

	m.Update(sessionMsg{Kind: session.EventStateChanged, State: session.StateConnected, Role: session.RoleOfferer})
	m.Update(sessionMsg{Kind: session.EventRemoteTrack, State: session.StateConnected, Role: session.RoleOfferer, Track: remoteTrack{"video", "video/VP8"}})
	m.Update(TickMsg{})

	view := m.View()
	for _, want := range []string{"connected", "video/VP8", "2.00 KB", session.RoleOfferer.String()} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestCallModelQuitsWhenClosed(t *testing.T) {
	m := newCallModel("r", nil, nil, make(chan sessionMsg))

	_, cmd := m.Update(sessionMsg{Kind: session.EventStateChanged, State: session.StateClosed, Err: errors.New("peer left the room")})
	if cmd == nil {
		t.Fatal("no command after close")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("view did not quit on close")
	}
	if !strings.Contains(m.View(), "peer left the room") {
		t.Errorf("view = %q", m.View())
	}
}

func TestCallModelLeaveOnce(t *testing.T) {
	leaves := 0
	m := newCallModel("r", nil, func() { leaves++ }, make(chan sessionMsg))

	q := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}
	m.Update(q)
	m.Update(q)
	if leaves != 1 {
		t.Fatalf("leave called %d times", leaves)
	}
	if m.View() != "" {
		t.Errorf("view after quit = %q", m.View())
	}
}

func TestTables(t *testing.T) {
	summary := CallSummaryView(CallSummary{
		RoomID:        "kitten-waffle",
		Role:          "answerer",
		Duration:      "1m 5s",
		Tracks:        2,
		BytesReceived: "3.00 MB",
		Result:        "peer left",
	})
	for _, want := range []string{"kitten-waffle", "answerer", "1m 5s", "3.00 MB", "peer left"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	servers := ServersView([]ServerRow{{Name: "office", URL: "ws://10.0.0.2:8080/ws", Version: "dev"}})
	if !strings.Contains(servers, "office") || !strings.Contains(servers, "ws://10.0.0.2:8080/ws") {
		t.Errorf("servers view:\n%s", servers)
	}
	if !strings.Contains(ServersView(nil), "No servers") {
		t.Error("empty servers view")
	}

	room := NewRoomInfo("kitten-waffle", "https://example.com/r/kitten-waffle").View()
	if !strings.Contains(room, "kitten-waffle") {
		t.Errorf("room view:\n%s", room)
	}
}
