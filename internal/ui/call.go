package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/Warpcall/internal/session"
	"github.com/BioHazard786/Warpcall/internal/utils"
)

// TickMsg refreshes counters while a call is running.
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

type sessionMsg session.Event

// CallView shows a live call and turns "q" into a leave request.
type CallView struct {
	program *tea.Program
	model   *callModel
	updates chan sessionMsg
	wg      sync.WaitGroup
}

// NewCallView builds a view for roomID. bytes, when set, is polled for the
// received byte count. leave is called once when the user quits.
func NewCallView(roomID string, bytes func() uint64, leave func()) *CallView {
	updates := make(chan sessionMsg, 256)
	return &CallView{
		model:   newCallModel(roomID, bytes, leave, updates),
		updates: updates,
	}
}

// Start runs the view inline, keeping earlier terminal output visible.
func (v *CallView) Start() {
	v.program = tea.NewProgram(v.model)
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if _, err := v.program.Run(); err != nil {
			fmt.Printf("UI error: %v\n", err)
		}
	}()
}

// Observe is a session observer. Events beyond the buffer are dropped; the
// next state change repaints the view anyway.
func (v *CallView) Observe(ev session.Event) {
	select {
	case v.updates <- sessionMsg(ev):
	default:
	}
}

// Stop quits the view and waits for the terminal to be restored.
func (v *CallView) Stop() {
	if v.program != nil {
		v.program.Quit()
	}
	v.wg.Wait()
}

type callModel struct {
	roomID  string
	bytesFn func() uint64
	leave   func()
	updates <-chan sessionMsg
	spinner spinner.Model

	state       session.State
	role        session.Role
	tracks      []string
	bytes       uint64
	connectedAt time.Time
	lastErr     error
	quitting    bool
	leaveOnce   sync.Once
}

func newCallModel(roomID string, bytes func() uint64, leave func(), updates <-chan sessionMsg) *callModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &callModel{
		roomID:  roomID,
		bytesFn: bytes,
		leave:   leave,
		updates: updates,
		spinner: s,
	}
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), tickCmd())
}

func (m *callModel) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.leave != nil {
				m.leaveOnce.Do(m.leave)
			}
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		if m.bytesFn != nil {
			m.bytes = m.bytesFn()
		}
		if m.state == session.StateClosed {
			return m, nil
		}
		return m, tickCmd()

	case sessionMsg:
		m.apply(session.Event(msg))
		if m.state == session.StateClosed {
			return m, tea.Quit
		}
		return m, m.listen()
	}

	return m, nil
}

func (m *callModel) apply(ev session.Event) {
	m.role = ev.Role
	switch ev.Kind {
	case session.EventStateChanged:
		m.state = ev.State
		if ev.State == session.StateConnected && m.connectedAt.IsZero() {
			m.connectedAt = time.Now()
		}
		if ev.Err != nil {
			m.lastErr = ev.Err
		}
	case session.EventRemoteTrack:
		if ev.Track != nil {
			m.tracks = append(m.tracks, fmt.Sprintf("%s %s (%s)", trackIcon(ev.Track.Kind()), ev.Track.Kind(), ev.Track.Codec()))
		}
	case session.EventMediaFailed:
		m.lastErr = ev.Err
	}
}

func trackIcon(kind string) string {
	if kind == "audio" {
		return IconAudio
	}
	return IconVideo
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	status := m.spinner.View() + " " + stateLabel(m.state)
	if m.state == session.StateConnected {
		status = SuccessStyle.Render(IconConnect + " connected")
	}
	fmt.Fprintf(&b, "%s Room %s  %s\n", IconCall, BoldStyle.Render(m.roomID), StatusStyle.Render(m.role.String()))
	fmt.Fprintf(&b, "%s\n", status)

	if !m.connectedAt.IsZero() {
		fmt.Fprintf(&b, "%s %s   received %s\n", IconTime,
			utils.FormatTimeDuration(time.Since(m.connectedAt)),
			utils.FormatSize(int64(m.bytes)))
	}

	for _, t := range m.tracks {
		fmt.Fprintf(&b, "  %s\n", t)
	}

	if m.lastErr != nil {
		fmt.Fprintf(&b, "%s\n", WarningStyle.Render(m.lastErr.Error()))
	}

	b.WriteString(MutedStyle.Render("Press q to leave"))
	return CallBoxStyle.Render(b.String())
}

func stateLabel(s session.State) string {
	switch s {
	case session.StateIdle, session.StateConnecting:
		return "connecting to signaling server..."
	case session.StateJoined:
		return "waiting for a peer to join..."
	case session.StateRoleAssigned, session.StateNegotiating:
		return "negotiating call..."
	case session.StateClosed:
		return "call ended"
	}
	return s.String()
}
