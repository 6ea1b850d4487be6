package ui

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func NewRoomInfo(roomID, roomLink string) *RoomInfo {
	return &RoomInfo{
		RoomID:   roomID,
		RoomLink: roomLink,
	}
}

func (r *RoomInfo) View() string {
	content := fmt.Sprintf("%s Room Created!\n\n%s Room ID:    %s\n%s Room Link:  %s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)

	return RoomBoxStyle.Render(content)
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	return t
}

// CallSummary is printed when a call ends.
type CallSummary struct {
	RoomID        string
	Role          string
	Duration      string
	Tracks        int
	BytesReceived string
	Result        string
}

func CallSummaryView(s CallSummary) string {
	t := newTable(IconCall + " Call Summary")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", s.RoomID},
		{"Role", s.Role},
		{"Duration", s.Duration},
		{"Remote Tracks", s.Tracks},
		{"Received", s.BytesReceived},
		{"Result", s.Result},
	})
	return t.Render()
}

func RenderCallSummary(s CallSummary) {
	fmt.Println(CallSummaryView(s))
}

// ServerRow is one signaling server found on the local network.
type ServerRow struct {
	Name    string
	URL     string
	Version string
}

func ServersView(rows []ServerRow) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No servers found on the local network")
	}

	t := newTable(IconWeb + " Local Servers")
	t.AppendHeader(table.Row{"#", "Name", "URL", "Version"})
	for i, r := range rows {
		t.AppendRow(table.Row{i + 1, r.Name, r.URL, r.Version})
	}
	return t.Render()
}
