package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/discovery"
	"github.com/BioHazard786/Warpcall/internal/engine"
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/session"
	"github.com/BioHazard786/Warpcall/internal/transport"
	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/BioHazard786/Warpcall/internal/utils"
)

// callStats collects what the summary table shows.
type callStats struct {
	tracks      atomic.Int32
	connectedAt atomic.Int64
}

func (s *callStats) observe(ev session.Event) {
	switch {
	case ev.Kind == session.EventRemoteTrack:
		s.tracks.Add(1)
	case ev.Kind == session.EventStateChanged && ev.State == session.StateConnected:
		s.connectedAt.CompareAndSwap(0, time.Now().UnixNano())
	}
}

func (s *callStats) duration() time.Duration {
	at := s.connectedAt.Load()
	if at == 0 {
		return 0
	}
	return time.Since(time.Unix(0, at))
}

// resolveServerURL returns the configured endpoint, or the first server
// found on the LAN when discovery is on.
func resolveServerURL(ctx context.Context, cfg *config.Config, browse func(context.Context) (discovery.Server, error)) (string, error) {
	if !cfg.Discover {
		return cfg.ServerURL, nil
	}

	s := ui.NewConnectionSpinner("Looking for a server on the local network...")
	s.Start()
	server, err := browse(ctx)
	if err != nil {
		s.Error("No server found on the local network")
		return "", session.NewError("discover server", err)
	}
	s.Success(fmt.Sprintf("Found %s", server.Instance))
	return server.URL(), nil
}

func browseFirst(ctx context.Context) (discovery.Server, error) {
	b, err := discovery.NewBrowser()
	if err != nil {
		return discovery.Server{}, err
	}
	return b.First(ctx)
}

// runCall joins roomID and blocks until the call ends.
func runCall(ctx context.Context, cfg *config.Config, roomID string) error {
	serverURL, err := resolveServerURL(ctx, cfg, browseFirst)
	if err != nil {
		return err
	}

	ch, err := transport.New(serverURL, transport.Options{
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	})
	if err != nil {
		return session.NewError("connect to server", err)
	}

	// The session creates one engine; keep a handle for the byte counter.
	var pc atomic.Pointer[engine.PeerConnection]
	opts := engine.OptionsFromConfig(cfg)
	newEngine := func() (session.Engine, error) {
		p, err := engine.New(opts)
		if err != nil {
			return nil, err
		}
		pc.Store(p)
		return p, nil
	}
	received := func() uint64 {
		if p := pc.Load(); p != nil {
			return p.BytesReceived()
		}
		return 0
	}

	stats := &callStats{}
	var view *ui.CallView
	var ctrl *session.Controller

	observer := func(ev session.Event) {
		stats.observe(ev)
		if view != nil {
			view.Observe(ev)
			return
		}
		logEvent(ev)
	}

	ctrl, err = session.NewController(ch, session.ControllerConfig{
		RoomID:    roomID,
		NewEngine: newEngine,
		Media:     media.NewSource(cfg.VideoFile, cfg.AudioFile, slog.Default()),
		Observer:  observer,
		Logger:    slog.Default(),
	})
	if err != nil {
		return err
	}

	if !flags.plain {
		view = ui.NewCallView(roomID, received, ctrl.Leave)
		view.Start()
	}

	runErr := ctrl.Run(ctx)
	if view != nil {
		view.Stop()
	}

	result := "left"
	switch {
	case errors.Is(runErr, session.ErrPeerLeft):
		result = "peer left"
	case runErr != nil:
		result = "failed"
	}

	fmt.Println()
	ui.RenderCallSummary(ui.CallSummary{
		RoomID:        roomID,
		Role:          ctrl.Session().Role().String(),
		Duration:      utils.FormatTimeDuration(stats.duration()),
		Tracks:        int(stats.tracks.Load()),
		BytesReceived: utils.FormatSize(int64(received())),
		Result:        result,
	})

	// The peer hanging up is a normal end of call.
	if errors.Is(runErr, session.ErrPeerLeft) {
		return nil
	}
	return runErr
}

func logEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventStateChanged:
		slog.Info("call state", "state", ev.State, "role", ev.Role, "error", ev.Err)
	case session.EventRemoteTrack:
		slog.Info("remote track", "kind", ev.Track.Kind(), "codec", ev.Track.Codec())
	case session.EventMediaFailed:
		slog.Warn("local media unavailable, receiving only", "error", ev.Err)
	case session.EventPeerLeft:
		slog.Info("peer left the room")
	}
}
