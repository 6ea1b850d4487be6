// Package media supplies local tracks read from IVF and Ogg files.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/Warpcall/internal/session"
)

// Track is a local sample track that the engine can send.
type Track struct {
	local *webrtc.TrackLocalStaticSample
}

func (t *Track) ID() string                    { return t.local.ID() }
func (t *Track) Kind() string                  { return t.local.Kind().String() }
func (t *Track) TrackLocal() webrtc.TrackLocal { return t.local }

// FileSource plays a video file (IVF) and/or an audio file (Ogg Opus) in
// a loop for as long as the stream runs.
type FileSource struct {
	VideoFile string
	AudioFile string
	Logger    *slog.Logger
}

// NewSource returns a MediaSource for the given files, or nil when neither
// is set so the session joins receive-only.
func NewSource(videoFile, audioFile string, logger *slog.Logger) session.MediaSource {
	if videoFile == "" && audioFile == "" {
		return nil
	}
	return &FileSource{VideoFile: videoFile, AudioFile: audioFile, Logger: logger}
}

// Acquire opens every configured file and starts pumping samples. Any file
// that cannot be opened or parsed fails the whole acquisition.
func (f *FileSource) Acquire(ctx context.Context) (session.LocalStream, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	streamID := "warpcall-" + uuid.NewString()[:8]
	var pumps []pump

	if f.VideoFile != "" {
		p, err := newVideoPump(f.VideoFile, streamID)
		if err != nil {
			return nil, unavailable(f.VideoFile, err)
		}
		pumps = append(pumps, p)
	}
	if f.AudioFile != "" {
		p, err := newAudioPump(f.AudioFile, streamID)
		if err != nil {
			return nil, unavailable(f.AudioFile, err)
		}
		pumps = append(pumps, p)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &Stream{done: make(chan struct{})}
	for _, p := range pumps {
		s.tracks = append(s.tracks, &Track{local: p.track()})
		s.wg.Add(1)
		go func(p pump) {
			defer s.wg.Done()
			if err := p.run(s.done); err != nil {
				logger.Warn("media pump stopped", "track", p.track().ID(), "error", err)
			}
		}(p)
	}

	logger.Debug("local media ready", "stream", streamID, "tracks", len(s.tracks))
	return s, nil
}

func unavailable(path string, err error) error {
	return session.NewError("acquire media", fmt.Errorf("%w: %s: %w", session.ErrMediaUnavailable, path, err))
}

// Stream is a running set of file-backed tracks.
type Stream struct {
	tracks []session.Track

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func (s *Stream) Tracks() []session.Track { return s.tracks }

// Stop halts every pump and waits for them to exit.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

type pump interface {
	track() *webrtc.TrackLocalStaticSample
	run(done <-chan struct{}) error
}
