package engine

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/BioHazard786/Warpcall/internal/utils"
)

// pliInterval is how often a keyframe is requested for remote video.
const pliInterval = 3 * time.Second

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// sink reads a remote track until it ends, optionally writing it to disk.
// It doubles as the session.RemoteTrack handed to the session.
type sink struct {
	track *webrtc.TrackRemote
	owner *PeerConnection

	stopOnce sync.Once
	done     chan struct{}
}

func (p *PeerConnection) startSink(track *webrtc.TrackRemote) *sink {
	s := &sink{track: track, owner: p, done: make(chan struct{})}

	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()

	p.log.Info("remote track",
		"kind", track.Kind().String(),
		"id", track.ID(),
		"codec", track.Codec().MimeType,
	)

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go s.requestKeyframes()
	}
	go s.read()
	return s
}

func (s *sink) ID() string       { return s.track.ID() }
func (s *sink) Kind() string     { return s.track.Kind().String() }
func (s *sink) StreamID() string { return s.track.StreamID() }
func (s *sink) Codec() string    { return s.track.Codec().MimeType }

func (s *sink) close() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *sink) requestKeyframes() {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()

	for {
		pkt := []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(s.track.SSRC())}}
		if err := s.owner.pc.WriteRTCP(pkt); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-s.done:
			return
		}
	}
}

func (s *sink) read() {
	defer s.close()

	w, path := s.openRecorder()
	if w != nil {
		defer func() {
			if err := w.Close(); err != nil {
				s.owner.log.Warn("close recording", "path", path, "error", err)
			}
		}()
	}

	for {
		pkt, _, err := s.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.owner.log.Debug("remote track ended", "id", s.track.ID(), "error", err)
			}
			return
		}
		s.owner.bytesReceived.Add(uint64(len(pkt.Payload)))

		if w != nil {
			if err := w.WriteRTP(pkt); err != nil {
				s.owner.log.Warn("write recording", "path", path, "error", err)
				return
			}
		}
	}
}

// openRecorder picks a writer by codec. Codecs without a container are
// still drained but not recorded.
func (s *sink) openRecorder() (rtpWriter, string) {
	dir := s.owner.opts.RecordDir
	if dir == "" {
		return nil, ""
	}

	codec := s.track.Codec()
	var ext string
	switch {
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeVP8):
		ext = ".ivf"
	case strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus):
		ext = ".ogg"
	default:
		s.owner.log.Info("not recording unsupported codec", "codec", codec.MimeType)
		return nil, ""
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.owner.log.Warn("create record dir", "dir", dir, "error", err)
		return nil, ""
	}
	path := utils.UniqueFilename(filepath.Join(dir, s.track.Kind().String()+ext))

	var (
		w   rtpWriter
		err error
	)
	if ext == ".ivf" {
		w, err = ivfwriter.New(path)
	} else {
		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}
		w, err = oggwriter.New(path, codec.ClockRate, channels)
	}
	if err != nil {
		s.owner.log.Warn("open recording", "path", path, "error", err)
		return nil, ""
	}

	s.owner.log.Info("recording remote track", "path", path)
	return w, path
}
