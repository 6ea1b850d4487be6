package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	// oggPageDuration matches the usual 20ms Opus frame.
	oggPageDuration = 20 * time.Millisecond

	// defaultFrameDuration paces video whose IVF timebase is unusable.
	defaultFrameDuration = 33 * time.Millisecond
)

var errEmptyFile = errors.New("file has no frames")

// loop plays a file over and over, pacing samples on one ticker, until
// done is closed.
func loop(done <-chan struct{}, every time.Duration, play func(<-chan struct{}, <-chan time.Time) (int, error)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		sent, err := play(done, ticker.C)
		select {
		case <-done:
			return nil
		default:
		}
		if err != nil {
			return err
		}
		if sent == 0 {
			return errEmptyFile
		}
	}
}

// videoPump replays an IVF file, one frame per timebase tick.
type videoPump struct {
	path  string
	local *webrtc.TrackLocalStaticSample
	frame time.Duration
}

func newVideoPump(path, streamID string) (*videoPump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, err
	}

	mime, err := videoMime(header.FourCC)
	if err != nil {
		return nil, err
	}

	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", streamID)
	if err != nil {
		return nil, err
	}

	return &videoPump{path: path, local: local, frame: frameDuration(header)}, nil
}

// frameDuration derives the per-frame interval from the IVF timebase and
// falls back to ~30fps when the header yields a non-positive interval.
func frameDuration(header *ivfreader.IVFFileHeader) time.Duration {
	if header.TimebaseDenominator == 0 {
		return defaultFrameDuration
	}
	frame := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	if frame <= 0 {
		return defaultFrameDuration
	}
	return frame
}

func videoMime(fourCC string) (string, error) {
	switch strings.ToUpper(fourCC) {
	case "VP80":
		return webrtc.MimeTypeVP8, nil
	case "VP90":
		return webrtc.MimeTypeVP9, nil
	case "AV01":
		return webrtc.MimeTypeAV1, nil
	}
	return "", fmt.Errorf("unsupported ivf codec %q", fourCC)
}

func (p *videoPump) track() *webrtc.TrackLocalStaticSample { return p.local }

func (p *videoPump) run(done <-chan struct{}) error {
	return loop(done, p.frame, p.playOnce)
}

func (p *videoPump) playOnce(done <-chan struct{}, tick <-chan time.Time) (int, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r, _, err := ivfreader.NewWith(f)
	if err != nil {
		return 0, err
	}

	sent := 0
	for {
		frame, _, err := r.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}

		select {
		case <-done:
			return sent, nil
		case <-tick:
		}

		if err := p.local.WriteSample(media.Sample{Data: frame, Duration: p.frame}); err != nil {
			return sent, err
		}
		sent++
	}
}

// audioPump replays an Ogg Opus file page by page.
type audioPump struct {
	path  string
	local *webrtc.TrackLocalStaticSample
}

func newAudioPump(path, streamID string) (*audioPump, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, _, err := oggreader.NewWith(f); err != nil {
		return nil, err
	}

	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, err
	}
	return &audioPump{path: path, local: local}, nil
}

func (p *audioPump) track() *webrtc.TrackLocalStaticSample { return p.local }

func (p *audioPump) run(done <-chan struct{}) error {
	return loop(done, oggPageDuration, p.playOnce)
}

func (p *audioPump) playOnce(done <-chan struct{}, tick <-chan time.Time) (int, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r, header, err := oggreader.NewWith(f)
	if err != nil {
		return 0, err
	}

	rate := header.SampleRate
	if rate == 0 {
		rate = 48000
	}

	var lastGranule uint64
	sent := 0
	for {
		page, pageHeader, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}

		// Header pages carry no audio.
		if pageHeader.GranulePosition == 0 {
			continue
		}

		samples := pageHeader.GranulePosition - lastGranule
		lastGranule = pageHeader.GranulePosition
		duration := time.Duration(float64(samples) / float64(rate) * float64(time.Second))

		select {
		case <-done:
			return sent, nil
		case <-tick:
		}

		if err := p.local.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return sent, err
		}
		sent++
	}
}
