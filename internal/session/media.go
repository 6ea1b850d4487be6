package session

import "context"

// LocalStream is a set of captured tracks. The capture subsystem owns the
// tracks; Stop releases them.
type LocalStream interface {
	Tracks() []Track
	Stop()
}

// MediaSource acquires the local stream. Acquire may block until devices
// are ready and must give up when ctx is cancelled.
type MediaSource interface {
	Acquire(ctx context.Context) (LocalStream, error)
}
