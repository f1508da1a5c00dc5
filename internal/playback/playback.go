// Package playback defines how synthesized audio is played back to the
// user. The orchestrator allows at most one live Playback at a time.
package playback

import (
	"context"
	"errors"
	"sync"
)

// ErrBlocked means the host refused to start audio (autoplay restriction).
// It is a benign condition, not an application error.
var ErrBlocked = errors.New("playback: blocked by host")

// Player starts playback of one audio blob.
type Player interface {
	Play(ctx context.Context, audio []byte) (Playback, error)
}

// Playback is one in-flight audio playback.
type Playback interface {
	// Done is closed when playback ends, errors or is stopped.
	Done() <-chan struct{}
	// Err reports the terminal error, valid once Done is closed.
	Err() error
	// Stop halts playback and releases the handle. Idempotent.
	Stop()
}

// Handle is a Playback implementation for players whose completion arrives
// as an asynchronous event. The player finishes it when the host reports
// the end of playback; Stop invokes the player's stop hook first.
type Handle struct {
	stop func()

	mu   sync.Mutex
	done chan struct{}
	err  error
	over bool
}

func NewHandle(stop func()) *Handle {
	return &Handle{stop: stop, done: make(chan struct{})}
}

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Finish marks the playback as over. Only the first call takes effect.
func (h *Handle) Finish(err error) {
	h.mu.Lock()
	if h.over {
		h.mu.Unlock()
		return
	}
	h.over = true
	h.err = err
	close(h.done)
	h.mu.Unlock()
}

func (h *Handle) Stop() {
	h.mu.Lock()
	over := h.over
	h.mu.Unlock()
	if over {
		return
	}
	if h.stop != nil {
		h.stop()
	}
	h.Finish(nil)
}
