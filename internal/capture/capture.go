// Package capture owns the microphone lifecycle: it opens recording
// sessions against a Device, buffers the audio the device produces, and
// finalizes each session into a single blob on close.
package capture

import (
	"bytes"
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied means the host or user refused microphone access.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")
	// ErrDeviceUnavailable means no usable audio device is attached.
	ErrDeviceUnavailable = errors.New("capture: audio device unavailable")
	// ErrSessionOpen means a session is already open; only one may exist.
	ErrSessionOpen = errors.New("capture: a session is already open")
)

// Reason records why a session closed.
type Reason string

const (
	ReasonManual  Reason = "manual"
	ReasonTimeout Reason = "timeout"
	ReasonSilence Reason = "silence"
)

// Stream is one live recording handed out by a Device. Close must release
// the underlying hardware (the mic light turns off) and close the Chunks
// channel so buffered collection can drain and finish.
type Stream interface {
	// Chunks yields binary audio fragments as they arrive.
	Chunks() <-chan []byte
	// Level reports the current audio energy for silence detection. It
	// returns an error once the stream is torn down.
	Level() (float64, error)
	Close() error
}

// Device abstracts the host media layer that produces Streams.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Result is the finalized output of one session.
type Result struct {
	SessionID string
	Reason    Reason
	Audio     []byte
	// Empty is set when zero audio was collected, so callers can skip
	// transcription instead of sending a zero-length blob.
	Empty bool
}

func concat(chunks [][]byte) []byte {
	return bytes.Join(chunks, nil)
}

// never lets a zero duration disarm the ceiling timer entirely.
func ceiling(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
