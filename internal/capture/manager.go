package capture

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thara/voice/internal/vad"
)

// session is one open recording. It owns its stream, its silence detector
// and its ceiling timer; all three die with it.
type session struct {
	id        string
	startedAt time.Time
	stream    Stream
	detector  *vad.Detector
	timer     *time.Timer
	onClose   func(Result)

	mu     sync.Mutex
	chunks [][]byte

	collected chan struct{}
}

func (s *session) append(chunk []byte) {
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
}

// Manager enforces the single-open-session invariant and runs the
// open/buffer/finalize lifecycle.
type Manager struct {
	dev    Device
	vadCfg vad.Config
	maxDur time.Duration
	log    *zap.Logger

	mu   sync.Mutex
	cur  *session
	last Result
}

func NewManager(dev Device, vadCfg vad.Config, maxDur time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{dev: dev, vadCfg: vadCfg, maxDur: ceiling(maxDur), log: log}
}

// Open acquires a stream from the device and starts recording. onClose is
// invoked exactly once with the finalized result, whichever path closes the
// session. Opening while a session is open returns ErrSessionOpen.
func (m *Manager) Open(ctx context.Context, onClose func(Result)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur != nil {
		return "", ErrSessionOpen
	}

	stream, err := m.dev.Open(ctx)
	if err != nil {
		return "", err
	}

	s := &session{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		stream:    stream,
		onClose:   onClose,
		collected: make(chan struct{}),
	}

	go func() {
		for chunk := range stream.Chunks() {
			s.append(chunk)
		}
		close(s.collected)
	}()

	s.detector = vad.New(m.vadCfg, stream, func() {
		m.Close(ReasonSilence)
	}, m.log)
	s.detector.Start()

	// Hard ceiling: neither the user nor VAD stopped the session in time.
	s.timer = time.AfterFunc(m.maxDur, func() {
		m.Close(ReasonTimeout)
	})

	m.cur = s
	m.log.Info("capture session opened", zap.String("session", s.id))
	return s.id, nil
}

// Close finalizes the open session and returns its result. Closing when no
// session is open is a no-op that returns the previous result, so late
// timers and double stops cannot re-release anything.
func (m *Manager) Close(reason Reason) Result {
	m.mu.Lock()
	s := m.cur
	if s == nil {
		res := m.last
		m.mu.Unlock()
		return res
	}
	m.cur = nil

	s.timer.Stop()
	s.detector.Stop()
	if err := s.stream.Close(); err != nil {
		m.log.Warn("stream close failed", zap.String("session", s.id), zap.Error(err))
	}
	// The stream contract closes the chunk channel on Close; wait for the
	// collector to drain what already arrived.
	<-s.collected

	s.mu.Lock()
	audio := concat(s.chunks)
	s.mu.Unlock()

	res := Result{
		SessionID: s.id,
		Reason:    reason,
		Audio:     audio,
		Empty:     len(audio) == 0,
	}
	m.last = res
	m.mu.Unlock()

	m.log.Info("capture session closed",
		zap.String("session", s.id),
		zap.String("reason", string(reason)),
		zap.Int("bytes", len(audio)),
		zap.Duration("elapsed", time.Since(s.startedAt)))

	if s.onClose != nil {
		s.onClose(res)
	}
	return res
}

// Active reports whether a session is currently open.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil
}

// VADRunning reports whether the open session's detector is still sampling.
func (m *Manager) VADRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur != nil && m.cur.detector.Running()
}
