// Package vad decides when the user has stopped speaking, so a capture
// session can be truncated before its hard timeout.
package vad

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds the detection thresholds. They are supplied by the caller so
// the algorithm body carries no tuning constants of its own.
type Config struct {
	// SampleInterval is how often the stream energy is read.
	SampleInterval time.Duration
	// SilenceThreshold is the mean amplitude below which a window counts as silence.
	SilenceThreshold float64
	// SilenceDuration is how long continuous silence must last before a verdict.
	SilenceDuration time.Duration
	// MinSpeech is how long the session must run before silence detection acts.
	MinSpeech time.Duration
}

// LevelReader reports the current audio energy of a live stream. An error
// means the underlying analyser is gone (stream already torn down).
type LevelReader interface {
	Level() (float64, error)
}

// Detector samples a LevelReader on a fixed interval and raises a silence
// verdict once continuous silence exceeds the configured duration, provided a
// minimum speech window has elapsed first. One Detector serves exactly one
// capture session.
type Detector struct {
	cfg       Config
	src       LevelReader
	onSilence func()
	log       *zap.Logger

	mu           sync.Mutex
	speechStart  time.Time
	silenceStart time.Time
	stopped      bool
	quit         chan struct{}
}

func New(cfg Config, src LevelReader, onSilence func(), log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{
		cfg:       cfg,
		src:       src,
		onSilence: onSilence,
		log:       log,
		quit:      make(chan struct{}),
	}
}

// Start begins sampling. The speech clock starts now.
func (d *Detector) Start() {
	d.mu.Lock()
	d.speechStart = time.Now()
	d.mu.Unlock()
	go d.sample()
}

// Stop cancels sampling and clears both timestamps. Safe to call multiple
// times and from any state, including never-started.
func (d *Detector) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.speechStart = time.Time{}
	d.silenceStart = time.Time{}
	close(d.quit)
	d.mu.Unlock()
}

// Running reports whether the sampling loop is still live.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.stopped
}

func (d *Detector) sample() {
	ticker := time.NewTicker(d.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.quit:
			return
		case now := <-ticker.C:
			level, err := d.src.Level()
			if err != nil {
				// Analyser gone mid-sampling: implicit stop, no verdict.
				d.log.Debug("vad level source unavailable, stopping", zap.Error(err))
				d.Stop()
				return
			}
			if d.observe(level, now) {
				d.Stop()
				d.onSilence()
				return
			}
		}
	}
}

// observe classifies one sample window and reports whether the silence
// verdict should be raised. Split from the ticker loop so thresholds can be
// exercised with synthetic levels and timestamps.
func (d *Detector) observe(level float64, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}

	// A person must speak for some minimum time before silence detection is
	// allowed to act, or the very first syllable would truncate the session.
	if now.Sub(d.speechStart) < d.cfg.MinSpeech {
		return false
	}

	if level < d.cfg.SilenceThreshold {
		if d.silenceStart.IsZero() {
			d.silenceStart = now
			return false
		}
		return now.Sub(d.silenceStart) >= d.cfg.SilenceDuration
	}

	// Speech resumed: the silence clock resets, it does not pause.
	d.silenceStart = time.Time{}
	return false
}
