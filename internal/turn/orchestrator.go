// Package turn is the conversational state machine binding capture, remote
// transcription, query answering, speech synthesis and playback into one
// resumable cycle, including the hands-free always-on loop.
package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"thara/voice/internal/capture"
	"thara/voice/internal/convo"
	"thara/voice/internal/playback"
	"thara/voice/internal/query"
)

type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateAnswering    State = "answering"
	StateSpeaking     State = "speaking"
)

// Transcriber converts a finalized audio blob to text. An empty string
// means "no speech", which is not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Answerer answers a natural-language question about the connected dataset.
type Answerer interface {
	Ask(ctx context.Context, question, conversationID string) (query.Answer, error)
}

// Synthesizer converts reply text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Presenter is the presentation collaborator: it receives immutable turn
// records and transient notices, never raw errors.
type Presenter interface {
	Append(role convo.Role, content string, meta map[string]any) convo.Turn
	Notify(kind, message string) convo.Notice
}

// Gate reports whether a dataset is connected and ready for querying.
type Gate interface {
	Ready() bool
	PromptConnect()
}

type Config struct {
	// HandsFree makes entering Listening also enable the always-on loop.
	HandsFree bool
	// VoiceReplies enables speech synthesis and playback of replies.
	VoiceReplies bool
	// ResumeDelay is the grace period before the always-on loop reopens a
	// session, so the previous stream is fully released.
	ResumeDelay time.Duration
	// ToggleCooldown is how long the toggle entry point stays guarded
	// after firing, making a rapid double tap a no-op.
	ToggleCooldown time.Duration
	Farewell       FarewellConfig
}

// Orchestrator runs one voice turn at a time. All entry points are safe for
// concurrent use; internally a single mutex serializes state transitions,
// and a generation counter makes results that arrive after an abrupt end
// no-ops instead of resurrecting a finished turn.
type Orchestrator struct {
	cfg Config
	log *zap.Logger

	capture *capture.Manager
	stt     Transcriber
	query   Answerer
	tts     Synthesizer
	player  playback.Player
	pres    Presenter
	gate    Gate
	bye     *Farewell

	mu             sync.Mutex
	state          State
	alwaysOn       bool
	abort          bool
	toggleBusy     bool
	gen            uint64
	turnCtx        context.Context
	turnCancel     context.CancelFunc
	playing        playback.Playback
	resumeTimer    *time.Timer
	cooldownTimer  *time.Timer
	conversationID string
	lastTranscript string
}

func New(
	cfg Config,
	cap *capture.Manager,
	stt Transcriber,
	ans Answerer,
	syn Synthesizer,
	player playback.Player,
	pres Presenter,
	gate Gate,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ResumeDelay <= 0 {
		cfg.ResumeDelay = 300 * time.Millisecond
	}
	if cfg.ToggleCooldown <= 0 {
		cfg.ToggleCooldown = 400 * time.Millisecond
	}
	return &Orchestrator{
		cfg:            cfg,
		log:            log,
		capture:        cap,
		stt:            stt,
		query:          ans,
		tts:            syn,
		player:         player,
		pres:           pres,
		gate:           gate,
		bye:            NewFarewell(cfg.Farewell),
		state:          StateIdle,
		conversationID: uuid.NewString(),
	}
}

type Status struct {
	State          State  `json:"state"`
	AlwaysOn       bool   `json:"always_on"`
	ConversationID string `json:"conversation_id"`
	LastTranscript string `json:"last_transcript,omitempty"`
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		State:          o.state,
		AlwaysOn:       o.alwaysOn,
		ConversationID: o.conversationID,
		LastTranscript: o.lastTranscript,
	}
}

// Toggle is the main voice control. Idle: start listening. Listening: stop
// and process what was captured. Guarded by a cooldown so a rapid double
// tap produces one open/close pair, not two.
func (o *Orchestrator) Toggle() {
	o.mu.Lock()
	if o.toggleBusy {
		o.mu.Unlock()
		return
	}
	o.toggleBusy = true
	o.armCooldownLocked()

	switch o.state {
	case StateListening:
		o.mu.Unlock()
		o.capture.Close(capture.ReasonManual)
	case StateIdle:
		o.beginListeningLocked()
	default:
		o.mu.Unlock()
	}
}

// Stop ends the current capture and processes what was said.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state != StateListening {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	o.capture.Close(capture.ReasonManual)
}

// Cancel ends the current capture and discards it: nothing is sent to
// transcription, and the always-on loop ends.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if o.state != StateListening {
		o.mu.Unlock()
		return
	}
	o.abort = true
	o.alwaysOn = false
	o.mu.Unlock()
	o.capture.Close(capture.ReasonManual)
}

// HangUp is the abrupt end: from any state, synchronously stop the open
// session, its detector and timers, stop playback, clear always-on and
// return to Idle. Results of still in-flight remote calls are discarded on
// arrival.
func (o *Orchestrator) HangUp() {
	o.mu.Lock()
	o.gen++
	o.abort = true
	o.alwaysOn = false
	o.cancelTurnLocked()
	if o.resumeTimer != nil {
		o.resumeTimer.Stop()
		o.resumeTimer = nil
	}
	if o.playing != nil {
		o.playing.Stop()
		o.playing = nil
	}
	o.setStateLocked(StateIdle)
	o.mu.Unlock()

	o.capture.Close(capture.ReasonManual)
	metricTurns.WithLabelValues("hangup").Inc()
}

// beginListeningLocked is entered with o.mu held and releases it.
func (o *Orchestrator) beginListeningLocked() {
	o.abort = false
	if o.cfg.HandsFree {
		o.alwaysOn = true
	}
	if o.turnCtx == nil {
		o.turnCtx, o.turnCancel = context.WithCancel(context.Background())
	}
	gen := o.gen
	ctx := o.turnCtx
	o.mu.Unlock()

	o.openSession(ctx, gen)
}

// openSession is the single entry point to a new capture session, for both
// the initial toggle and every always-on resume. The dataset gate is
// consulted here so a dataset that disconnects mid-conversation also ends
// the loop.
func (o *Orchestrator) openSession(ctx context.Context, gen uint64) {
	if o.stale(gen) {
		return
	}
	if !o.gate.Ready() {
		o.gate.PromptConnect()
		o.toIdle(gen)
		return
	}
	_, err := o.capture.Open(ctx, func(res capture.Result) {
		go o.onCaptureClosed(gen, res)
	})
	if err != nil {
		o.handleOpenError(ctx, gen, err)
		return
	}

	o.mu.Lock()
	if gen != o.gen {
		// A hang-up raced the open; release the session it missed.
		o.mu.Unlock()
		o.capture.Close(capture.ReasonManual)
		return
	}
	o.setStateLocked(StateListening)
	o.mu.Unlock()
}

func (o *Orchestrator) handleOpenError(ctx context.Context, gen uint64, err error) {
	switch {
	case errors.Is(err, capture.ErrSessionOpen):
		o.log.Warn("capture already open, ignoring", zap.Error(err))
	case errors.Is(err, capture.ErrPermissionDenied):
		metricFailures.WithLabelValues("capture").Inc()
		o.pres.Notify("error", "Microphone access was denied. Check your browser permissions and try again.")
		o.toIdle(gen)
	default:
		metricFailures.WithLabelValues("capture").Inc()
		if ctx.Err() == nil {
			o.pres.Notify("error", "No microphone is available.")
		}
		o.toIdle(gen)
	}
}

// onCaptureClosed receives the finalized result of a capture session. This
// is the single point where the abort flag decides whether the audio is
// discarded or handed to transcription.
func (o *Orchestrator) onCaptureClosed(gen uint64, res capture.Result) {
	metricCaptureCloses.WithLabelValues(string(res.Reason)).Inc()

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	if o.abort {
		o.abort = false
		o.cancelTurnLocked()
		o.setStateLocked(StateIdle)
		o.mu.Unlock()
		metricTurns.WithLabelValues("aborted").Inc()
		return
	}
	if res.Empty {
		always := o.alwaysOn
		if always {
			o.mu.Unlock()
			o.scheduleResume(gen)
			return
		}
		o.cancelTurnLocked()
		o.setStateLocked(StateIdle)
		o.mu.Unlock()
		o.pres.Notify("info", "No speech detected.")
		metricTurns.WithLabelValues("empty").Inc()
		return
	}
	ctx := o.turnCtx
	o.setStateLocked(StateTranscribing)
	o.mu.Unlock()

	o.runTurn(ctx, gen, res.Audio)
}

func (o *Orchestrator) runTurn(ctx context.Context, gen uint64, audio []byte) {
	text, err := o.stt.Transcribe(ctx, audio)
	if o.stale(gen) || ctx.Err() != nil {
		return
	}
	if err != nil {
		o.log.Warn("transcription failed", zap.Error(err))
		metricFailures.WithLabelValues("stt").Inc()
		o.pres.Notify("error", "Could not transcribe your audio.")
		o.finishTurn(gen, true)
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		o.mu.Lock()
		always := o.alwaysOn
		o.mu.Unlock()
		if always {
			// "Didn't catch that, still listening" - no notice.
			o.scheduleResume(gen)
			return
		}
		o.pres.Notify("info", "No speech detected.")
		metricTurns.WithLabelValues("empty").Inc()
		o.finishTurn(gen, false)
		return
	}

	o.mu.Lock()
	o.lastTranscript = text
	o.mu.Unlock()
	o.pres.Append(convo.RoleUser, text, nil)

	if o.bye.Match(text) {
		// Termination wins over continuation: the loop ends before
		// playback, so a finished farewell cannot resume it.
		reply := o.bye.Reply()
		o.pres.Append(convo.RoleAssistant, reply, nil)
		o.mu.Lock()
		o.alwaysOn = false
		o.mu.Unlock()
		if o.cfg.VoiceReplies {
			o.speak(ctx, gen, reply)
		}
		metricTurns.WithLabelValues("farewell").Inc()
		o.finishTurn(gen, false)
		return
	}

	o.setState(gen, StateAnswering)
	ans, err := o.query.Ask(ctx, text, o.conversationID)
	if o.stale(gen) || ctx.Err() != nil {
		return
	}
	if err != nil || !ans.Success {
		if err != nil {
			o.log.Warn("query failed", zap.Error(err))
		}
		metricFailures.WithLabelValues("query").Inc()
		msg := ans.Error
		if msg == "" {
			msg = "Sorry, I couldn't answer that question."
		}
		o.pres.Append(convo.RoleAssistant, msg, map[string]any{"error": true})
		o.finishTurn(gen, true)
		return
	}

	o.pres.Append(convo.RoleAssistant, ans.Explanation, answerMeta(ans))
	metricTurns.WithLabelValues("answered").Inc()

	resume := true
	if o.cfg.VoiceReplies {
		resume = o.speak(ctx, gen, ans.Explanation)
	}
	o.finishTurn(gen, resume)
}

func answerMeta(ans query.Answer) map[string]any {
	if len(ans.Data) == 0 && len(ans.Visualization) == 0 {
		return nil
	}
	meta := map[string]any{}
	if len(ans.Data) > 0 {
		meta["structured_data"] = ans.Data
	}
	if len(ans.Visualization) > 0 {
		meta["visualization_spec"] = ans.Visualization
	}
	return meta
}

// speak synthesizes and plays one reply. It returns false when the turn
// must end in Idle regardless of always-on mode: playback errors, and the
// host's autoplay refusal, which is handled quietly rather than surfaced.
func (o *Orchestrator) speak(ctx context.Context, gen uint64, text string) bool {
	o.setState(gen, StateSpeaking)

	audio, err := o.tts.Synthesize(ctx, text)
	if o.stale(gen) || ctx.Err() != nil {
		return true
	}
	if err != nil {
		o.log.Warn("synthesis failed", zap.Error(err))
		metricFailures.WithLabelValues("tts").Inc()
		o.pres.Notify("error", "Could not generate speech for the reply.")
		return true
	}
	if len(audio) == 0 {
		// Nothing to play and no end-of-playback event to wait on.
		o.log.Warn("synthesis returned no audio, skipping playback")
		metricFailures.WithLabelValues("tts").Inc()
		return true
	}

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return true
	}
	// Exactly one live playback: displace any prior handle first.
	if o.playing != nil {
		o.playing.Stop()
		o.playing = nil
	}
	o.mu.Unlock()

	pb, err := o.player.Play(ctx, audio)
	if err != nil {
		if errors.Is(err, playback.ErrBlocked) {
			metricPlaybackBlocked.Inc()
			o.log.Info("playback blocked by host, staying quiet")
		} else {
			o.log.Warn("playback failed to start", zap.Error(err))
		}
		return false
	}

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		pb.Stop()
		return true
	}
	o.playing = pb
	o.mu.Unlock()

	select {
	case <-pb.Done():
	case <-ctx.Done():
		pb.Stop()
		return true
	}

	o.mu.Lock()
	if o.playing == pb {
		o.playing = nil
	}
	o.mu.Unlock()

	if err := pb.Err(); err != nil {
		if errors.Is(err, playback.ErrBlocked) {
			metricPlaybackBlocked.Inc()
			o.log.Info("playback blocked by host, staying quiet")
		} else {
			o.log.Warn("playback ended with error", zap.Error(err))
		}
		return false
	}
	return true
}

// finishTurn ends one cycle: resume listening when the always-on loop is
// still live, otherwise settle in Idle and tear the turn context down.
func (o *Orchestrator) finishTurn(gen uint64, resume bool) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	if resume && o.alwaysOn {
		o.mu.Unlock()
		o.scheduleResume(gen)
		return
	}
	o.alwaysOn = false
	o.cancelTurnLocked()
	o.setStateLocked(StateIdle)
	o.mu.Unlock()
}

// scheduleResume reopens a capture session after the grace delay. Whether
// to actually resume is decided when the timer fires, against the state as
// it is then, not as it was when the timer was armed.
func (o *Orchestrator) scheduleResume(gen uint64) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	if o.resumeTimer != nil {
		o.resumeTimer.Stop()
	}
	ctx := o.turnCtx
	o.resumeTimer = time.AfterFunc(o.cfg.ResumeDelay, func() {
		o.mu.Lock()
		on := gen == o.gen && o.alwaysOn
		o.mu.Unlock()
		if !on {
			return
		}
		metricResumes.Inc()
		o.openSession(ctx, gen)
	})
	o.mu.Unlock()
}

func (o *Orchestrator) toIdle(gen uint64) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.alwaysOn = false
	o.cancelTurnLocked()
	o.setStateLocked(StateIdle)
	o.mu.Unlock()
}

func (o *Orchestrator) cancelTurnLocked() {
	if o.turnCancel != nil {
		o.turnCancel()
		o.turnCancel = nil
		o.turnCtx = nil
	}
}

func (o *Orchestrator) armCooldownLocked() {
	if o.cooldownTimer != nil {
		o.cooldownTimer.Stop()
	}
	o.cooldownTimer = time.AfterFunc(o.cfg.ToggleCooldown, func() {
		o.mu.Lock()
		o.toggleBusy = false
		o.mu.Unlock()
	})
}

func (o *Orchestrator) setState(gen uint64, to State) {
	o.mu.Lock()
	if gen == o.gen {
		o.setStateLocked(to)
	}
	o.mu.Unlock()
}

func (o *Orchestrator) setStateLocked(to State) {
	from := o.state
	if from == to {
		return
	}
	metricStateTransitions.WithLabelValues(string(from), string(to)).Inc()
	o.state = to
	o.log.Debug("state transition", zap.String("from", string(from)), zap.String("to", string(to)))
}

func (o *Orchestrator) stale(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen != o.gen
}
