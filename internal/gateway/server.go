// Package gateway bridges the browser media client over a websocket. The
// browser owns the microphone and the speakers; this side owns the turn
// logic. The gateway therefore implements both capture.Device and
// playback.Player against whichever client is currently connected.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	ws "nhooyr.io/websocket"

	"thara/voice/internal/auth"
	"thara/voice/internal/capture"
	"thara/voice/internal/playback"
)

// Message is the JSON control frame exchanged with the browser. Audio
// travels as separate binary frames.
type Message struct {
	Type    string         `json:"type"`
	TsMs    int64          `json:"ts_ms,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Client to server message types.
const (
	msgHello         = "hello"
	msgLevel         = "level"
	msgCaptureBegun  = "capture_started"
	msgCaptureError  = "capture_error"
	msgPlaybackEnded = "playback_ended"
	msgPlaybackError = "playback_error"
)

// Server to client message types.
const (
	msgStartCapture = "start_capture"
	msgStopCapture  = "stop_capture"
	msgPlay         = "play"
	msgStopPlayback = "stop_playback"
)

var ErrNoClient = errors.New("gateway: no client connected")

type Config struct {
	// TokenSecret enables token auth on the websocket when non-empty.
	TokenSecret   string
	TokenSkewSecs int
	// AckTimeout bounds the wait for the client's capture-start
	// acknowledgement. An unresponsive client counts as an unavailable
	// device.
	AckTimeout time.Duration
}

type client struct {
	conn *ws.Conn

	wmu sync.Mutex // serializes writes to conn
}

func (c *client) sendJSON(ctx context.Context, m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.Write(ctx, ws.MessageText, b)
}

func (c *client) sendBinary(ctx context.Context, b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.Write(ctx, ws.MessageBinary, b)
}

// Server keeps at most one live browser client. A reconnect replaces the
// previous connection, which also fails any capture or playback that was
// riding on it.
type Server struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	cur     *client
	stream  *clientStream    // nil when no capture is in flight
	playing *playback.Handle // nil when no playback is in flight
	started chan error       // capture start ack, nil when no open pending
}

func NewServer(cfg Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	return &Server{cfg: cfg, log: log}
}

// Connected reports whether a browser client is attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// HandleClientWS upgrades the browser connection and runs its read loop
// until the peer goes away.
func (s *Server) HandleClientWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.TokenSecret != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			authz := r.Header.Get("Authorization")
			token = strings.TrimPrefix(authz, "Bearer ")
		}
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if _, _, err := auth.ValidateClientToken(s.cfg.TokenSecret, token, "", time.Now(), s.cfg.TokenSkewSecs); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := ws.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("ws accept failed", zap.Error(err))
		return
	}
	cl := &client{conn: conn}

	s.mu.Lock()
	if old := s.cur; old != nil {
		old.conn.Close(ws.StatusNormalClosure, "replaced")
		s.log.Info("client replaced by new connection")
	}
	s.cur = cl
	s.failInFlightLocked(errors.New("client reconnected"))
	s.mu.Unlock()
	s.log.Info("client connected", zap.String("remote", r.RemoteAddr))

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		switch typ {
		case ws.MessageBinary:
			s.handleChunk(data)
		case ws.MessageText:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				s.log.Warn("invalid client frame", zap.Error(err))
				continue
			}
			s.handleMessage(msg)
		}
	}
	conn.Close(ws.StatusNormalClosure, "done")

	s.mu.Lock()
	if s.cur == cl {
		s.cur = nil
		s.failInFlightLocked(errors.New("client disconnected"))
	}
	s.mu.Unlock()
	s.log.Info("client disconnected", zap.String("remote", r.RemoteAddr))
}

// failInFlightLocked ends any pending open, live stream and live playback
// with err. Callers hold s.mu.
func (s *Server) failInFlightLocked(err error) {
	if s.started != nil {
		select {
		case s.started <- err:
		default:
		}
		s.started = nil
	}
	if s.stream != nil {
		s.stream.fail(err)
		s.stream = nil
	}
	if s.playing != nil {
		s.playing.Finish(err)
		s.playing = nil
	}
}

func (s *Server) handleChunk(data []byte) {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st == nil {
		return
	}
	st.push(data)
}

func (s *Server) handleMessage(msg Message) {
	switch msg.Type {
	case msgHello:
		s.log.Debug("client hello")
	case msgLevel:
		rms, _ := msg.Payload["rms"].(float64)
		s.mu.Lock()
		if s.stream != nil {
			s.stream.setLevel(rms)
		}
		s.mu.Unlock()
	case msgCaptureBegun:
		s.mu.Lock()
		if s.started != nil {
			select {
			case s.started <- nil:
			default:
			}
			s.started = nil
		}
		s.mu.Unlock()
	case msgCaptureError:
		code, _ := msg.Payload["code"].(string)
		err := captureError(code)
		s.mu.Lock()
		if s.started != nil {
			select {
			case s.started <- err:
			default:
			}
			s.started = nil
		}
		if s.stream != nil {
			s.stream.fail(err)
			s.stream = nil
		}
		s.mu.Unlock()
	case msgPlaybackEnded:
		s.mu.Lock()
		if s.playing != nil {
			s.playing.Finish(nil)
			s.playing = nil
		}
		s.mu.Unlock()
	case msgPlaybackError:
		code, _ := msg.Payload["code"].(string)
		err := playbackError(code)
		s.mu.Lock()
		if s.playing != nil {
			s.playing.Finish(err)
			s.playing = nil
		}
		s.mu.Unlock()
	default:
		s.log.Debug("unhandled client message", zap.String("type", msg.Type))
	}
}

func captureError(code string) error {
	switch code {
	case "permission_denied":
		return capture.ErrPermissionDenied
	case "unavailable":
		return capture.ErrDeviceUnavailable
	default:
		return fmt.Errorf("capture failed on client: %s", code)
	}
}

func playbackError(code string) error {
	if code == "blocked" {
		return playback.ErrBlocked
	}
	return fmt.Errorf("playback failed on client: %s", code)
}

// Open asks the connected browser to start capturing and waits for its
// acknowledgement. It implements capture.Device.
func (s *Server) Open(ctx context.Context) (capture.Stream, error) {
	s.mu.Lock()
	cl := s.cur
	if cl == nil {
		s.mu.Unlock()
		return nil, ErrNoClient
	}
	if s.stream != nil {
		s.mu.Unlock()
		return nil, capture.ErrSessionOpen
	}
	started := make(chan error, 1)
	s.started = started
	s.mu.Unlock()

	if err := cl.sendJSON(ctx, Message{Type: msgStartCapture, TsMs: nowMs()}); err != nil {
		s.clearStarted(started)
		return nil, fmt.Errorf("start capture: %w", err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()
	select {
	case err := <-started:
		if err != nil {
			return nil, err
		}
	case <-ackCtx.Done():
		s.clearStarted(started)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn("client never acknowledged capture start")
		return nil, capture.ErrDeviceUnavailable
	}

	st := newClientStream(s, cl)
	s.mu.Lock()
	if s.cur != cl {
		s.mu.Unlock()
		return nil, ErrNoClient
	}
	s.stream = st
	s.mu.Unlock()
	return st, nil
}

func (s *Server) clearStarted(ch chan error) {
	s.mu.Lock()
	if s.started != nil && s.started == ch {
		s.started = nil
	}
	s.mu.Unlock()
}

// Play ships the audio to the browser and returns a handle finished by the
// client's end-of-playback report. It implements playback.Player.
func (s *Server) Play(ctx context.Context, audio []byte) (playback.Playback, error) {
	s.mu.Lock()
	cl := s.cur
	if cl == nil {
		s.mu.Unlock()
		return nil, ErrNoClient
	}
	if s.playing != nil {
		s.playing.Finish(errors.New("superseded by new playback"))
		s.playing = nil
	}
	s.mu.Unlock()

	if err := cl.sendJSON(ctx, Message{Type: msgPlay, TsMs: nowMs(), Payload: map[string]any{"bytes": len(audio)}}); err != nil {
		return nil, fmt.Errorf("announce playback: %w", err)
	}
	if err := cl.sendBinary(ctx, audio); err != nil {
		return nil, fmt.Errorf("send audio: %w", err)
	}

	h := playback.NewHandle(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cl.sendJSON(sctx, Message{Type: msgStopPlayback, TsMs: nowMs()}); err != nil {
			s.log.Debug("stop playback send failed", zap.Error(err))
		}
	})
	s.mu.Lock()
	if s.cur != cl {
		s.mu.Unlock()
		h.Finish(errors.New("client disconnected"))
		return h, nil
	}
	s.playing = h
	s.mu.Unlock()
	return h, nil
}

func (s *Server) releaseStream(st *clientStream) {
	s.mu.Lock()
	if s.stream == st {
		s.stream = nil
	}
	s.mu.Unlock()
}

func nowMs() int64 { return time.Now().UnixMilli() }

// clientStream is the capture.Stream view of one browser capture. Chunks
// arrive on the websocket read loop; Level reflects the most recent rms
// report from the client.
type clientStream struct {
	srv *Server
	cl  *client

	mu     sync.Mutex
	chunks chan []byte
	level  float64
	err    error
	closed bool
}

func newClientStream(srv *Server, cl *client) *clientStream {
	return &clientStream{srv: srv, cl: cl, chunks: make(chan []byte, 64)}
}

func (st *clientStream) Chunks() <-chan []byte { return st.chunks }

func (st *clientStream) Level() (float64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.err != nil {
		return 0, st.err
	}
	return st.level, nil
}

func (st *clientStream) setLevel(l float64) {
	st.mu.Lock()
	st.level = l
	st.mu.Unlock()
}

func (st *clientStream) push(b []byte) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}
	// Drop on overflow rather than stall the read loop.
	select {
	case st.chunks <- b:
	default:
	}
}

// fail marks the stream broken so the silence detector's next Level call
// ends the capture session.
func (st *clientStream) fail(err error) {
	st.mu.Lock()
	if st.err == nil {
		st.err = err
	}
	st.mu.Unlock()
}

func (st *clientStream) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return errors.New("stream already closed")
	}
	st.closed = true
	close(st.chunks)
	st.mu.Unlock()

	st.srv.releaseStream(st)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := st.cl.sendJSON(ctx, Message{Type: msgStopCapture, TsMs: nowMs()}); err != nil {
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}
