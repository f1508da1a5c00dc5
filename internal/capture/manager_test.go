package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"thara/voice/internal/vad"
)

// fakeStream is a controllable in-memory Stream.
type fakeStream struct {
	mu     sync.Mutex
	chunks chan []byte
	level  float64
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{chunks: make(chan []byte, 16), level: 50}
}

func (f *fakeStream) Chunks() <-chan []byte { return f.chunks }

func (f *fakeStream) Level() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errors.New("stream closed")
	}
	return f.level, nil
}

func (f *fakeStream) setLevel(l float64) {
	f.mu.Lock()
	f.level = l
	f.mu.Unlock()
}

func (f *fakeStream) push(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.chunks <- b
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("double close")
	}
	f.closed = true
	close(f.chunks)
	return nil
}

type fakeDevice struct {
	mu      sync.Mutex
	openErr error
	streams []*fakeStream
}

func (d *fakeDevice) Open(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) current() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func testVADConfig() vad.Config {
	return vad.Config{
		SampleInterval:   5 * time.Millisecond,
		SilenceThreshold: 12.0,
		SilenceDuration:  40 * time.Millisecond,
		MinSpeech:        20 * time.Millisecond,
	}
}

func TestOpenCollectsAndCloses(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, testVADConfig(), time.Minute, nil)

	results := make(chan Result, 1)
	id, err := m.Open(context.Background(), func(r Result) { results <- r })
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !m.Active() {
		t.Fatal("expected an active session")
	}

	st := dev.current()
	st.push([]byte("ab"))
	st.push([]byte("cd"))
	time.Sleep(20 * time.Millisecond)

	res := m.Close(ReasonManual)
	if res.SessionID != id || res.Reason != ReasonManual {
		t.Fatalf("unexpected result: %+v", res)
	}
	if string(res.Audio) != "abcd" || res.Empty {
		t.Fatalf("expected concatenated audio, got %q empty=%v", res.Audio, res.Empty)
	}
	select {
	case got := <-results:
		if got.SessionID != id {
			t.Fatalf("onClose got wrong session: %+v", got)
		}
	default:
		t.Fatal("onClose was not invoked")
	}
	if m.Active() {
		t.Fatal("session should be gone after close")
	}
}

func TestSingleOpenSessionInvariant(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, testVADConfig(), time.Minute, nil)

	if _, err := m.Open(context.Background(), nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := m.Open(context.Background(), nil); !errors.Is(err, ErrSessionOpen) {
		t.Fatalf("expected ErrSessionOpen, got %v", err)
	}
	m.Close(ReasonManual)
	if _, err := m.Open(context.Background(), nil); err != nil {
		t.Fatalf("open after close: %v", err)
	}
	m.Close(ReasonManual)
}

func TestCloseIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, testVADConfig(), time.Minute, nil)

	calls := 0
	if _, err := m.Open(context.Background(), func(Result) { calls++ }); err != nil {
		t.Fatalf("open: %v", err)
	}
	dev.current().push([]byte("xy"))
	time.Sleep(20 * time.Millisecond)

	first := m.Close(ReasonManual)
	second := m.Close(ReasonManual)
	if string(second.Audio) != string(first.Audio) || second.SessionID != first.SessionID {
		t.Fatalf("second close should return the finalized result: %+v vs %+v", first, second)
	}
	if calls != 1 {
		t.Fatalf("onClose should fire exactly once, fired %d times", calls)
	}
	// The fake stream errors on double Close; reaching here without the
	// manager logging a second release is the double-release guarantee.
}

func TestEmptyCaptureFlagged(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, testVADConfig(), time.Minute, nil)
	if _, err := m.Open(context.Background(), nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	res := m.Close(ReasonManual)
	if !res.Empty || len(res.Audio) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestHardTimeoutClosesSession(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, testVADConfig(), 30*time.Millisecond, nil)

	results := make(chan Result, 1)
	if _, err := m.Open(context.Background(), func(r Result) { results <- r }); err != nil {
		t.Fatalf("open: %v", err)
	}

	select {
	case res := <-results:
		if res.Reason != ReasonTimeout {
			t.Fatalf("expected timeout close, got %s", res.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ceiling timer never fired")
	}
	if m.Active() {
		t.Fatal("session should be closed after timeout")
	}
}

func TestSilenceVerdictClosesSession(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, testVADConfig(), time.Minute, nil)

	results := make(chan Result, 1)
	if _, err := m.Open(context.Background(), func(r Result) { results <- r }); err != nil {
		t.Fatalf("open: %v", err)
	}
	// Speech first, then sustained silence.
	time.Sleep(25 * time.Millisecond)
	dev.current().setLevel(0)

	select {
	case res := <-results:
		if res.Reason != ReasonSilence {
			t.Fatalf("expected silence close, got %s", res.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("silence verdict never closed the session")
	}
	if m.VADRunning() {
		t.Fatal("detector should be stopped with its session")
	}
}

func TestCloseStopsVADAndTimer(t *testing.T) {
	dev := &fakeDevice{}
	m := NewManager(dev, testVADConfig(), 50*time.Millisecond, nil)

	closes := make(chan Result, 2)
	if _, err := m.Open(context.Background(), func(r Result) { closes <- r }); err != nil {
		t.Fatalf("open: %v", err)
	}
	m.Close(ReasonManual)

	// Neither the ceiling timer nor the detector may fire after close.
	select {
	case res := <-closes:
		if res.Reason != ReasonManual {
			t.Fatalf("unexpected close reason: %s", res.Reason)
		}
	default:
		t.Fatal("manual close should have fired onClose")
	}
	time.Sleep(80 * time.Millisecond)
	if len(closes) != 0 {
		t.Fatal("a stale timer fired after its session closed")
	}
}

func TestOpenErrorsPassThrough(t *testing.T) {
	dev := &fakeDevice{openErr: ErrPermissionDenied}
	m := NewManager(dev, testVADConfig(), time.Minute, nil)
	if _, err := m.Open(context.Background(), nil); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if m.Active() {
		t.Fatal("no session may remain open after a failed Open")
	}
}
