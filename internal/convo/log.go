// Package convo holds the conversation transcript: an append-only sequence
// of immutable turn records plus user-visible notices. Presentation layers
// read it; nothing ever mutates a record after it is appended.
package convo

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Notice is a transient user-visible message that is not part of the
// conversation itself ("no speech detected", remote failures).
type Notice struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type Log struct {
	mu      sync.RWMutex
	turns   []Turn
	notices []Notice
}

func NewLog() *Log { return &Log{} }

func (l *Log) Append(role Role, content string, meta map[string]any) Turn {
	t := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Meta:      meta,
	}
	l.mu.Lock()
	l.turns = append(l.turns, t)
	l.mu.Unlock()
	return t
}

func (l *Log) Notify(kind, message string) Notice {
	n := Notice{Kind: kind, Message: message, Timestamp: time.Now().UTC()}
	l.mu.Lock()
	l.notices = append(l.notices, n)
	l.mu.Unlock()
	return n
}

// Turns returns a copy so callers cannot mutate appended records.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

func (l *Log) Notices() []Notice {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Notice, len(l.notices))
	copy(out, l.notices)
	return out
}
