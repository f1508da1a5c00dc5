// Package dataset tracks whether a spreadsheet dataset is connected and
// ready for querying. The turn orchestrator refuses to open a capture
// session while the gate is closed.
package dataset

import "sync"

type Gate struct {
	mu     sync.RWMutex
	ready  bool
	source string
	prompt func()
}

// NewGate creates a closed gate. prompt, if non-nil, is invoked whenever a
// turn is attempted without a connected dataset, so the presentation layer
// can ask the user to connect one.
func NewGate(prompt func()) *Gate {
	return &Gate{prompt: prompt}
}

func (g *Gate) SetReady(source string) {
	g.mu.Lock()
	g.ready = true
	g.source = source
	g.mu.Unlock()
}

func (g *Gate) Clear() {
	g.mu.Lock()
	g.ready = false
	g.source = ""
	g.mu.Unlock()
}

func (g *Gate) Ready() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ready
}

func (g *Gate) Source() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.source
}

func (g *Gate) PromptConnect() {
	if g.prompt != nil {
		g.prompt()
	}
}
