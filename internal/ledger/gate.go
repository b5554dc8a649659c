package ledger

import "sync/atomic"

// Gate is the system-wide "accepting ingestion" toggle. Suspend and Resume are
// idempotent; Accepting is race-free against toggling.
type Gate struct {
	suspended atomic.Bool
}

// NewGate returns a gate in the accepting state.
func NewGate() *Gate {
	return &Gate{}
}

func (g *Gate) Suspend() {
	g.suspended.Store(true)
}

func (g *Gate) Resume() {
	g.suspended.Store(false)
}

func (g *Gate) Accepting() bool {
	return !g.suspended.Load()
}
