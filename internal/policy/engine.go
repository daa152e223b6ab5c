package policy

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EmbargoActiveError is returned when a preview is requested for an embargoed
// document before its embargo lifts. No override bypasses it.
type EmbargoActiveError struct {
	Until time.Time
}

func (e *EmbargoActiveError) Error() string {
	if e.Until.IsZero() {
		return "document is under embargo with no lift date"
	}
	return fmt.Sprintf("document is under embargo until %s", e.Until.UTC().Format(time.RFC3339))
}

// Engine serves policy lookups from a table that can be swapped at runtime.
// Readers always see a complete table, never a partially applied one.
type Engine struct {
	table atomic.Pointer[Table]
}

// NewEngine creates an engine serving t.
func NewEngine(t Table) *Engine {
	e := &Engine{}
	e.table.Store(&t)
	return e
}

// Table returns the table currently in force.
func (e *Engine) Table() Table {
	return *e.table.Load()
}

// Replace swaps in a new table.
func (e *Engine) Replace(t Table) {
	e.table.Store(&t)
}

// PolicyFor returns the current policy for s. Panics on an unknown level.
func (e *Engine) PolicyFor(s Sensitivity) Policy {
	return e.table.Load().PolicyFor(s)
}

// CheckEmbargo returns *EmbargoActiveError when s is Embargoed and now is
// before until. A nil until means the embargo has no lift date and is
// treated as active.
func (e *Engine) CheckEmbargo(s Sensitivity, until *time.Time, now time.Time) error {
	if s != Embargoed {
		return nil
	}
	if until == nil {
		return &EmbargoActiveError{}
	}
	if now.Before(*until) {
		return &EmbargoActiveError{Until: *until}
	}
	return nil
}
