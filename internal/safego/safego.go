// Package safego provides a panic-recovering goroutine launcher for background
// work such as async audit writes, sink flushes and scheduled jobs.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go launches fn in a new goroutine. A panic in fn is recovered and logged
// with name and the stack instead of crashing the process.
func Go(name string, fn func()) {
	go Run(name, fn)
}

// Run calls fn on the current goroutine, recovering and logging any panic.
// It reports whether fn returned normally.
func Run(name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine",
				"goroutine", name,
				"panic", r,
				"stack", string(debug.Stack()))
			ok = false
		}
	}()
	fn()
	return true
}
