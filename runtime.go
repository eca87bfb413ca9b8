package pulsar

import (
	"time"
)

// Ticker delivers periodic time events.
type Ticker interface {
	// C returns the channel on which ticks are delivered.
	C() <-chan time.Time

	// Stop stops the ticker. No more ticks are delivered after Stop returns.
	Stop()
}

// Runtime abstracts the asynchronous primitives driving the engine: task
// spawning and timers. The connection, producer and consumer loops never
// start goroutines or arm timers directly; they go through the injected
// Runtime, so alternative schedulers (or instrumented test runtimes) can
// drive them.
type Runtime interface {
	// Spawn runs fn as a background task. The name identifies the task for
	// diagnostics.
	Spawn(name string, fn func())

	// After returns a channel that delivers the current time once, after d.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a ticker delivering events every d.
	NewTicker(d time.Duration) Ticker
}

// GoRuntime is the default Runtime backed by goroutines and the time
// package.
type GoRuntime struct{}

// NewGoRuntime creates the default goroutine-backed runtime.
func NewGoRuntime() *GoRuntime { return &GoRuntime{} }

// Spawn starts fn on a new goroutine.
func (r *GoRuntime) Spawn(_ string, fn func()) { go fn() }

// After returns time.After(d).
func (r *GoRuntime) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewTicker returns a ticker backed by time.Ticker.
func (r *GoRuntime) NewTicker(d time.Duration) Ticker {
	return &goTicker{t: time.NewTicker(d)}
}

type goTicker struct {
	t *time.Ticker
}

func (t *goTicker) C() <-chan time.Time { return t.t.C }
func (t *goTicker) Stop()               { t.t.Stop() }
