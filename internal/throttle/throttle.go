// Package throttle decides whether a device reading is worth forwarding
// given what was last sent for that device.
package throttle

import (
	"math"
	"sync"
	"time"
)

type record struct {
	lastSentAt      time.Time
	lastTemperature float64
}

// Engine keeps per-device state keyed by canonical device ID. Records are
// never evicted and live only in memory.
type Engine struct {
	mu       sync.Mutex
	records  map[string]record
	interval time.Duration
	delta    float64
	now      func() time.Time
}

type Option func(*Engine)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine that forwards a device again once interval has
// elapsed, or sooner when the temperature moved by at least delta.
// Negative values are treated as zero.
func New(interval time.Duration, delta float64, opts ...Option) *Engine {
	e := &Engine{
		records:  make(map[string]record),
		interval: max(interval, 0),
		delta:    math.Max(delta, 0),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) ShouldSend(id string, temperature float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[id]
	if !ok {
		return true
	}
	if math.Abs(temperature-rec.lastTemperature) >= e.delta {
		return true
	}
	return e.now().Sub(rec.lastSentAt) >= e.interval
}

// MarkSent records a successful hand-off. Call it only after the reading
// was accepted for forwarding.
func (e *Engine) MarkSent(id string, temperature float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.records[id] = record{lastSentAt: e.now(), lastTemperature: temperature}
}

// Len returns the number of devices tracked.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}
