package stt

import (
	"strings"
	"sync"
	"time"
)

// Accumulator joins streaming finals and signals Ready once no new final has
// arrived for the debounce period. Partials are kept only as the latest
// caption and as a last resort for Flush.
type Accumulator struct {
	mu       sync.Mutex
	debounce time.Duration
	finals   strings.Builder
	partial  string
	timer    *time.Timer
	gen      int
	ready    chan struct{}
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator(debounce time.Duration) *Accumulator {
	return &Accumulator{
		debounce: debounce,
		ready:    make(chan struct{}, 1),
	}
}

// Ready receives a value when the debounce period after the last final expires.
func (a *Accumulator) Ready() <-chan struct{} { return a.ready }

// Add folds ev into the accumulator.
func (a *Accumulator) Add(ev Event) {
	text := strings.TrimSpace(ev.Text)

	a.mu.Lock()
	defer a.mu.Unlock()

	if ev.Kind == Partial {
		a.partial = text
		return
	}
	if text == "" {
		return
	}
	if a.finals.Len() > 0 {
		a.finals.WriteString(" ")
	}
	a.finals.WriteString(text)
	// a final supersedes the partials that led up to it
	a.partial = ""

	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(a.debounce, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if gen == a.gen {
			signal(a.ready)
		}
	})
}

// Finals returns the confirmed text so far.
func (a *Accumulator) Finals() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finals.String()
}

// Partial returns the latest unconfirmed text.
func (a *Accumulator) Partial() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.partial
}

// Take returns the confirmed text and clears the accumulator.
func (a *Accumulator) Take() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := a.finals.String()
	a.resetLocked()
	return text
}

// Flush returns the confirmed text followed by any newer partial, then clears
// the accumulator.
func (a *Accumulator) Flush() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := a.finals.String()
	if a.partial != "" {
		if text != "" {
			text += " "
		}
		text += a.partial
	}
	a.resetLocked()
	return text
}

// Stop cancels a pending debounce.
func (a *Accumulator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Accumulator) stopLocked() {
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Accumulator) resetLocked() {
	a.finals.Reset()
	a.partial = ""
	a.stopLocked()
	select {
	case <-a.ready:
	default:
	}
}
