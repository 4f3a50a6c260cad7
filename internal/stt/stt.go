// Package stt turns captured speech into finalized utterances. A Strategy runs
// one listening cycle at a time; Streaming and Batch are the two variants and
// Supervisor fails over from the first to the second.
package stt

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrStreamFailed marks any streaming connection failure.
	ErrStreamFailed = errors.New("stt: streaming connection failed")
	// ErrStopped is returned by Listen after Stop.
	ErrStopped = errors.New("stt: strategy stopped")
	// ErrBusy is returned when Listen is called while a cycle is running.
	ErrBusy = errors.New("stt: listening cycle already running")
)

// EventKind distinguishes interim from confirmed streaming results.
type EventKind int

const (
	Partial EventKind = iota
	Final
)

func (k EventKind) String() string {
	if k == Final {
		return "final"
	}
	return "partial"
}

// Event is one streaming transcript result.
type Event struct {
	Kind EventKind
	Text string
	Time time.Time
}

// Source names the strategy that produced an utterance.
type Source string

const (
	SourceStreaming Source = "streaming"
	SourceBatch     Source = "batch"
)

// Utterance is the finalized text of one user turn. An empty Text means no
// speech was recognized and listening should resume.
type Utterance struct {
	Text   string
	Source Source
	At     time.Time
}

// Empty reports whether no speech was recognized.
func (u Utterance) Empty() bool { return u.Text == "" }

// Hooks receive progress from a listening cycle. They are called from the
// strategy's goroutines and must not block. Nil hooks are skipped.
type Hooks struct {
	OnSpeechStart func()
	OnPartial     func(text string)
	OnFinal       func(text string)
	// OnManual fires when VAD cannot run and recording needs an explicit stop.
	OnManual func()
}

func (h Hooks) speechStart() {
	if h.OnSpeechStart != nil {
		h.OnSpeechStart()
	}
}

func (h Hooks) partial(text string) {
	if h.OnPartial != nil {
		h.OnPartial(text)
	}
}

func (h Hooks) final(text string) {
	if h.OnFinal != nil {
		h.OnFinal(text)
	}
}

func (h Hooks) manual() {
	if h.OnManual != nil {
		h.OnManual()
	}
}

// Strategy produces one Utterance per Listen call. The strategy owns the
// microphone for the duration of Listen and has released it when Listen
// returns.
type Strategy interface {
	Name() string
	Listen(ctx context.Context, h Hooks) (Utterance, error)
	// Finalize ends the running cycle with whatever text it has.
	Finalize()
	// Stop aborts the running cycle and rejects further ones. It is idempotent.
	Stop() error
}

// cycle tracks the running Listen call of a strategy.
type cycle struct {
	finalize chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

// cycles serializes Listen calls and lets Finalize and Stop reach the running one.
type cycles struct {
	mu      sync.Mutex
	cur     *cycle
	stopped bool
}

func (c *cycles) begin(ctx context.Context) (context.Context, *cycle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, nil, ErrStopped
	}
	if c.cur != nil {
		return nil, nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	cy := &cycle{
		finalize: make(chan struct{}, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.cur = cy
	return ctx, cy, nil
}

func (c *cycles) end(cy *cycle) {
	c.mu.Lock()
	if c.cur == cy {
		c.cur = nil
	}
	c.mu.Unlock()
	cy.cancel()
	close(cy.done)
}

func (c *cycles) finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return
	}
	select {
	case c.cur.finalize <- struct{}{}:
	default:
	}
}

func (c *cycles) stop() {
	c.mu.Lock()
	c.stopped = true
	cy := c.cur
	c.mu.Unlock()
	if cy != nil {
		cy.cancel()
		<-cy.done
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
