// Package vad detects the start and end of user speech from periodic energy
// readings.
package vad

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultThreshold = 15
	DefaultSilence   = 3 * time.Second
	DefaultMinSpeech = 300 * time.Millisecond
	DefaultInterval  = 100 * time.Millisecond
)

// Config holds the empirically tuned detection thresholds.
type Config struct {
	// Threshold is the energy level (0..255) above which a sample counts as speech.
	Threshold float64
	// Silence is how long the level must stay below Threshold after the last
	// speech before an utterance is complete.
	Silence time.Duration
	// MinSpeech is the shortest speech interval reported as an utterance.
	MinSpeech time.Duration
	// Interval is the sampling period.
	Interval time.Duration
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Silence:   DefaultSilence,
		MinSpeech: DefaultMinSpeech,
		Interval:  DefaultInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Silence <= 0 {
		c.Silence = d.Silence
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = d.MinSpeech
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	return c
}

// LevelSource reports the average energy since the previous call.
type LevelSource interface {
	Level() float64
}

// Signal is the outcome of a single sample.
type Signal int

const (
	None Signal = iota
	SpeechStarted
	UtteranceComplete
	NoiseDiscarded
)

func (s Signal) String() string {
	switch s {
	case SpeechStarted:
		return "speech_started"
	case UtteranceComplete:
		return "utterance_complete"
	case NoiseDiscarded:
		return "noise_discarded"
	default:
		return "none"
	}
}

// Monitor is an energy based voice activity detector.
//
// Callbacks run on the sampling goroutine. They must not block and must not
// call Stop.
type Monitor struct {
	cfg Config
	log zerolog.Logger

	// OnSpeechStart fires on the first loud sample of an utterance.
	OnSpeechStart func()
	// OnUtteranceComplete fires once per utterance with its speech duration.
	OnUtteranceComplete func(speech time.Duration)
	// OnNoise fires when speech ended before reaching MinSpeech.
	OnNoise func()

	mu          sync.Mutex
	speaking    bool
	speechStart time.Time
	lastSpeech  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor returns a stopped Monitor. Zero fields in cfg take their defaults.
func NewMonitor(cfg Config, log zerolog.Logger) *Monitor {
	return &Monitor{
		cfg: cfg.withDefaults(),
		log: log.With().Str("component", "vad").Logger(),
	}
}

// Config returns the effective thresholds.
func (m *Monitor) Config() Config { return m.cfg }

// Start samples src every interval until ctx ends or Stop is called. Starting a
// running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context, src LevelSource) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done
	m.mu.Unlock()

	m.log.Debug().Dur("interval", m.cfg.Interval).Float64("threshold", m.cfg.Threshold).Msg("monitor started")

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.Sample(now, src.Level())
			}
		}
	}()
}

// Stop halts sampling and clears detection state. Stopping a stopped monitor
// is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		m.log.Debug().Msg("monitor stopped")
	}
	m.reset()
}

// Speaking reports whether an utterance is in progress.
func (m *Monitor) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speaking
}

// MarkSpeech records speech observed by another source, such as a streaming
// transcript, at t.
func (m *Monitor) MarkSpeech(t time.Time) {
	m.mu.Lock()
	started := !m.speaking
	if started {
		m.speaking = true
		m.speechStart = t
	}
	if t.After(m.lastSpeech) {
		m.lastSpeech = t
	}
	m.mu.Unlock()

	if started && m.OnSpeechStart != nil {
		m.OnSpeechStart()
	}
}

// Sample classifies one energy reading taken at now and fires the callbacks.
func (m *Monitor) Sample(now time.Time, energy float64) Signal {
	sig, speech := m.classify(now, energy)
	switch sig {
	case SpeechStarted:
		m.log.Debug().Float64("energy", energy).Msg("speech started")
		if m.OnSpeechStart != nil {
			m.OnSpeechStart()
		}
	case UtteranceComplete:
		m.log.Debug().Dur("speech", speech).Msg("utterance complete")
		if m.OnUtteranceComplete != nil {
			m.OnUtteranceComplete(speech)
		}
	case NoiseDiscarded:
		m.log.Debug().Dur("speech", speech).Msg("short noise discarded")
		if m.OnNoise != nil {
			m.OnNoise()
		}
	}
	return sig
}

func (m *Monitor) classify(now time.Time, energy float64) (Signal, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if energy > m.cfg.Threshold {
		m.lastSpeech = now
		if !m.speaking {
			m.speaking = true
			m.speechStart = now
			return SpeechStarted, 0
		}
		return None, 0
	}

	if !m.speaking {
		return None, 0
	}
	if now.Sub(m.lastSpeech) < m.cfg.Silence {
		return None, 0
	}

	// The last loud sample covers one full interval.
	speech := m.lastSpeech.Sub(m.speechStart) + m.cfg.Interval
	m.resetLocked()
	if speech < m.cfg.MinSpeech {
		return NoiseDiscarded, speech
	}
	return UtteranceComplete, speech
}

func (m *Monitor) reset() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
}

func (m *Monitor) resetLocked() {
	m.speaking = false
	m.speechStart = time.Time{}
	m.lastSpeech = time.Time{}
}
