package vad

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type step struct {
	energy float64
	dur    time.Duration
}

// feed samples each step at cfg.Interval and returns the signals seen.
func feed(m *Monitor, start time.Time, steps []step) []Signal {
	var out []Signal
	now := start
	for _, s := range steps {
		for elapsed := time.Duration(0); elapsed < s.dur; elapsed += m.cfg.Interval {
			if sig := m.Sample(now, s.energy); sig != None {
				out = append(out, sig)
			}
			now = now.Add(m.cfg.Interval)
		}
	}
	return out
}

func TestLoudThenSilenceCompletesOnce(t *testing.T) {
	m := NewMonitor(DefaultConfig(), zerolog.Nop())

	var completions []time.Duration
	m.OnUtteranceComplete = func(d time.Duration) { completions = append(completions, d) }

	feed(m, time.Unix(0, 0), []step{
		{energy: 20, dur: 600 * time.Millisecond},
		{energy: 5, dur: 3100 * time.Millisecond},
	})

	if len(completions) != 1 {
		t.Fatalf("completions = %d, want 1", len(completions))
	}
	if completions[0] != 600*time.Millisecond {
		t.Fatalf("speech duration = %v, want 600ms", completions[0])
	}

	// 2.9s of quiet is still inside the default window
	m = NewMonitor(DefaultConfig(), zerolog.Nop())
	completions = nil
	m.OnUtteranceComplete = func(d time.Duration) { completions = append(completions, d) }
	feed(m, time.Unix(0, 0), []step{
		{energy: 20, dur: 600 * time.Millisecond},
		{energy: 5, dur: 2900 * time.Millisecond},
	})
	if len(completions) != 0 {
		t.Fatalf("completed after 2.9s of silence with a %v window", DefaultSilence)
	}
}

func TestSignals(t *testing.T) {
	cfg := Config{Threshold: 15, Silence: time.Second, MinSpeech: 300 * time.Millisecond, Interval: 100 * time.Millisecond}

	tests := []struct {
		name  string
		steps []step
		want  []Signal
	}{
		{
			name:  "silence only",
			steps: []step{{5, 3 * time.Second}},
			want:  nil,
		},
		{
			name:  "short noise is discarded",
			steps: []step{{40, 100 * time.Millisecond}, {0, 2 * time.Second}},
			want:  []Signal{SpeechStarted, NoiseDiscarded},
		},
		{
			name:  "speech without enough silence",
			steps: []step{{40, time.Second}, {0, 500 * time.Millisecond}},
			want:  []Signal{SpeechStarted},
		},
		{
			name:  "pause shorter than window joins speech",
			steps: []step{{40, 200 * time.Millisecond}, {0, 500 * time.Millisecond}, {40, 200 * time.Millisecond}, {0, 1100 * time.Millisecond}},
			want:  []Signal{SpeechStarted, UtteranceComplete},
		},
		{
			name:  "two utterances",
			steps: []step{{40, 400 * time.Millisecond}, {0, 1100 * time.Millisecond}, {40, 400 * time.Millisecond}, {0, 1100 * time.Millisecond}},
			want:  []Signal{SpeechStarted, UtteranceComplete, SpeechStarted, UtteranceComplete},
		},
		{
			name:  "threshold itself is silence",
			steps: []step{{15, 2 * time.Second}},
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(cfg, zerolog.Nop())
			got := feed(m, time.Unix(0, 0), tt.steps)
			if len(got) != len(tt.want) {
				t.Fatalf("signals = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("signals = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSpeechStartIsIdempotent(t *testing.T) {
	m := NewMonitor(DefaultConfig(), zerolog.Nop())
	starts := 0
	m.OnSpeechStart = func() { starts++ }

	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		m.Sample(now, 100)
		now = now.Add(100 * time.Millisecond)
	}
	m.MarkSpeech(now)
	if starts != 1 {
		t.Fatalf("speech start fired %d times, want 1", starts)
	}
}

func TestMarkSpeechExtendsUtterance(t *testing.T) {
	m := NewMonitor(Config{Threshold: 15, Silence: time.Second, MinSpeech: 100 * time.Millisecond, Interval: 100 * time.Millisecond}, zerolog.Nop())
	start := time.Unix(0, 0)
	m.Sample(start, 50)
	m.MarkSpeech(start.Add(900 * time.Millisecond))

	if sig := m.Sample(start.Add(1500*time.Millisecond), 0); sig != None {
		t.Fatalf("signal = %v, want none while within silence of marked speech", sig)
	}
	if sig := m.Sample(start.Add(1900*time.Millisecond), 0); sig != UtteranceComplete {
		t.Fatalf("signal = %v, want utterance_complete", sig)
	}
}

type scriptedLevels struct {
	mu     sync.Mutex
	loud   int
	calls  int
	energy float64
}

func (s *scriptedLevels) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.loud {
		return s.energy
	}
	return 0
}

func TestStartSamplesUntilComplete(t *testing.T) {
	m := NewMonitor(Config{Threshold: 15, Silence: 30 * time.Millisecond, MinSpeech: 10 * time.Millisecond, Interval: 5 * time.Millisecond}, zerolog.Nop())
	done := make(chan time.Duration, 1)
	m.OnUtteranceComplete = func(d time.Duration) {
		select {
		case done <- d:
		default:
		}
	}

	m.Start(t.Context(), &scriptedLevels{loud: 6, energy: 60})
	m.Start(t.Context(), &scriptedLevels{}) // already running
	defer m.Stop()

	select {
	case d := <-done:
		if d < 10*time.Millisecond {
			t.Fatalf("speech duration = %v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no utterance completion")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	m := NewMonitor(DefaultConfig(), zerolog.Nop())
	m.Stop()
	m.Start(t.Context(), &scriptedLevels{loud: 100, energy: 60})
	m.Sample(time.Now(), 90)
	m.Stop()
	m.Stop()
	if m.Speaking() {
		t.Fatal("Stop did not reset speech state")
	}
}
