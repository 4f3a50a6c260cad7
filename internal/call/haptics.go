package call

import "github.com/rs/zerolog"

// Pattern is a haptic feedback pattern.
type Pattern int

const (
	Light Pattern = iota
	Medium
	Success
	Error
)

func (p Pattern) String() string {
	switch p {
	case Light:
		return "light"
	case Medium:
		return "medium"
	case Success:
		return "success"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Haptics receives feedback notifications. Fire must not block for long; its
// outcome is never consumed.
type Haptics interface {
	Fire(p Pattern)
}

// LogHaptics writes each pattern to a logger, for devices without a vibrator.
type LogHaptics struct {
	Log zerolog.Logger
}

func (h LogHaptics) Fire(p Pattern) {
	h.Log.Debug().Str("component", "haptics").Stringer("pattern", p).Msg("haptic")
}

type noHaptics struct{}

func (noHaptics) Fire(Pattern) {}
