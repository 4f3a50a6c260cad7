package call

// State is the turn controller phase. Exactly one is active at a time.
type State int

const (
	Idle State = iota
	Listening
	Processing
	Speaking
	Ending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	case Ending:
		return "ending"
	default:
		return "unknown"
	}
}
