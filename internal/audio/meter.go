package audio

import "sync"

// maxLevel is the top of the level scale, matching a byte-valued analyser.
const maxLevel = 255.0

// Meter tracks the average magnitude of the frames written since the last
// Level call. It is safe for one writer and one reader.
type Meter struct {
	mu   sync.Mutex
	sum  float64
	n    int
	last float64
}

// Write folds a captured frame into the current window.
func (m *Meter) Write(frame []int16) {
	if len(frame) == 0 {
		return
	}
	m.mu.Lock()
	m.sum += FrameLevel(frame)
	m.n++
	m.mu.Unlock()
}

// Level returns the average level of the window and starts a new one. With no
// frames since the previous call the previous level is repeated.
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.n > 0 {
		m.last = m.sum / float64(m.n)
		m.sum, m.n = 0, 0
	}
	return m.last
}

// Reset clears the window and the remembered level.
func (m *Meter) Reset() {
	m.mu.Lock()
	m.sum, m.n, m.last = 0, 0, 0
	m.mu.Unlock()
}

// FrameLevel is the mean absolute amplitude of frame on a 0..255 scale.
func FrameLevel(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var total float64
	for _, s := range frame {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		total += v
	}
	return total / float64(len(frame)) / 32768.0 * maxLevel
}
