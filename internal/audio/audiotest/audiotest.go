// Package audiotest provides in-memory audio devices for tests.
package audiotest

import (
	"context"
	"fmt"
	"sync"

	"github.com/keshucs12345/voicecall/internal/audio"
)

// Microphone hands out Streams that tests feed with Push. It records how many
// streams are open at once.
type Microphone struct {
	mu        sync.Mutex
	OpenErr   error
	opened    int
	active    int
	maxActive int
	current   *Stream
	openCh    chan *Stream
}

// NewMicrophone returns a Microphone whose Opened channel reports each new stream.
func NewMicrophone() *Microphone {
	return &Microphone{openCh: make(chan *Stream, 16)}
}

// Open implements audio.Microphone.
func (m *Microphone) Open(ctx context.Context, p audio.Params) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, fmt.Errorf("audiotest: %w", m.OpenErr)
	}
	s := &Stream{
		mic:    m,
		frames: make(chan []int16, 256),
		done:   make(chan struct{}),
	}
	m.opened++
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.current = s
	select {
	case m.openCh <- s:
	default:
	}
	return s, nil
}

// Opened delivers every stream as it is opened.
func (m *Microphone) Opened() <-chan *Stream { return m.openCh }

// Current returns the most recently opened stream.
func (m *Microphone) Current() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Active is the number of streams not yet closed.
func (m *Microphone) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// MaxActive is the highest number of simultaneously open streams seen.
func (m *Microphone) MaxActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxActive
}

// OpenCount is the total number of successful opens.
func (m *Microphone) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened
}

func (m *Microphone) release() {
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
}

// Stream is an in-memory audio.Stream.
type Stream struct {
	mic       *Microphone
	frames    chan []int16
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// Push delivers a frame to the reader. It reports false once the stream is closed.
func (s *Stream) Push(frame []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- frame:
		return true
	case <-s.done:
		return false
	}
}

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Frames implements audio.Stream.
func (s *Stream) Frames() <-chan []int16 { return s.frames }

// Err implements audio.Stream.
func (s *Stream) Err() error { return nil }

// Close implements audio.Stream.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.frames)
		s.mu.Unlock()
		s.mic.release()
	})
	return nil
}

// Frame returns n samples all set to amplitude.
func Frame(amplitude int16, n int) []int16 {
	f := make([]int16, n)
	for i := range f {
		f[i] = amplitude
	}
	return f
}

// Player records played clips.
type Player struct {
	mu     sync.Mutex
	Err    error
	Block  bool
	played [][]byte
}

// Play implements audio.Player. With Block set it waits for ctx.
func (p *Player) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	p.mu.Lock()
	p.played = append(p.played, pcm)
	err, block := p.Err, p.Block
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

// Played returns the number of Play calls.
func (p *Player) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.played)
}
