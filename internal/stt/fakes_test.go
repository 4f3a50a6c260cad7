package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/keshucs12345/voicecall/internal/audio"
	"github.com/keshucs12345/voicecall/internal/audio/audiotest"
)

type fakeConn struct {
	events    chan Event
	mu        sync.Mutex
	sent      int
	err       error
	closed    bool
	closeOnce sync.Once
}

func newFakeConn() *fakeConn { return &fakeConn{events: make(chan Event, 16)} }

func (c *fakeConn) Send(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("send on closed connection")
	}
	c.sent++
	return nil
}

func (c *fakeConn) Events() <-chan Event { return c.events }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	})
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fail ends the connection with err.
func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.events)
}

type fakeDialer struct {
	mu    sync.Mutex
	err   error
	dials int
	conns chan *fakeConn
}

func newFakeDialer() *fakeDialer { return &fakeDialer{conns: make(chan *fakeConn, 8)} }

func (d *fakeDialer) Dial(ctx context.Context, opts StreamOptions) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	last  []byte
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = wav
	return f.text, f.err
}

func (f *fakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// voiceOnlyMic refuses streams that ask for voice processing.
type voiceOnlyMic struct {
	*audiotest.Microphone
}

func (m voiceOnlyMic) Open(ctx context.Context, p audio.Params) (audio.Stream, error) {
	if p.EchoCancellation {
		return nil, audio.ErrAcquisition
	}
	return m.Microphone.Open(ctx, p)
}

type listenResult struct {
	u   Utterance
	err error
}

func listenAsync(ctx context.Context, s Strategy, h Hooks) <-chan listenResult {
	out := make(chan listenResult, 1)
	go func() {
		u, err := s.Listen(ctx, h)
		out <- listenResult{u, err}
	}()
	return out
}

func await[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

// speak pushes loud frames followed by silence until the stream closes.
func speak(s *audiotest.Stream, loud int) {
	for i := 0; i < loud; i++ {
		if !s.Push(audiotest.Frame(8000, 1600)) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	for s.Push(audiotest.Frame(0, 1600)) {
		time.Sleep(5 * time.Millisecond)
	}
}
