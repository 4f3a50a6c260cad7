package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicecall/internal/session"
	"github.com/keshucs12345/voicecall/internal/stt"
	"github.com/keshucs12345/voicecall/internal/tutor"
)

type listenResult struct {
	u   stt.Utterance
	err error
}

// fakeStrategy hands out results pushed by the test. Finalize returns the
// configured partial text.
type fakeStrategy struct {
	results   chan listenResult
	finalize  chan struct{}
	listening chan int

	mu        sync.Mutex
	partial   string
	calls     int
	active    int
	maxActive int
	stops     int
}

func newFakeStrategy() *fakeStrategy {
	return &fakeStrategy{
		results:   make(chan listenResult, 4),
		finalize:  make(chan struct{}, 1),
		listening: make(chan int, 32),
	}
}

func (f *fakeStrategy) Name() string { return "fake" }

func (f *fakeStrategy) Listen(ctx context.Context, h stt.Hooks) (stt.Utterance, error) {
	f.mu.Lock()
	f.calls++
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	n := f.calls
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	select {
	case f.listening <- n:
	default:
	}
	select {
	case r := <-f.results:
		return r.u, r.err
	case <-f.finalize:
		f.mu.Lock()
		text := f.partial
		f.mu.Unlock()
		return stt.Utterance{Text: text, Source: stt.SourceStreaming, At: time.Now()}, nil
	case <-ctx.Done():
		return stt.Utterance{}, ctx.Err()
	}
}

func (f *fakeStrategy) Finalize() {
	select {
	case f.finalize <- struct{}{}:
	default:
	}
}

func (f *fakeStrategy) Stop() error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	return nil
}

func (f *fakeStrategy) say(text string) {
	f.results <- listenResult{u: stt.Utterance{Text: text, Source: stt.SourceBatch, At: time.Now()}}
}

func (f *fakeStrategy) fail(err error) {
	f.results <- listenResult{err: err}
}

func (f *fakeStrategy) stats() (calls, active, maxActive, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.active, f.maxActive, f.stops
}

type fakeResponder struct {
	mu        sync.Mutex
	replies   []string
	errs      []error
	block     bool
	histories [][]session.ConversationTurn
	cancelled chan struct{}
}

func newFakeResponder(replies ...string) *fakeResponder {
	return &fakeResponder{replies: replies, cancelled: make(chan struct{}, 1)}
}

func (f *fakeResponder) Reply(ctx context.Context, settings tutor.Settings, history []session.ConversationTurn) (string, error) {
	f.mu.Lock()
	f.histories = append(f.histories, history)
	block := f.block
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	text := "Tell me more?"
	if err == nil && len(f.replies) > 0 {
		text, f.replies = f.replies[0], f.replies[1:]
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		f.cancelled <- struct{}{}
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

func (f *fakeResponder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.histories)
}

type fakeSpeaker struct {
	mu      sync.Mutex
	spoken  []string
	stops   int
	speaker bool
	// release, when set, holds playback until closed
	release chan struct{}
}

func (f *fakeSpeaker) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	release := f.release
	f.mu.Unlock()
	if release == nil {
		return nil
	}
	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeSpeaker) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeSpeaker) SetSpeakerEnabled(on bool) {
	f.mu.Lock()
	f.speaker = on
	f.mu.Unlock()
}

func (f *fakeSpeaker) Spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type fakeTranslator struct {
	text string
	err  error
}

func (f fakeTranslator) Translate(ctx context.Context, text string) (string, error) {
	return f.text, f.err
}

type recordingHaptics struct {
	mu       sync.Mutex
	patterns []Pattern
}

func (h *recordingHaptics) Fire(p Pattern) {
	h.mu.Lock()
	h.patterns = append(h.patterns, p)
	h.mu.Unlock()
}

func (h *recordingHaptics) count(p Pattern) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, q := range h.patterns {
		if q == p {
			n++
		}
	}
	return n
}

// harness wires a Controller to fakes and exposes its state changes and
// captions as channels.
type harness struct {
	c         *Controller
	strategy  *fakeStrategy
	responder *fakeResponder
	speaker   *fakeSpeaker
	recorder  *session.Recorder
	haptics   *recordingHaptics
	states    chan State
	captions  chan Caption
}

func newHarness(t *testing.T, opts Options, responder *fakeResponder, tr Translator) *harness {
	t.Helper()
	h := &harness{
		strategy:  newFakeStrategy(),
		responder: responder,
		speaker:   &fakeSpeaker{speaker: true},
		recorder:  session.NewRecorder("device-1", tutor.Defaults(), nil, nil, session.Options{}, zerolog.Nop()),
		haptics:   &recordingHaptics{},
		states:    make(chan State, 64),
		captions:  make(chan Caption, 64),
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 10 * time.Millisecond
	}
	opts.OnState = func(from, to State) {
		select {
		case h.states <- to:
		default:
		}
	}
	opts.OnCaption = func(c Caption) {
		select {
		case h.captions <- c:
		default:
		}
	}
	h.c = New(Deps{
		Strategy:   h.strategy,
		Responder:  responder,
		Speaker:    h.speaker,
		Translator: tr,
		Recorder:   h.recorder,
		Haptics:    h.haptics,
	}, opts, zerolog.Nop())
	t.Cleanup(func() { h.c.Hangup() })
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// waitState reads state changes until want arrives.
func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-h.states:
			if s == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s, at %s", want, h.c.State())
		}
	}
}

// waitListen waits for the n-th Listen call.
func (h *harness) waitListen(t *testing.T, n int) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-h.strategy.listening:
			if got >= n {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for listen call %d", n)
		}
	}
}

func (h *harness) waitCaption(t *testing.T, kind CaptionKind) Caption {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c := <-h.captions:
			if c.Kind == kind {
				return c
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s caption", kind)
			return Caption{}
		}
	}
}

// settle gives stray goroutines time to deliver anything they should not.
func settle() { time.Sleep(50 * time.Millisecond) }
