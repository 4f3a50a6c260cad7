// Package call runs the turn-taking loop of a live call: listen for the user,
// get the tutor's reply, speak it, and listen again.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicecall/internal/audio"
	"github.com/keshucs12345/voicecall/internal/metrics"
	"github.com/keshucs12345/voicecall/internal/session"
	"github.com/keshucs12345/voicecall/internal/stt"
	"github.com/keshucs12345/voicecall/internal/tutor"
)

const (
	DefaultMaxListen  = 60 * time.Second
	DefaultRetryDelay = time.Second

	translateTimeout = 10 * time.Second
	eventBuffer      = 64
)

var (
	// ErrNoAudioPath ends a call when no microphone stream can be opened at all.
	ErrNoAudioPath = errors.New("call: no audio input available")
	// ErrNotStarted is returned by Wait before Start.
	ErrNotStarted = errors.New("call: not started")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("call: already started")
)

// Responder produces the next tutor message for the conversation so far.
type Responder interface {
	Reply(ctx context.Context, settings tutor.Settings, history []session.ConversationTurn) (string, error)
}

// Translator translates a reply for captions.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Speaker plays replies. Speak returns once the reply has been heard.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop()
	SetSpeakerEnabled(on bool)
}

// Deps are the collaborators of a Controller. Translator, Haptics and Metrics
// may be nil.
type Deps struct {
	Strategy   stt.Strategy
	Responder  Responder
	Speaker    Speaker
	Translator Translator
	Recorder   *session.Recorder
	Haptics    Haptics
	Metrics    *metrics.Metrics
}

// Options tune a Controller. Callbacks run on the controller goroutine and
// must not block.
type Options struct {
	// MaxListen bounds a listening cycle; on expiry the partial text is used.
	MaxListen time.Duration
	// RetryDelay is the pause before listening again after a failed request.
	RetryDelay time.Duration
	// Greeting has the tutor speak first.
	Greeting bool

	OnState   func(from, to State)
	OnCaption func(Caption)
	// OnManual fires when recording needs an explicit StopRecording.
	OnManual func()
}

// Controller is the call state machine. All state changes happen on one
// goroutine; results of asynchronous work arrive there as events tagged with
// the phase that started them, and events from an earlier phase are dropped.
type Controller struct {
	deps Deps
	opts Options
	log  zerolog.Logger

	events chan event
	done   chan struct{}

	mu      sync.Mutex
	started bool
	current State
	muted   bool
	final   session.CallSession
	err     error

	// owned by the loop goroutine
	state       State
	isMuted     bool
	phase       uint64
	phaseCtx    context.Context
	phaseCancel context.CancelFunc
	listenDone  chan struct{}
	timers      []*time.Timer
	listenStart time.Time
}

// New returns an idle Controller.
func New(deps Deps, opts Options, log zerolog.Logger) *Controller {
	if opts.MaxListen <= 0 {
		opts.MaxListen = DefaultMaxListen
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if deps.Haptics == nil {
		deps.Haptics = noHaptics{}
	}
	return &Controller{
		deps:   deps,
		opts:   opts,
		log:    log.With().Str("component", "call").Logger(),
		events: make(chan event, eventBuffer),
		done:   make(chan struct{}),
	}
}

type event any

type (
	utteranceEvent struct {
		phase uint64
		u     stt.Utterance
		err   error
	}
	replyEvent struct {
		phase   uint64
		text    string
		err     error
		elapsed time.Duration
	}
	spokenEvent struct {
		phase uint64
		err   error
	}
	maxListenEvent struct{ phase uint64 }
	retryEvent     struct{ phase uint64 }
	captionEvent   struct{ c Caption }
	manualEvent    struct{}
	muteCmd        struct{ on bool }
	stopRecCmd     struct{}
	hangupCmd      struct{}
)

// Start begins the call. Cancelling ctx hangs up.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if err := c.deps.Recorder.Start(); err != nil {
		err = fmt.Errorf("call: start session: %w", err)
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		return err
	}
	c.log.Info().Str("session_id", c.deps.Recorder.ID()).Str("strategy", c.deps.Strategy.Name()).Msg("call started")
	go c.run(ctx)
	return nil
}

// State is the current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Muted reports whether the microphone is muted.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// SetMuted mutes or unmutes. Muting while listening stops capture at once;
// unmuting while idle starts listening.
func (c *Controller) SetMuted(on bool) {
	c.mu.Lock()
	c.muted = on
	c.mu.Unlock()
	c.send(muteCmd{on: on})
}

// SetSpeakerEnabled switches reply audio on or off.
func (c *Controller) SetSpeakerEnabled(on bool) {
	c.deps.Speaker.SetSpeakerEnabled(on)
}

// StopRecording ends the current listening cycle with what has been heard so
// far. It is how manual recording is stopped.
func (c *Controller) StopRecording() {
	c.send(stopRecCmd{})
}

// Hangup ends the call and returns the flushed session. It is idempotent.
func (c *Controller) Hangup() session.CallSession {
	c.mu.Lock()
	started := c.started
	c.started = true
	c.mu.Unlock()
	if !started {
		final := c.deps.Recorder.Finish()
		c.mu.Lock()
		c.current = Ending
		c.final = final
		c.mu.Unlock()
		close(c.done)
		return final
	}
	c.send(hangupCmd{})
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.final
}

// Done is closed once the call has ended.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Wait blocks until the call ends and returns ErrNoAudioPath if it ended for
// lack of a microphone.
func (c *Controller) Wait() error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Session returns the flushed session after the call has ended.
func (c *Controller) Session() session.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.final
}

func (c *Controller) send(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// post delivers the result of asynchronous work unless its phase has been
// cancelled or the call is over.
func (c *Controller) post(ctx context.Context, ev event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	case <-c.done:
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	c.deps.Metrics.RecordCallStart()
	c.phaseCtx, c.phaseCancel = context.WithCancel(context.Background())

	if c.opts.Greeting {
		c.transition(Processing)
		c.requestReply()
	} else {
		c.resume()
	}

	for {
		select {
		case <-ctx.Done():
			c.end(nil)
			return
		case ev := <-c.events:
			if c.handle(ev) {
				return
			}
		}
	}
}

// handle applies one event and reports whether the call has ended.
func (c *Controller) handle(ev event) bool {
	switch ev := ev.(type) {
	case hangupCmd:
		c.end(nil)
		return true

	case muteCmd:
		c.onMute(ev.on)

	case stopRecCmd:
		if c.state == Listening {
			c.log.Debug().Msg("recording stopped by user")
			c.deps.Strategy.Finalize()
		}

	case captionEvent:
		c.caption(ev.c)

	case manualEvent:
		c.log.Warn().Msg("continuous listening unavailable, recording is manual")
		if c.opts.OnManual != nil {
			c.opts.OnManual()
		}

	case maxListenEvent:
		if ev.phase == c.phase && c.state == Listening {
			c.log.Warn().Dur("max_listen", c.opts.MaxListen).Msg("listening too long, finalizing")
			c.deps.Strategy.Finalize()
		}

	case retryEvent:
		if ev.phase == c.phase {
			c.resume()
		}

	case utteranceEvent:
		if ev.phase != c.phase || c.state != Listening {
			c.log.Debug().Stringer("state", c.state).Msg("stale utterance ignored")
			return false
		}
		return c.onUtterance(ev.u, ev.err)

	case replyEvent:
		if ev.phase != c.phase || c.state != Processing {
			return false
		}
		c.onReply(ev.text, ev.err, ev.elapsed)

	case spokenEvent:
		if ev.phase != c.phase || c.state != Speaking {
			return false
		}
		switch {
		case errors.Is(ev.err, context.Canceled):
			c.log.Debug().Msg("reply cut short")
		case ev.err != nil:
			c.log.Warn().Err(ev.err).Msg("reply could not be spoken")
			c.deps.Metrics.RecordError("tts", "synthesis")
		}
		c.resume()
	}
	return false
}

func (c *Controller) onMute(on bool) {
	if on == c.isMuted {
		return
	}
	c.isMuted = on
	c.log.Info().Bool("muted", on).Msg("mute toggled")
	switch {
	case on && c.state == Listening:
		c.transition(Idle)
	case !on && c.state == Idle:
		c.listen()
	}
}

func (c *Controller) onUtterance(u stt.Utterance, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		if errors.Is(err, audio.ErrAcquisition) {
			c.log.Error().Err(err).Msg("no microphone available")
			c.deps.Haptics.Fire(Error)
			c.deps.Metrics.RecordError("audio", "acquisition")
			c.end(ErrNoAudioPath)
			return true
		}
		c.log.Warn().Err(err).Str("strategy", c.deps.Strategy.Name()).Msg("transcription failed, listening again")
		c.deps.Haptics.Fire(Error)
		c.deps.Metrics.RecordError("stt", "transcription")
		c.retryLater()
		return false
	}
	if u.Empty() {
		c.log.Debug().Msg("no speech recognized")
		c.listen()
		return false
	}

	listened := time.Since(c.listenStart)
	c.transition(Processing)
	turn, ok := c.deps.Recorder.RecordUser(u.Text)
	if ok {
		c.log.Info().Int("turn", turn.TurnNumber).Int("words", turn.WordCount).Str("source", string(u.Source)).Str("text", u.Text).Msg("user turn")
		c.deps.Metrics.RecordUtterance(string(u.Source), turn.WordCount, listened)
		c.deps.Haptics.Fire(Success)
		c.caption(Caption{Kind: CaptionUser, Text: turn.Text, Turn: turn.TurnNumber})
	}
	c.requestReply()
	return false
}

func (c *Controller) onReply(text string, err error, elapsed time.Duration) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.log.Warn().Err(err).Dur("retry_in", c.opts.RetryDelay).Msg("reply request failed")
		c.deps.Haptics.Fire(Error)
		c.deps.Metrics.RecordError("ai", "request")
		c.retryLater()
		return
	}
	c.deps.Metrics.RecordReply(elapsed)
	turn, _ := c.deps.Recorder.RecordAssistant(text)
	c.log.Info().Int("turn", turn.TurnNumber).Dur("latency", elapsed).Str("text", text).Msg("assistant turn")
	c.caption(Caption{Kind: CaptionAssistant, Text: CleanCaption(text), Turn: turn.TurnNumber})
	c.translate(text, turn.TurnNumber)
	c.speak(text)
}

// resume listens again, or idles while muted.
func (c *Controller) resume() {
	if c.isMuted {
		c.transition(Idle)
		return
	}
	c.listen()
}

func (c *Controller) listen() {
	c.transition(Listening)
	ctx, phase := c.phaseCtx, c.phase
	c.listenStart = time.Now()
	c.arm(c.opts.MaxListen, func() { c.post(ctx, maxListenEvent{phase: phase}) })

	hooks := stt.Hooks{
		OnSpeechStart: func() { c.deps.Haptics.Fire(Medium) },
		OnPartial: func(text string) {
			c.post(ctx, captionEvent{Caption{Kind: CaptionPartial, Text: text}})
		},
		OnManual: func() { c.post(ctx, manualEvent{}) },
	}
	done := make(chan struct{})
	c.listenDone = done
	c.deps.Haptics.Fire(Light)
	go func() {
		defer close(done)
		u, err := c.deps.Strategy.Listen(ctx, hooks)
		c.post(ctx, utteranceEvent{phase: phase, u: u, err: err})
	}()
}

func (c *Controller) requestReply() {
	ctx, phase := c.phaseCtx, c.phase
	snap := c.deps.Recorder.Snapshot()
	go func() {
		start := time.Now()
		text, err := c.deps.Responder.Reply(ctx, snap.Tutor, snap.Turns)
		c.post(ctx, replyEvent{phase: phase, text: text, err: err, elapsed: time.Since(start)})
	}()
}

func (c *Controller) speak(text string) {
	c.transition(Speaking)
	ctx, phase := c.phaseCtx, c.phase
	go func() {
		err := c.deps.Speaker.Speak(ctx, text)
		c.post(ctx, spokenEvent{phase: phase, err: err})
	}()
}

// translate fetches the caption translation in the background. It is not tied
// to a phase; a late translation still belongs to its turn.
func (c *Controller) translate(text string, turn int) {
	if c.deps.Translator == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), translateTimeout)
		defer cancel()
		tr, err := c.deps.Translator.Translate(ctx, CleanCaption(text))
		if err != nil || tr == "" {
			c.log.Debug().Err(err).Msg("translation unavailable")
			tr = TranslationUnavailable
		}
		select {
		case c.events <- captionEvent{Caption{Kind: CaptionTranslation, Text: tr, Turn: turn}}:
		case <-c.done:
		}
	}()
}

func (c *Controller) retryLater() {
	ctx, phase := c.phaseCtx, c.phase
	c.arm(c.opts.RetryDelay, func() { c.post(ctx, retryEvent{phase: phase}) })
}

// arm starts a timer owned by the current phase.
func (c *Controller) arm(d time.Duration, fn func()) {
	c.timers = append(c.timers, time.AfterFunc(d, fn))
}

func (c *Controller) caption(cp Caption) {
	if c.opts.OnCaption != nil {
		c.opts.OnCaption(cp)
	}
}

// transition leaves the current phase, releasing everything it owned, and
// enters to with a fresh phase.
func (c *Controller) transition(to State) {
	c.stopTimers()
	c.phaseCancel()
	c.waitListen()

	c.phase++
	c.phaseCtx, c.phaseCancel = context.WithCancel(context.Background())
	c.setState(to)
}

func (c *Controller) setState(to State) {
	from := c.state
	c.state = to
	c.mu.Lock()
	c.current = to
	c.mu.Unlock()
	c.deps.Recorder.SetState(to.String())
	if from == to {
		return
	}
	c.log.Debug().Stringer("from", from).Stringer("to", to).Msg("state")
	c.deps.Metrics.RecordTransition(from.String(), to.String())
	if c.opts.OnState != nil {
		c.opts.OnState(from, to)
	}
}

func (c *Controller) stopTimers() {
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
}

// waitListen blocks until the running Listen has released the microphone.
func (c *Controller) waitListen() {
	if c.listenDone != nil {
		<-c.listenDone
		c.listenDone = nil
	}
}

// end cancels timers, requests, the strategy and playback in that order,
// waits for the microphone to be released and flushes the session.
func (c *Controller) end(cause error) {
	c.stopTimers()
	c.phaseCancel()
	if err := c.deps.Strategy.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("stop transcription")
	}
	c.deps.Speaker.Stop()
	c.waitListen()
	c.phase++
	c.setState(Ending)

	final := c.deps.Recorder.Finish()
	status := "ok"
	if cause != nil {
		status = "error"
	}
	c.deps.Metrics.RecordCallEnd(status, final.Duration())
	c.log.Info().Err(cause).Int("turns", final.TurnCount).Int("words", final.WordCount).Msg("call ended")

	c.mu.Lock()
	c.final = final
	c.err = cause
	c.mu.Unlock()
}
