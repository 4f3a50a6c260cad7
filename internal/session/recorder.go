package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicecall/internal/tutor"
)

const (
	DefaultHistoryLimit = 50
	DefaultWriteTimeout = 5 * time.Second
	DefaultFlushTimeout = 10 * time.Second

	queueSize = 64
)

// ErrEnded is returned by Start after Finish.
var ErrEnded = errors.New("session: call already ended")

// Options configure a Recorder.
type Options struct {
	HistoryLimit int
	// WriteTimeout bounds each store write.
	WriteTimeout time.Duration
	// FlushTimeout bounds how long Finish waits for queued writes.
	FlushTimeout time.Duration
}

// Recorder owns the turn and word counters of a call. Counter updates happen
// synchronously in the caller; store writes are queued and applied in order by
// one background worker, and their failures are only logged.
type Recorder struct {
	store   Store
	history History
	opts    Options
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sess     CallSession
	started  bool
	ended    bool
	dropped  int
	ops      chan op
	workerWG sync.WaitGroup
}

type op struct {
	name string
	fn   func(ctx context.Context) error
}

// NewRecorder returns a Recorder for one call. store and history may be nil.
func NewRecorder(deviceID string, settings tutor.Settings, store Store, history History, opts Options, log zerolog.Logger) *Recorder {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = DefaultFlushTimeout
	}
	return &Recorder{
		store:   store,
		history: history,
		opts:    opts,
		log:     log.With().Str("component", "session").Logger(),
		now:     time.Now,
		sess: CallSession{
			ID:       uuid.NewString(),
			DeviceID: deviceID,
			Tutor:    settings.Normalize(),
		},
	}
}

// ID is the session id.
func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.ID
}

// Start stamps the start time and queues the session creation. Calling it
// again is a no-op.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return ErrEnded
	}
	if r.started {
		return nil
	}
	r.started = true
	r.sess.StartedAt = r.now()
	r.ops = make(chan op, queueSize)
	r.workerWG.Add(1)
	go r.worker(r.ops)

	id, device, settings := r.sess.ID, r.sess.DeviceID, r.sess.Tutor
	r.enqueueLocked("start_session", func(ctx context.Context) error {
		if r.store == nil {
			return nil
		}
		return r.store.StartSession(ctx, device, id, settings)
	})
	r.log.Info().Str("session_id", id).Str("device_id", device).Msg("session started")
	return nil
}

// RecordUser counts a finalized user utterance. Empty text and utterances
// after Finish are ignored and report false.
func (r *Recorder) RecordUser(text string) (ConversationTurn, bool) {
	text = strings.TrimSpace(text)
	r.mu.Lock()
	defer r.mu.Unlock()
	if text == "" || r.ended || !r.started {
		return ConversationTurn{}, false
	}
	r.sess.TurnCount++
	words := CountWords(text)
	r.sess.WordCount += words
	turn := ConversationTurn{
		Speaker:    User,
		Text:       text,
		TurnNumber: r.sess.TurnCount,
		WordCount:  words,
		Time:       r.now(),
	}
	r.appendLocked(turn)
	return turn, true
}

// RecordAssistant stores an assistant reply under the current turn number.
func (r *Recorder) RecordAssistant(text string) (ConversationTurn, bool) {
	text = strings.TrimSpace(text)
	r.mu.Lock()
	defer r.mu.Unlock()
	if text == "" || r.ended || !r.started {
		return ConversationTurn{}, false
	}
	r.sess.Replies++
	turn := ConversationTurn{
		Speaker:    Assistant,
		Text:       text,
		TurnNumber: r.sess.TurnCount,
		WordCount:  CountWords(text),
		Time:       r.now(),
	}
	r.appendLocked(turn)
	return turn, true
}

func (r *Recorder) appendLocked(turn ConversationTurn) {
	r.sess.Turns = append(r.sess.Turns, turn)
	id, device := r.sess.ID, r.sess.DeviceID
	r.enqueueLocked("save_message", func(ctx context.Context) error {
		if r.store == nil {
			return nil
		}
		return r.store.SaveMessage(ctx, device, id, turn)
	})
}

// SetState records the controller state for snapshots.
func (r *Recorder) SetState(state string) {
	r.mu.Lock()
	r.sess.State = state
	r.mu.Unlock()
}

// Snapshot returns a copy of the session.
func (r *Recorder) Snapshot() CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Finish stops counting, queues the final counts and the history entry, and
// waits up to FlushTimeout for queue space and for queued writes. It is
// idempotent.
func (r *Recorder) Finish() CallSession {
	r.mu.Lock()
	if r.ended {
		s := r.snapshotLocked()
		r.mu.Unlock()
		return s
	}
	r.ended = true
	if !r.started {
		s := r.snapshotLocked()
		r.mu.Unlock()
		return s
	}
	r.sess.EndedAt = r.now()
	final := r.snapshotLocked()
	// ended is set, so nothing else sends on ops from here on
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.FlushTimeout)
	defer cancel()
	r.enqueueFinal(ctx, "end_session", func(ctx context.Context) error {
		if r.store == nil {
			return nil
		}
		return r.store.EndSession(ctx, final.DeviceID, final.ID, final.Duration(), final.TurnCount, final.WordCount)
	})
	r.enqueueFinal(ctx, "history", func(ctx context.Context) error {
		if r.history == nil {
			return nil
		}
		return r.history.Add(ctx, HistoryEntry{
			ID:              final.ID,
			Timestamp:       final.EndedAt,
			DurationSeconds: int(final.Duration() / time.Second),
			Words:           final.WordCount,
			TurnCount:       final.TurnCount,
			TutorName:       final.Tutor.Name(),
		}, r.opts.HistoryLimit)
	})
	close(r.ops)

	done := make(chan struct{})
	go func() {
		r.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn().Dur("timeout", r.opts.FlushTimeout).Msg("session flush timed out")
	}
	r.log.Info().
		Str("session_id", final.ID).
		Int("turns", final.TurnCount).
		Int("words", final.WordCount).
		Dur("duration", final.Duration()).
		Msg("session finished")
	return final
}

func (r *Recorder) snapshotLocked() CallSession {
	s := r.sess
	s.Turns = append([]ConversationTurn(nil), r.sess.Turns...)
	return s
}

// enqueueLocked never blocks the caller; a full queue drops the write.
func (r *Recorder) enqueueLocked(name string, fn func(ctx context.Context) error) {
	select {
	case r.ops <- op{name: name, fn: fn}:
	default:
		r.dropped++
		r.log.Warn().Str("op", name).Int("dropped", r.dropped).Msg("persistence queue full, dropping write")
	}
}

// enqueueFinal waits for queue space, up to ctx, so the closing writes are not
// lost behind a backlog.
func (r *Recorder) enqueueFinal(ctx context.Context, name string, fn func(ctx context.Context) error) {
	select {
	case r.ops <- op{name: name, fn: fn}:
	case <-ctx.Done():
		r.log.Warn().Str("op", name).Msg("persistence queue full at finish, dropping write")
	}
}

func (r *Recorder) worker(ops <-chan op) {
	defer r.workerWG.Done()
	for o := range ops {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
		err := o.fn(ctx)
		cancel()
		if err != nil {
			r.log.Warn().Err(err).Str("op", o.name).Msg("persistence failed")
		}
	}
}
