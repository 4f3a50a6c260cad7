package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keshucs12345/voicecall/internal/tutor"
)

type fakeStore struct {
	mu      sync.Mutex
	err     error
	calls   []string
	ended   [2]int
	history []HistoryEntry
	limit   int
}

func (f *fakeStore) record(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	return f.err
}

func (f *fakeStore) StartSession(ctx context.Context, deviceID, sessionID string, settings tutor.Settings) error {
	return f.record("start:" + deviceID + ":" + settings.Gender)
}

func (f *fakeStore) SaveMessage(ctx context.Context, deviceID, sessionID string, turn ConversationTurn) error {
	return f.record(fmt.Sprintf("message:%s:%d", turn.Speaker, turn.TurnNumber))
}

func (f *fakeStore) EndSession(ctx context.Context, deviceID, sessionID string, d time.Duration, turns, words int) error {
	f.mu.Lock()
	f.ended = [2]int{turns, words}
	f.mu.Unlock()
	return f.record("end")
}

func (f *fakeStore) Add(ctx context.Context, e HistoryEntry, limit int) error {
	f.mu.Lock()
	f.history = append(f.history, e)
	f.limit = limit
	f.mu.Unlock()
	return f.record("history")
}

func (f *fakeStore) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestRecorder(store *fakeStore) *Recorder {
	return NewRecorder("device-1", tutor.Settings{Gender: "male"}, store, store, Options{}, zerolog.Nop())
}

func TestCountersFollowUserUtterances(t *testing.T) {
	r := newTestRecorder(&fakeStore{})
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}

	utterances := []string{"hello there", "  ", "I work   in sales", "", "yes"}
	wantTurns, wantWords := 0, 0
	prevTurns, prevWords := 0, 0
	for _, u := range utterances {
		turn, ok := r.RecordUser(u)
		if n := CountWords(u); n > 0 {
			wantTurns++
			wantWords += n
			if !ok || turn.TurnNumber != wantTurns || turn.WordCount != n {
				t.Fatalf("RecordUser(%q) = %+v, %v", u, turn, ok)
			}
		} else if ok {
			t.Fatalf("empty utterance %q was counted", u)
		}
		r.RecordAssistant("Nice! Tell me more?")

		s := r.Snapshot()
		if s.TurnCount < prevTurns || s.WordCount < prevWords {
			t.Fatalf("counters decreased: %+v", s)
		}
		prevTurns, prevWords = s.TurnCount, s.WordCount
	}

	s := r.Finish()
	if s.TurnCount != wantTurns || s.WordCount != wantWords {
		t.Fatalf("turns=%d words=%d, want %d %d", s.TurnCount, s.WordCount, wantTurns, wantWords)
	}
	if s.Replies != len(utterances) {
		t.Fatalf("replies = %d", s.Replies)
	}
}

func TestAssistantReplyUsesCurrentTurn(t *testing.T) {
	r := newTestRecorder(&fakeStore{})
	_ = r.Start()
	greeting, _ := r.RecordAssistant("Hi! How was your day?")
	r.RecordUser("good thanks")
	reply, _ := r.RecordAssistant("Great, what did you do?")
	if greeting.TurnNumber != 0 || reply.TurnNumber != 1 || reply.Speaker != Assistant {
		t.Fatalf("greeting=%+v reply=%+v", greeting, reply)
	}
	if s := r.Snapshot(); s.TurnCount != 1 || s.WordCount != 2 {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestFinishFlushesInOrder(t *testing.T) {
	store := &fakeStore{}
	r := newTestRecorder(store)
	_ = r.Start()
	r.RecordUser("one two three")
	r.RecordAssistant("ok")
	s := r.Finish()

	want := []string{"start:device-1:male", "message:user:1", "message:assistant:1", "end", "history"}
	got := store.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
	if store.ended != [2]int{1, 3} {
		t.Fatalf("ended with %v", store.ended)
	}
	if len(store.history) != 1 || store.limit != DefaultHistoryLimit {
		t.Fatalf("history = %+v limit %d", store.history, store.limit)
	}
	h := store.history[0]
	if h.ID != s.ID || h.TutorName != "James" || h.Words != 3 || h.TurnCount != 1 {
		t.Fatalf("history entry = %+v", h)
	}
}

func TestNothingCountsAfterFinish(t *testing.T) {
	store := &fakeStore{}
	r := newTestRecorder(store)
	_ = r.Start()
	r.RecordUser("before")
	first := r.Finish()

	if _, ok := r.RecordUser("after hangup"); ok {
		t.Fatal("utterance counted after Finish")
	}
	if _, ok := r.RecordAssistant("late reply"); ok {
		t.Fatal("reply recorded after Finish")
	}
	second := r.Finish()
	if second.TurnCount != first.TurnCount || len(store.Calls()) != 4 {
		t.Fatalf("second Finish changed state: %+v calls=%v", second, store.Calls())
	}
	if err := r.Start(); !errors.Is(err, ErrEnded) {
		t.Fatalf("Start after Finish = %v", err)
	}
}

func TestStoreFailuresDoNotBlock(t *testing.T) {
	store := &fakeStore{err: errors.New("db locked")}
	r := newTestRecorder(store)
	_ = r.Start()
	if _, ok := r.RecordUser("still counted"); !ok {
		t.Fatal("utterance dropped because the store failed")
	}
	if s := r.Finish(); s.TurnCount != 1 || s.WordCount != 2 {
		t.Fatalf("final = %+v", s)
	}
}

func TestFinishWithoutStart(t *testing.T) {
	store := &fakeStore{}
	r := newTestRecorder(store)
	r.Finish()
	if calls := store.Calls(); len(calls) != 0 {
		t.Fatalf("calls = %v", calls)
	}
}

type slowStore struct {
	fakeStore
	release chan struct{}
}

func (s *slowStore) SaveMessage(ctx context.Context, deviceID, sessionID string, turn ConversationTurn) error {
	<-s.release
	return nil
}

func TestFlushTimeoutBoundsFinish(t *testing.T) {
	store := &slowStore{release: make(chan struct{})}
	defer close(store.release)
	r := NewRecorder("d", tutor.Settings{}, store, nil, Options{FlushTimeout: 50 * time.Millisecond}, zerolog.Nop())
	_ = r.Start()
	r.RecordUser("stuck write")

	start := time.Now()
	r.Finish()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Finish took %v", elapsed)
	}
}

func TestFinishWaitsForQueueSpace(t *testing.T) {
	store := &slowStore{release: make(chan struct{})}
	r := NewRecorder("d", tutor.Settings{}, store, store, Options{FlushTimeout: 2 * time.Second}, zerolog.Nop())
	_ = r.Start()
	// the first message holds the worker; the rest fill the queue
	for i := 0; i < queueSize+8; i++ {
		r.RecordUser("backlog")
	}

	done := make(chan CallSession, 1)
	go func() { done <- r.Finish() }()
	time.Sleep(50 * time.Millisecond)
	close(store.release)

	var s CallSession
	select {
	case s = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Finish did not return")
	}
	calls := store.Calls()
	if len(calls) < 2 || calls[len(calls)-2] != "end" || calls[len(calls)-1] != "history" {
		t.Fatalf("closing writes missing: %v", calls)
	}
	if store.ended != [2]int{s.TurnCount, s.WordCount} || s.TurnCount != queueSize+8 {
		t.Fatalf("ended with %v, session %d turns", store.ended, s.TurnCount)
	}
}

func TestCountWords(t *testing.T) {
	tests := map[string]int{"": 0, "one": 1, " two  words ": 2, "tab\tand\nnewline": 3}
	for in, want := range tests {
		if got := CountWords(in); got != want {
			t.Errorf("CountWords(%q) = %d, want %d", in, got, want)
		}
	}
}
