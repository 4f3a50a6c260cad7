// Package session records the turns of one call and persists them in the
// background.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/keshucs12345/voicecall/internal/tutor"
)

// Speaker is who produced a turn.
type Speaker string

const (
	User      Speaker = "user"
	Assistant Speaker = "assistant"
)

// ConversationTurn is one message of the call.
type ConversationTurn struct {
	Speaker    Speaker
	Text       string
	TurnNumber int
	WordCount  int
	Time       time.Time
}

// CallSession is the state of one call. Values returned by the Recorder are
// copies.
type CallSession struct {
	ID        string
	DeviceID  string
	StartedAt time.Time
	EndedAt   time.Time
	Turns     []ConversationTurn
	// TurnCount is the number of finalized user utterances.
	TurnCount int
	// WordCount is the number of words across user utterances.
	WordCount int
	// Replies is the number of assistant messages.
	Replies int
	State   string
	Tutor   tutor.Settings
}

// Duration is the call length, up to now for a running call.
func (s CallSession) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

// Store persists sessions. Every call is best effort.
type Store interface {
	StartSession(ctx context.Context, deviceID, sessionID string, settings tutor.Settings) error
	SaveMessage(ctx context.Context, deviceID, sessionID string, turn ConversationTurn) error
	EndSession(ctx context.Context, deviceID, sessionID string, duration time.Duration, turnCount, wordCount int) error
}

// HistoryEntry summarizes a finished call.
type HistoryEntry struct {
	ID              string
	Timestamp       time.Time
	DurationSeconds int
	Words           int
	TurnCount       int
	TutorName       string
}

// History keeps the most recent limit entries.
type History interface {
	Add(ctx context.Context, e HistoryEntry, limit int) error
}

// CountWords counts whitespace separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
