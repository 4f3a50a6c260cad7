// Package store persists call sessions, their messages and the recent call
// history in a local sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/keshucs12345/voicecall/internal/session"
	"github.com/keshucs12345/voicecall/internal/tutor"
)

type Store struct {
	DB *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; serializing here avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &Store{DB: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (id TEXT PRIMARY KEY, device_id TEXT, settings TEXT, started_at INTEGER, ended_at INTEGER, duration_seconds INTEGER, turn_count INTEGER DEFAULT 0, word_count INTEGER DEFAULT 0);`,
		`CREATE TABLE IF NOT EXISTS messages (id INTEGER PRIMARY KEY AUTOINCREMENT, session_id TEXT, device_id TEXT, speaker TEXT, text TEXT, turn_number INTEGER, word_count INTEGER, created_at INTEGER);`,
		`CREATE INDEX IF NOT EXISTS messages_session ON messages(session_id);`,
		`CREATE TABLE IF NOT EXISTS history (id TEXT PRIMARY KEY, timestamp INTEGER, duration_seconds INTEGER, words INTEGER, turn_count INTEGER, tutor_name TEXT);`,
	}
	for _, q := range stmts {
		if _, err := s.DB.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) StartSession(ctx context.Context, deviceID, sessionID string, settings tutor.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO sessions(id, device_id, settings, started_at) VALUES(?,?,?,?)`,
		sessionID, deviceID, string(raw), time.Now().Unix())
	return err
}

func (s *Store) SaveMessage(ctx context.Context, deviceID, sessionID string, turn session.ConversationTurn) error {
	at := turn.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO messages(session_id, device_id, speaker, text, turn_number, word_count, created_at) VALUES(?,?,?,?,?,?,?)`,
		sessionID, deviceID, string(turn.Speaker), turn.Text, turn.TurnNumber, turn.WordCount, at.UnixMilli())
	return err
}

func (s *Store) EndSession(ctx context.Context, deviceID, sessionID string, duration time.Duration, turnCount, wordCount int) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, duration_seconds = ?, turn_count = ?, word_count = ? WHERE id = ? AND device_id = ?`,
		time.Now().Unix(), int(duration/time.Second), turnCount, wordCount, sessionID, deviceID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session not found: %s", sessionID)
	}
	return nil
}

// SessionRecord is a stored session row.
type SessionRecord struct {
	ID              string
	DeviceID        string
	Settings        tutor.Settings
	StartedAt       time.Time
	Ended           bool
	DurationSeconds int
	TurnCount       int
	WordCount       int
}

func (s *Store) Session(ctx context.Context, sessionID string) (SessionRecord, error) {
	var (
		rec      SessionRecord
		raw      string
		started  int64
		ended    sql.NullInt64
		duration sql.NullInt64
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, device_id, settings, started_at, ended_at, duration_seconds, turn_count, word_count FROM sessions WHERE id = ?`,
		sessionID).Scan(&rec.ID, &rec.DeviceID, &raw, &started, &ended, &duration, &rec.TurnCount, &rec.WordCount)
	if err != nil {
		return SessionRecord{}, err
	}
	if err := json.Unmarshal([]byte(raw), &rec.Settings); err != nil {
		return SessionRecord{}, fmt.Errorf("session %s settings: %w", sessionID, err)
	}
	rec.StartedAt = time.Unix(started, 0)
	rec.Ended = ended.Valid
	rec.DurationSeconds = int(duration.Int64)
	return rec, nil
}

// Messages returns the messages of a session in insertion order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]session.ConversationTurn, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT speaker, text, turn_number, word_count, created_at FROM messages WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.ConversationTurn
	for rows.Next() {
		var (
			t       session.ConversationTurn
			speaker string
			at      int64
		)
		if err := rows.Scan(&speaker, &t.Text, &t.TurnNumber, &t.WordCount, &at); err != nil {
			return nil, err
		}
		t.Speaker = session.Speaker(speaker)
		t.Time = time.UnixMilli(at)
		out = append(out, t)
	}
	return out, rows.Err()
}
