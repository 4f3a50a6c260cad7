package store

import (
	"context"
	"time"

	"github.com/keshucs12345/voicecall/internal/session"
)

// Add inserts e and trims the history to the limit most recent entries.
func (s *Store) Add(ctx context.Context, e session.HistoryEntry, limit int) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO history(id, timestamp, duration_seconds, words, turn_count, tutor_name) VALUES(?,?,?,?,?,?)`,
		e.ID, ts.UnixMilli(), e.DurationSeconds, e.Words, e.TurnCount, e.TutorName); err != nil {
		tx.Rollback()
		return err
	}
	if limit > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM history WHERE id NOT IN (SELECT id FROM history ORDER BY timestamp DESC, rowid DESC LIMIT ?)`,
			limit); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]session.HistoryEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, timestamp, duration_seconds, words, turn_count, tutor_name FROM history ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.HistoryEntry
	for rows.Next() {
		var (
			e  session.HistoryEntry
			ts int64
		)
		if err := rows.Scan(&e.ID, &ts, &e.DurationSeconds, &e.Words, &e.TurnCount, &e.TutorName); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
