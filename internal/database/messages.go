package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/pulsemap/internal/signal"
)

// InsertMessage stores a message for later signal extraction.
func (db *DB) InsertMessage(m signal.Message) (signal.Message, error) {
	if strings.TrimSpace(m.Body) == "" {
		return m, fmt.Errorf("message body is empty")
	}
	if m.ID == "" {
		m.ID = newID()
	}
	if m.Source == "" {
		m.Source = signal.SourceChat
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	_, err := db.conn.Exec(
		`INSERT INTO chat_messages (id, user_id, body, source, extracted, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Body, string(m.Source), m.Extracted, formatTime(m.CreatedAt),
	)
	if err != nil {
		return m, fmt.Errorf("inserting message: %w", err)
	}
	return m, nil
}

// GetUnextractedMessages returns a user's pending messages, oldest first.
// An empty userID returns pending messages of every user.
func (db *DB) GetUnextractedMessages(userID string) ([]signal.Message, error) {
	query := `SELECT id, user_id, body, source, extracted, created_at
		FROM chat_messages WHERE extracted = 0`
	var args []any
	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at, id"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []signal.Message
	for rows.Next() {
		var m signal.Message
		var source, created string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Body, &source, &m.Extracted, &created); err != nil {
			return nil, err
		}
		m.Source = signal.Source(source)
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkMessageExtracted flags a message as processed.
func (db *DB) MarkMessageExtracted(messageID string) error {
	_, err := db.conn.Exec("UPDATE chat_messages SET extracted = 1 WHERE id = ?", messageID)
	return err
}

// UpsertSignals stores signals keyed by (message, type). Re-extracting a
// message replaces its earlier values instead of duplicating them.
func (db *DB) UpsertSignals(userID string, signals []signal.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO signals
		(message_id, user_id, signal_type, intensity, confidence, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id, signal_type) DO UPDATE SET
			intensity = excluded.intensity,
			confidence = excluded.confidence,
			source = excluded.source,
			created_at = excluded.created_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range signals {
		if err := s.Type.Validate(); err != nil {
			return err
		}
		if _, err := stmt.Exec(s.MessageID, userID, string(s.Type), s.Intensity, s.Confidence,
			string(s.Source), formatTime(s.CreatedAt)); err != nil {
			return fmt.Errorf("upserting signal %s/%s: %w", s.MessageID, s.Type, err)
		}
	}
	return tx.Commit()
}

// GetSignalsSince returns a user's signals created strictly after since, oldest first.
func (db *DB) GetSignalsSince(userID string, since time.Time) ([]signal.Signal, error) {
	rows, err := db.conn.Query(
		`SELECT message_id, signal_type, intensity, confidence, source, created_at
		FROM signals WHERE user_id = ? AND created_at > ?
		ORDER BY created_at, message_id, signal_type`,
		userID, formatTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []signal.Signal
	for rows.Next() {
		var s signal.Signal
		var typ, source, created string
		if err := rows.Scan(&s.MessageID, &typ, &s.Intensity, &s.Confidence, &source, &created); err != nil {
			return nil, err
		}
		s.Type = signal.Type(typ)
		s.Source = signal.Source(source)
		if s.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}
