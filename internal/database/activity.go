package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/TobiSchelling/pulsemap/internal/behaviormap"
	"github.com/TobiSchelling/pulsemap/internal/insight"
)

// InsertEvent stores an activity event. Empty ID and zero CreatedAt are filled in.
func (db *DB) InsertEvent(e insight.Event) (insight.Event, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	e.Metadata = e.Metadata.Normalized()

	var duration sql.NullFloat64
	if e.Metadata.Duration != nil {
		duration = sql.NullFloat64{Float64: *e.Metadata.Duration, Valid: true}
	}
	_, err := db.conn.Exec(
		`INSERT INTO events (id, user_id, type, category, topic, duration_minutes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Type, e.Metadata.Category, e.Metadata.Topic, duration, formatTime(e.CreatedAt),
	)
	if err != nil {
		return e, fmt.Errorf("inserting event: %w", err)
	}
	return e, nil
}

// GetEventsSince returns a user's events created strictly after since, oldest first.
func (db *DB) GetEventsSince(userID string, since time.Time) ([]insight.Event, error) {
	rows, err := db.conn.Query(
		`SELECT id, user_id, type, category, topic, duration_minutes, created_at
		FROM events WHERE user_id = ? AND created_at > ? ORDER BY created_at`,
		userID, formatTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []insight.Event
	for rows.Next() {
		var e insight.Event
		var duration sql.NullFloat64
		var created string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Metadata.Category, &e.Metadata.Topic, &duration, &created); err != nil {
			return nil, err
		}
		if duration.Valid {
			d := duration.Float64
			e.Metadata.Duration = &d
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertCheckIn stores a daily check-in.
func (db *DB) InsertCheckIn(c behaviormap.CheckIn) (behaviormap.CheckIn, error) {
	if c.Percentage < 0 || c.Percentage > 100 {
		return c, fmt.Errorf("check-in percentage %v outside 0-100", c.Percentage)
	}
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	_, err := db.conn.Exec(
		"INSERT INTO check_ins (id, user_id, percentage, note, created_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.UserID, c.Percentage, c.Note, formatTime(c.CreatedAt),
	)
	if err != nil {
		return c, fmt.Errorf("inserting check-in: %w", err)
	}
	return c, nil
}

// GetCheckInsSince returns a user's check-ins created strictly after since, oldest first.
func (db *DB) GetCheckInsSince(userID string, since time.Time) ([]behaviormap.CheckIn, error) {
	rows, err := db.conn.Query(
		`SELECT id, user_id, percentage, note, created_at
		FROM check_ins WHERE user_id = ? AND created_at > ? ORDER BY created_at`,
		userID, formatTime(since),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checkIns []behaviormap.CheckIn
	for rows.Next() {
		var c behaviormap.CheckIn
		var created string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Percentage, &c.Note, &created); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		checkIns = append(checkIns, c)
	}
	return checkIns, rows.Err()
}

// InsertQuest stores a new quest.
func (db *DB) InsertQuest(q behaviormap.Quest) (behaviormap.Quest, error) {
	if q.ID == "" {
		q.ID = newID()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now()
	}
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = q.CreatedAt
	}
	_, err := db.conn.Exec(
		`INSERT INTO quests (id, user_id, title, category, progress, completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.UserID, q.Title, q.Category, q.Progress, q.Completed,
		formatTime(q.CreatedAt), formatTime(q.UpdatedAt),
	)
	if err != nil {
		return q, fmt.Errorf("inserting quest: %w", err)
	}
	return q, nil
}

// GetQuest returns the quest with the given id, or nil when none exists.
func (db *DB) GetQuest(id string) (*behaviormap.Quest, error) {
	row := db.conn.QueryRow(
		`SELECT id, user_id, title, category, progress, completed, created_at, updated_at
		FROM quests WHERE id = ?`, id,
	)
	q, err := scanQuest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// UpdateQuestProgress sets a quest's progress, clamped to 0-100.
// Reaching 100 does not complete the quest; CompleteQuest does.
func (db *DB) UpdateQuestProgress(id string, progress float64, at time.Time) error {
	progress = max(0, min(100, progress))
	return db.updateQuest(id, "UPDATE quests SET progress = ?, updated_at = ? WHERE id = ?",
		progress, formatTime(at), id)
}

// CompleteQuest marks a quest completed at full progress.
func (db *DB) CompleteQuest(id string, at time.Time) error {
	return db.updateQuest(id, "UPDATE quests SET progress = 100, completed = 1, updated_at = ? WHERE id = ?",
		formatTime(at), id)
}

func (db *DB) updateQuest(id, query string, args ...any) error {
	res, err := db.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("updating quest: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("quest %s not found", id)
	}
	return nil
}

// GetRecentQuests returns up to limit of a user's quests, most recently touched first.
func (db *DB) GetRecentQuests(userID string, limit int) ([]behaviormap.Quest, error) {
	rows, err := db.conn.Query(
		`SELECT id, user_id, title, category, progress, completed, created_at, updated_at
		FROM quests WHERE user_id = ? ORDER BY updated_at DESC, id LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quests []behaviormap.Quest
	for rows.Next() {
		q, err := scanQuest(rows)
		if err != nil {
			return nil, err
		}
		quests = append(quests, q)
	}
	return quests, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuest(s scanner) (behaviormap.Quest, error) {
	var q behaviormap.Quest
	var created, updated string
	if err := s.Scan(&q.ID, &q.UserID, &q.Title, &q.Category, &q.Progress, &q.Completed, &created, &updated); err != nil {
		return q, err
	}
	var err error
	if q.CreatedAt, err = parseTime(created); err != nil {
		return q, err
	}
	if q.UpdatedAt, err = parseTime(updated); err != nil {
		return q, err
	}
	return q, nil
}
