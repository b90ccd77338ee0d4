package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TobiSchelling/pulsemap/internal/behaviormap"
	"github.com/TobiSchelling/pulsemap/internal/insight"
)

// UpsertInsightState replaces the stored state of s.UserID with s.
// Every column is written; states are never patched field by field.
func (db *DB) UpsertInsightState(s insight.State) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now()
	}
	_, err := db.conn.Exec(
		`INSERT INTO insight_states
		(user_id, top_interest, productivity_score, entertainment_ratio, current_trend, last_reflection, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			top_interest = excluded.top_interest,
			productivity_score = excluded.productivity_score,
			entertainment_ratio = excluded.entertainment_ratio,
			current_trend = excluded.current_trend,
			last_reflection = excluded.last_reflection,
			updated_at = excluded.updated_at`,
		s.UserID, s.TopInterest, s.ProductivityScore, s.EntertainmentRatio,
		string(s.CurrentTrend), s.LastReflection, formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting insight state: %w", err)
	}
	return nil
}

// GetInsightState returns the stored state for a user, or nil when none exists.
func (db *DB) GetInsightState(userID string) (*insight.State, error) {
	row := db.conn.QueryRow(
		`SELECT user_id, top_interest, productivity_score, entertainment_ratio, current_trend, last_reflection, updated_at
		FROM insight_states WHERE user_id = ?`, userID,
	)
	var s insight.State
	var trend, updated string
	if err := row.Scan(&s.UserID, &s.TopInterest, &s.ProductivityScore, &s.EntertainmentRatio,
		&trend, &s.LastReflection, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	s.CurrentTrend = insight.Trend(trend)
	t, err := parseTime(updated)
	if err != nil {
		return nil, err
	}
	s.UpdatedAt = t
	return &s, nil
}

// GetSnapshot returns the previous map summary of a user. A user without
// one gets an empty snapshot.
func (db *DB) GetSnapshot(userID string) (behaviormap.Snapshot, error) {
	var snap behaviormap.Snapshot
	var nodes, edges string
	err := db.conn.QueryRow(
		"SELECT nodes, edges FROM map_snapshots WHERE user_id = ?", userID,
	).Scan(&nodes, &edges)
	if err == sql.ErrNoRows {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal([]byte(nodes), &snap.Nodes); err != nil {
		return snap, fmt.Errorf("decoding snapshot nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(edges), &snap.Edges); err != nil {
		return snap, fmt.Errorf("decoding snapshot edges: %w", err)
	}
	return snap, nil
}

// SaveSnapshot replaces the stored map summary of a user.
func (db *DB) SaveSnapshot(userID string, snap behaviormap.Snapshot, change behaviormap.ChangeType, at time.Time) error {
	nodes, err := json.Marshal(nonNil(snap.Nodes))
	if err != nil {
		return err
	}
	edges, err := json.Marshal(nonNil(snap.Edges))
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		`INSERT INTO map_snapshots (user_id, nodes, edges, change_type, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			nodes = excluded.nodes,
			edges = excluded.edges,
			change_type = excluded.change_type,
			updated_at = excluded.updated_at`,
		userID, string(nodes), string(edges), string(change), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
