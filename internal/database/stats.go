package database

// Stats holds row counts across the store.
type Stats struct {
	Users           int
	Events          int
	CheckIns        int
	Quests          int
	Messages        int
	PendingMessages int
	Signals         int
	InsightStates   int
	Snapshots       int
}

// GetStats returns counts for the status command.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM users", &s.Users},
		{"SELECT COUNT(*) FROM events", &s.Events},
		{"SELECT COUNT(*) FROM check_ins", &s.CheckIns},
		{"SELECT COUNT(*) FROM quests", &s.Quests},
		{"SELECT COUNT(*) FROM chat_messages", &s.Messages},
		{"SELECT COUNT(*) FROM chat_messages WHERE extracted = 0", &s.PendingMessages},
		{"SELECT COUNT(*) FROM signals", &s.Signals},
		{"SELECT COUNT(*) FROM insight_states", &s.InsightStates},
		{"SELECT COUNT(*) FROM map_snapshots", &s.Snapshots},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// CountPendingMessages returns how many of a user's messages await extraction.
func (db *DB) CountPendingMessages(userID string) (int, error) {
	var n int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM chat_messages WHERE user_id = ? AND extracted = 0", userID,
	).Scan(&n)
	return n, err
}
