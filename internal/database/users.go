package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/TobiSchelling/pulsemap/internal/behaviormap"
)

// xpPerLevel is the experience needed to advance one level.
const xpPerLevel = 100

// AddUser creates a user at level 1 with no experience.
func (db *DB) AddUser(name string) (*behaviormap.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("user name is required")
	}
	u := behaviormap.User{ID: newID(), Name: name, Level: 1, CreatedAt: now()}
	_, err := db.conn.Exec(
		"INSERT INTO users (id, name, level, xp, created_at) VALUES (?, ?, ?, ?, ?)",
		u.ID, u.Name, u.Level, u.XP, formatTime(u.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting user %q: %w", name, err)
	}
	return &u, nil
}

// GetUser returns the user with the given id, or nil when none exists.
func (db *DB) GetUser(id string) (*behaviormap.User, error) {
	return db.scanUser(db.conn.QueryRow(
		"SELECT id, name, level, xp, created_at FROM users WHERE id = ?", id,
	))
}

// FindUser resolves a user by id first, then by name.
func (db *DB) FindUser(ref string) (*behaviormap.User, error) {
	u, err := db.GetUser(ref)
	if err != nil || u != nil {
		return u, err
	}
	return db.scanUser(db.conn.QueryRow(
		"SELECT id, name, level, xp, created_at FROM users WHERE name = ?", ref,
	))
}

func (db *DB) scanUser(row *sql.Row) (*behaviormap.User, error) {
	var u behaviormap.User
	var created string
	if err := row.Scan(&u.ID, &u.Name, &u.Level, &u.XP, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = t
	return &u, nil
}

// ListUsers returns all users ordered by name.
func (db *DB) ListUsers() ([]behaviormap.User, error) {
	rows, err := db.conn.Query("SELECT id, name, level, xp, created_at FROM users ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []behaviormap.User
	for rows.Next() {
		var u behaviormap.User
		var created string
		if err := rows.Scan(&u.ID, &u.Name, &u.Level, &u.XP, &created); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// AddXP grants experience and recomputes the level.
func (db *DB) AddXP(userID string, xp int) error {
	if xp <= 0 {
		return nil
	}
	res, err := db.conn.Exec(
		`UPDATE users SET xp = xp + ?, level = 1 + (xp + ?) / ? WHERE id = ?`,
		xp, xp, xpPerLevel, userID,
	)
	if err != nil {
		return fmt.Errorf("granting xp: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s not found", userID)
	}
	return nil
}
