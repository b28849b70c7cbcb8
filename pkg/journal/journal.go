// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package journal keeps an append-only SQLite history of alarm events.
// It is a log for humans, never read back to restore engine state.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Event kinds
const (
	KindState  = "state"
	KindSensor = "sensor"
	KindFlag   = "flag"
)

const schema = `CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      TEXT NOT NULL,
	kind    TEXT NOT NULL,
	subject TEXT NOT NULL,
	value   TEXT NOT NULL
)`

// Event is one journal row.
type Event struct {
	ID      int64
	Time    time.Time
	Kind    string
	Subject string
	Value   string
}

func (e Event) String() string {
	return fmt.Sprintf("%s %-6s %-24s %s", e.Time.Local().Format("2006-01-02 15:04:05"), e.Kind, e.Subject, e.Value)
}

// Journal wraps the events database.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends ev. A zero Time is replaced by the current time.
func (j *Journal) Record(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (ts, kind, subject, value) VALUES (?, ?, ?, ?)`,
		ev.Time.UTC().Format(time.RFC3339Nano), ev.Kind, ev.Subject, ev.Value)
	if err != nil {
		return fmt.Errorf("failed to insert %s event: %w", ev.Kind, err)
	}
	return nil
}

// Recent returns up to limit events, newest first. kind filters by event
// kind when non-empty.
func (j *Journal) Recent(ctx context.Context, limit int, kind string) ([]Event, error) {
	query := `SELECT id, ts, kind, subject, value FROM events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var ts string
		if err := rows.Scan(&ev.ID, &ts, &ev.Kind, &ev.Subject, &ev.Value); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Time, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("event %d: bad timestamp %q: %w", ev.ID, ts, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
