package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventLog represents a persisted engine event. Used for timeline
// reconstruction and historical queries over mode transitions.
type EventLog struct {
	ID        int64
	EventType string
	Kind      string
	Data      any // JSON marshaled to TEXT
	Source    string
	CreatedAt time.Time
}

// QueryEventsOptions specifies filters for querying events.
type QueryEventsOptions struct {
	Kind       string
	EventTypes []string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// timestampLayout stores UTC with nanosecond precision so that distinct
// events created in quick succession survive the dedup index.
const timestampLayout = "2006-01-02 15:04:05.000000000"

// SaveEvent inserts an event into the event_log table. True duplicates
// (same type, kind and timestamp) are silently ignored.
func (d *DB) SaveEvent(event *EventLog) error {
	dataJSON, err := marshalData(event.Data)
	if err != nil {
		return err
	}

	result, err := d.db.Exec(`
		INSERT OR IGNORE INTO event_log (event_type, kind, data, source, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.EventType, event.Kind, dataJSON, event.Source,
		event.CreatedAt.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows > 0 {
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get event id: %w", err)
		}
		event.ID = id
	}
	return nil
}

// SaveEvents inserts multiple events in a single transaction.
func (d *DB) SaveEvents(events []*EventLog) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, event := range events {
		dataJSON, err := marshalData(event.Data)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO event_log (event_type, kind, data, source, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, event.EventType, event.Kind, dataJSON, event.Source,
			event.CreatedAt.UTC().Format(timestampLayout)); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit events: %w", err)
	}
	return nil
}

// QueryEvents returns events matching opts, newest first.
func (d *DB) QueryEvents(opts QueryEventsOptions) ([]*EventLog, error) {
	var (
		conds []string
		args  []any
	)
	if opts.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, opts.Kind)
	}
	if len(opts.EventTypes) > 0 {
		placeholders := strings.Repeat("?,", len(opts.EventTypes))
		conds = append(conds, fmt.Sprintf("event_type IN (%s)", placeholders[:len(placeholders)-1]))
		for _, t := range opts.EventTypes {
			args = append(args, t)
		}
	}
	if opts.Since != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, opts.Since.UTC().Format(timestampLayout))
	}
	if opts.Until != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, opts.Until.UTC().Format(timestampLayout))
	}

	query := "SELECT id, event_type, kind, data, source, created_at FROM event_log"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*EventLog
	for rows.Next() {
		var (
			e       EventLog
			data    *string
			created string
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.Kind, &data, &e.Source, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if data != nil {
			var v any
			if err := json.Unmarshal([]byte(*data), &v); err == nil {
				e.Data = v
			} else {
				e.Data = *data
			}
		}
		t, err := time.Parse(timestampLayout, created)
		if err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		e.CreatedAt = t
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountEvents returns the total number of journaled events.
func (d *DB) CountEvents() (int64, error) {
	var n int64
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM event_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func marshalData(data any) (*string, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	s := string(raw)
	return &s, nil
}
