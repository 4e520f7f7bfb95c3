package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventRow is one persisted controller event
type EventRow struct {
	ID         string
	Controller string
	Kind       string
	Subject    string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// InsertEvent stores an event. Inserting an event id twice is a no-op.
func (db *DB) InsertEvent(ctx context.Context, row EventRow) error {
	if row.ID == "" {
		return fmt.Errorf("event id is required")
	}
	payload := row.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO stam_events (event_id, controller_id, kind, subject, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`,
		row.ID, row.Controller, row.Kind, row.Subject, []byte(payload), createdAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", row.ID, err)
	}
	return nil
}

// ListEvents returns the most recent events of a controller, newest first.
// An empty kind matches every kind.
func (db *DB) ListEvents(ctx context.Context, controller, kind string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT event_id, controller_id, kind, subject, payload, created_at
		FROM stam_events
		WHERE controller_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY created_at DESC, event_id
		LIMIT $3`,
		controller, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var result []EventRow
	for rows.Next() {
		var r EventRow
		var payload []byte
		if err := rows.Scan(&r.ID, &r.Controller, &r.Kind, &r.Subject, &payload, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		r.Payload = json.RawMessage(payload)
		result = append(result, r)
	}
	return result, rows.Err()
}
