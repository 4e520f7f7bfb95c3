package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xiaonanln/stam/util/postgres"
)

// EventStore persists event rows. *postgres.DB implements it.
type EventStore interface {
	InsertEvent(ctx context.Context, row postgres.EventRow) error
}

var _ EventStore = (*postgres.DB)(nil)

// PostgresSink stores events as rows of the stam_events table.
type PostgresSink struct {
	store EventStore
}

// NewPostgresSink creates a sink writing to store.
func NewPostgresSink(store EventStore) *PostgresSink {
	return &PostgresSink{store: store}
}

func (s *PostgresSink) Emit(ctx context.Context, e Event) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	return s.store.InsertEvent(ctx, row)
}

func toRow(e Event) (postgres.EventRow, error) {
	fields := e.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return postgres.EventRow{}, fmt.Errorf("failed to encode event %s: %w", e.ID, err)
	}
	return postgres.EventRow{
		ID:         e.ID,
		Controller: e.Controller,
		Kind:       string(e.Kind),
		Subject:    e.Subject,
		Payload:    payload,
		CreatedAt:  e.At,
	}, nil
}
