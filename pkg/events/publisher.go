package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher broadcasts queue mutations via NOTIFY. Payloads are advisory:
// listeners only use them for logging and always re-read the database.
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a new Publisher.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// QueueEvent describes one publish queue mutation.
type QueueEvent struct {
	Kind      string    `json:"kind"` // scheduled, cancelled, rescheduled
	PublishID string    `json:"publish_id,omitempty"`
	At        time.Time `json:"at"`
}

// NotifyQueueChanged broadcasts a publish queue mutation. Best effort: a
// lost notification only costs one poll interval of latency.
func (p *Publisher) NotifyQueueChanged(ctx context.Context, event QueueEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal queue event: %w", err)
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", PublishQueueChannel, string(payload))
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}
