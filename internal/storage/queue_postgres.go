package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

const webhookQueueTable = "webhook_queue"

// PostgresQueue is a durable webhook queue on Postgres. Dequeue claims one
// due row with SKIP LOCKED semantics by bumping its lease column, so several
// server processes can share the table without double delivery.
type PostgresQueue struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresQueue connects to Postgres and ensures the queue table exists.
func NewPostgresQueue(ctx context.Context, connURL string) (*PostgresQueue, error) {
	db, err := sql.Open("postgres", connURL)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}
	q := &PostgresQueue{db: db, clock: time.Now}
	if err := q.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return q, nil
}

func (q *PostgresQueue) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			config JSONB NOT NULL,
			payload JSONB NOT NULL,
			event TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			next_attempt TIMESTAMPTZ NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			leased_until TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS %s_next_attempt_idx ON %s (next_attempt);
	`, webhookQueueTable, webhookQueueTable, webhookQueueTable)
	if _, err := q.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}

// Enqueue stores a new entry.
func (q *PostgresQueue) Enqueue(ctx context.Context, webhook QueuedWebhook) (string, error) {
	if err := normalizeEnqueue(&webhook, q.clock().UTC()); err != nil {
		return "", err
	}
	configJSON, err := json.Marshal(webhook.Config)
	if err != nil {
		return "", fmt.Errorf("storage: encode config: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, config, payload, event, attempts, next_attempt, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, webhookQueueTable)
	_, err = q.db.ExecContext(ctx, query,
		webhook.ID,
		configJSON,
		[]byte(webhook.Payload),
		webhook.Event,
		webhook.Attempts,
		webhook.NextAttempt,
		webhook.LastError,
		webhook.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("storage: insert webhook: %w", err)
	}
	return webhook.ID, nil
}

// Dequeue claims the earliest due entry, or returns nil when none is ready.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*QueuedWebhook, error) {
	now := q.clock().UTC()
	lease := now.Add(60 * time.Second)

	query := fmt.Sprintf(`
		UPDATE %s SET leased_until = $1
		WHERE id = (
			SELECT id FROM %s
			WHERE next_attempt <= $2 AND (leased_until IS NULL OR leased_until <= $2)
			ORDER BY next_attempt ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, config, payload, event, attempts, next_attempt, last_error, created_at
	`, webhookQueueTable, webhookQueueTable)

	row := q.db.QueryRowContext(ctx, query, lease, now)

	var webhook QueuedWebhook
	var configJSON, payload []byte
	err := row.Scan(
		&webhook.ID,
		&configJSON,
		&payload,
		&webhook.Event,
		&webhook.Attempts,
		&webhook.NextAttempt,
		&webhook.LastError,
		&webhook.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: dequeue: %w", err)
	}
	if err := json.Unmarshal(configJSON, &webhook.Config); err != nil {
		return nil, fmt.Errorf("storage: decode config for %s: %w", webhook.ID, err)
	}
	webhook.Payload = json.RawMessage(payload)
	return &webhook, nil
}

// Retry records a failed attempt and reschedules the entry.
func (q *PostgresQueue) Retry(ctx context.Context, webhook QueuedWebhook, errorMsg string) error {
	delay := webhook.Config.Retry.Delay(webhook.Attempts)
	next := q.clock().UTC().Add(delay)

	query := fmt.Sprintf(`
		UPDATE %s
		SET attempts = attempts + 1, last_error = $1, next_attempt = $2, leased_until = NULL
		WHERE id = $3
	`, webhookQueueTable)
	result, err := q.db.ExecContext(ctx, query, errorMsg, next, webhook.ID)
	if err != nil {
		return fmt.Errorf("storage: retry %s: %w", webhook.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: retry rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove deletes an entry.
func (q *PostgresQueue) Remove(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", webhookQueueTable)
	result, err := q.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("storage: remove %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: remove rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Size returns the number of queued entries.
func (q *PostgresQueue) Size(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", webhookQueueTable)
	if err := q.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: size: %w", err)
	}
	return n, nil
}

// Close releases the database pool.
func (q *PostgresQueue) Close() error {
	return q.db.Close()
}
