package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEvent is one signature-valid gateway delivery, retained for audit.
type WebhookEvent struct {
	ID         string    `json:"id"`
	EventType  string    `json:"eventType"`
	Reference  string    `json:"reference"`
	Result     string    `json:"result"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// WebhookEventRepository persists gateway webhook deliveries.
type WebhookEventRepository interface {
	Record(ctx context.Context, eventType, reference, result string) error
	ListByReference(ctx context.Context, reference string) ([]WebhookEvent, error)
}

type pgWebhookEventRepository struct {
	db *pgxpool.Pool
}

// NewWebhookEventRepository creates a PostgreSQL-backed webhook event log.
func NewWebhookEventRepository(db *pgxpool.Pool) WebhookEventRepository {
	return &pgWebhookEventRepository{db: db}
}

func (r *pgWebhookEventRepository) Record(ctx context.Context, eventType, reference, result string) error {
	query := `
		INSERT INTO webhook_events (id, event_type, reference, result, received_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := r.db.Exec(ctx, query, uuid.New().String(), eventType, reference, result)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

func (r *pgWebhookEventRepository) ListByReference(ctx context.Context, reference string) ([]WebhookEvent, error) {
	query := `
		SELECT id, event_type, reference, result, received_at
		FROM webhook_events WHERE reference = $1 ORDER BY received_at ASC
	`
	rows, err := r.db.Query(ctx, query, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	defer rows.Close()

	var events []WebhookEvent
	for rows.Next() {
		var e WebhookEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Reference, &e.Result, &e.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
