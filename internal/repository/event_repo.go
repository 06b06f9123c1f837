package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/models"
)

// EventRepository stores inbound payment-provider events for auditing and
// duplicate-delivery detection.
type EventRepository struct {
	pool *pgxpool.Pool
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// SaveIfNew records the event and reports whether it was seen before.
// Webhook providers redeliver; the provider event id is the dedup key.
func (r *EventRepository) SaveIfNew(ctx context.Context, ev *models.PaymentEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	query := `
		INSERT INTO provisioner.payment_events (
			id, event_id, event_type, customer_id, customer_email, subscription_id, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`

	tag, err := r.pool.Exec(ctx, query,
		ev.ID, ev.EventID, ev.EventType, ev.CustomerID, ev.CustomerEmail, ev.SubscriptionID, ev.Payload,
	)
	if err != nil {
		return false, fmt.Errorf("insert payment event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes an event record by provider event id. Called when handling
// the event failed, so the provider's redelivery passes the dedup gate and
// gets reprocessed.
func (r *EventRepository) Delete(ctx context.Context, eventID string) error {
	query := `DELETE FROM provisioner.payment_events WHERE event_id = $1`
	if _, err := r.pool.Exec(ctx, query, eventID); err != nil {
		return fmt.Errorf("delete payment event: %w", err)
	}
	return nil
}
