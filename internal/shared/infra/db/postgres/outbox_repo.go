package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

// ------------------ OutboxRepository ------------------

// ClaimBatch usa FOR UPDATE SKIP LOCKED: varios relayers concurrentes se
// reparten las entradas sin bloquearse entre sí.
func (s *EventStorePostgres) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]sharedDomain.OutboxEntry, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx,
		`UPDATE outbox SET claimed_until = $1
		 WHERE id IN (
		     SELECT id FROM outbox
		     WHERE status IN ('pending','failed')
		       AND next_attempt_at <= $2
		       AND (claimed_until IS NULL OR claimed_until <= $2)
		     ORDER BY seq
		     LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, aggregate_type, aggregate_id, event_name, occurred_at, correlation_id, causation_id, payload, status, attempts, next_attempt_at, created_at`,
		now.Add(lease), now, limit,
	)
	if err != nil {
		return nil, err
	}

	var entries []sharedDomain.OutboxEntry
	for rows.Next() {
		var (
			entry                  sharedDomain.OutboxEntry
			payloadBytes           []byte
			status                 string
			correlation, causation *uuid.UUID
		)
		evt := sharedEvents.DomainEvent{}
		if err = rows.Scan(&evt.EventID, &evt.AggregateType, &evt.AggregateID, &evt.EventName, &evt.OccurredAt, &correlation, &causation, &payloadBytes, &status, &entry.Attempts, &entry.NextAttemptAt, &entry.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if correlation != nil {
			evt.CorrelationID = *correlation
		}
		if causation != nil {
			evt.CausationID = *causation
		}

		evt.Payload, err = s.registry.DecodePayload(evt.EventName, payloadBytes)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("outbox entry %s (%s): %w", evt.EventID, evt.EventName, err)
		}

		entry.ID = evt.EventID
		entry.Event = evt
		entry.Status = sharedDomain.OutboxStatus(status)
		entries = append(entries, entry)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *EventStorePostgres) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'delivered', claimed_until = NULL WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry %s as delivered: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected for outbox entry %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("no outbox entry found with id %s", id)
	}
	return nil
}

func (s *EventStorePostgres) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'failed', attempts = $1, next_attempt_at = $2, claimed_until = NULL WHERE id = $3`,
		attempts, nextAttemptAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry %s as failed: %w", id, err)
	}
	return nil
}

func (s *EventStorePostgres) MarkDead(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'dead', claimed_until = NULL WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry %s as dead: %w", id, err)
	}
	return nil
}

// Verificación estática
var _ sharedDomain.EventStore = (*EventStorePostgres)(nil)
var _ sharedDomain.OutboxRepository = (*EventStorePostgres)(nil)
