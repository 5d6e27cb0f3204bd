package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

// ------------------ OutboxRepository ------------------

// ClaimBatch reserva atómicamente un lote de entradas vencidas: selección y
// lease en la misma transacción, así dos relayers concurrentes nunca se
// llevan la misma entrada.
func (s *EventStoreSQLite) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]sharedDomain.OutboxEntry, error) {
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
		`SELECT id, aggregate_type, aggregate_id, event_name, occurred_at, correlation_id, causation_id, payload, status, attempts, next_attempt_at, created_at
		 FROM outbox
		 WHERE status IN ('pending','failed')
		   AND next_attempt_at <= ?
		   AND (claimed_until IS NULL OR claimed_until <= ?)
		 ORDER BY seq
		 LIMIT ?`,
		now, now, limit,
	)
	if err != nil {
		return nil, err
	}

	var entries []sharedDomain.OutboxEntry
	for rows.Next() {
		var entry sharedDomain.OutboxEntry
		entry, err = scanOutboxRow(rows, s.registry)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, entry)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		err = tx.Commit()
		return nil, err
	}

	placeholders := make([]string, len(entries))
	args := []interface{}{now.Add(lease)}
	for i, e := range entries {
		placeholders[i] = "?"
		args = append(args, e.ID.String())
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE outbox SET claimed_until = ? WHERE id IN (%s)`, strings.Join(placeholders, ",")),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox batch: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkDelivered confirma la entrega de una entrada concreta.
func (s *EventStoreSQLite) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'delivered', claimed_until = NULL WHERE id = ?`, id.String(),
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

// MarkFailed registra el intento fallido, libera el lease y programa el
// siguiente reintento.
func (s *EventStoreSQLite) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'failed', attempts = ?, next_attempt_at = ?, claimed_until = NULL WHERE id = ?`,
		attempts, nextAttemptAt.UTC(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry %s as failed: %w", id, err)
	}
	return nil
}

// MarkDead retira la entrada de la rotación; queda en la tabla para el
// operador.
func (s *EventStoreSQLite) MarkDead(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET status = 'dead', claimed_until = NULL WHERE id = ?`, id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox entry %s as dead: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOutboxRow(row rowScanner, registry sharedEvents.Registry) (sharedDomain.OutboxEntry, error) {
	var (
		entry                          sharedDomain.OutboxEntry
		idStr, aggTypeStr, aggIDStr    string
		eventName, payloadStr, status  string
		correlation, causation         sql.NullString
		occurredAt, nextAt, createdAt  time.Time
		attempts                       int
	)

	if err := row.Scan(&idStr, &aggTypeStr, &aggIDStr, &eventName, &occurredAt, &correlation, &causation, &payloadStr, &status, &attempts, &nextAt, &createdAt); err != nil {
		return entry, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return entry, fmt.Errorf("invalid UUID in outbox row: %w", err)
	}
	aggID, err := uuid.Parse(aggIDStr)
	if err != nil {
		return entry, fmt.Errorf("invalid aggregate UUID in outbox row: %w", err)
	}

	payload, err := registry.DecodePayload(eventName, []byte(payloadStr))
	if err != nil {
		return entry, fmt.Errorf("outbox entry %s (%s): %w", idStr, eventName, err)
	}

	evt := sharedEvents.DomainEvent{
		EventID:       id,
		EventName:     eventName,
		AggregateType: aggTypeStr,
		AggregateID:   aggID,
		OccurredAt:    occurredAt,
		Payload:       payload,
	}
	if evt.CorrelationID, err = parseNullUUID(correlation); err != nil {
		return entry, err
	}
	if evt.CausationID, err = parseNullUUID(causation); err != nil {
		return entry, err
	}

	return sharedDomain.OutboxEntry{
		ID:            id,
		Event:         evt,
		Status:        sharedDomain.OutboxStatus(status),
		Attempts:      attempts,
		NextAttemptAt: nextAt,
		CreatedAt:     createdAt,
	}, nil
}

// Verificación estática
var _ sharedDomain.EventStore = (*EventStoreSQLite)(nil)
var _ sharedDomain.OutboxRepository = (*EventStoreSQLite)(nil)
