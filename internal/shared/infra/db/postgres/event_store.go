package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

// EventStorePostgres implementa sharedDomain.EventStore y
// sharedDomain.OutboxRepository sobre Postgres (driver pgx/stdlib).
type EventStorePostgres struct {
	db       *sql.DB
	registry sharedEvents.Registry
}

func NewEventStorePostgres(db *sql.DB, registry sharedEvents.Registry) *EventStorePostgres {
	return &EventStorePostgres{db: db, registry: registry}
}

// InitPostgres crea las tablas si no existen.
func InitPostgres(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS events (
            aggregate_type TEXT NOT NULL,
            aggregate_id   UUID NOT NULL,
            version        INTEGER NOT NULL,
            event_id       UUID NOT NULL UNIQUE,
            event_name     TEXT NOT NULL,
            occurred_at    TIMESTAMPTZ NOT NULL,
            correlation_id UUID,
            causation_id   UUID,
            payload        JSONB NOT NULL,
            PRIMARY KEY (aggregate_type, aggregate_id, version)
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS outbox (
            seq             BIGSERIAL PRIMARY KEY,
            id              UUID NOT NULL UNIQUE,
            aggregate_type  TEXT NOT NULL,
            aggregate_id    UUID NOT NULL,
            event_name      TEXT NOT NULL,
            occurred_at     TIMESTAMPTZ NOT NULL,
            correlation_id  UUID,
            causation_id    UUID,
            payload         JSONB NOT NULL,
            status          TEXT NOT NULL DEFAULT 'pending',
            attempts        INTEGER NOT NULL DEFAULT 0,
            next_attempt_at TIMESTAMPTZ NOT NULL,
            claimed_until   TIMESTAMPTZ,
            created_at      TIMESTAMPTZ NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS sagas (
            saga_id        UUID PRIMARY KEY,
            saga_type      TEXT NOT NULL,
            correlation_id UUID NOT NULL,
            step           INTEGER NOT NULL,
            status         TEXT NOT NULL,
            data           JSONB,
            attempts       INTEGER NOT NULL DEFAULT 0,
            trigger_at     TIMESTAMPTZ NOT NULL,
            next_wake_at   TIMESTAMPTZ,
            updated_at     TIMESTAMPTZ NOT NULL,
            UNIQUE (saga_type, correlation_id)
        )
    `)
	return err
}

// Append persiste eventos + outbox en una transacción, con chequeo de
// versión. La PK de events actúa de red de seguridad ante dos escritores
// simultáneos que pasaron el chequeo a la vez.
func (s *EventStorePostgres) Append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, expectedVersion int, evts []sharedEvents.DomainEvent) (int, error) {
	if len(evts) == 0 {
		return expectedVersion, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_type = $1 AND aggregate_id = $2`,
		aggregateType, aggregateID,
	).Scan(&current)
	if err != nil {
		return 0, err
	}

	if current != expectedVersion {
		err = fmt.Errorf("%w: expected %d, store has %d", sharedDomain.ErrConcurrencyConflict, expectedVersion, current)
		return 0, err
	}

	now := time.Now().UTC()
	for i, evt := range evts {
		version := expectedVersion + i + 1

		var payloadBytes []byte
		payloadBytes, err = json.Marshal(evt.Payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal event payload: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (aggregate_type, aggregate_id, version, event_id, event_name, occurred_at, correlation_id, causation_id, payload)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			aggregateType, aggregateID, version,
			evt.EventID, evt.EventName, evt.OccurredAt,
			nullableUUID(evt.CorrelationID), nullableUUID(evt.CausationID), payloadBytes,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
				err = sharedDomain.ErrConcurrencyConflict
			}
			return 0, err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_name, occurred_at, correlation_id, causation_id, payload, status, attempts, next_attempt_at, created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',0,$9,$10)`,
			evt.EventID, aggregateType, aggregateID, evt.EventName,
			evt.OccurredAt, nullableUUID(evt.CorrelationID), nullableUUID(evt.CausationID),
			payloadBytes, now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert outbox entry: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return expectedVersion + len(evts), nil
}

func (s *EventStorePostgres) Load(ctx context.Context, aggregateType string, aggregateID uuid.UUID) ([]sharedEvents.DomainEvent, error) {
	return s.LoadAfter(ctx, aggregateType, aggregateID, 0)
}

func (s *EventStorePostgres) LoadAfter(ctx context.Context, aggregateType string, aggregateID uuid.UUID, version int) ([]sharedEvents.DomainEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, event_id, event_name, occurred_at, correlation_id, causation_id, payload
		 FROM events
		 WHERE aggregate_type = $1 AND aggregate_id = $2 AND version > $3
		 ORDER BY version`,
		aggregateType, aggregateID, version,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []sharedEvents.DomainEvent
	for rows.Next() {
		var (
			evt                    sharedEvents.DomainEvent
			payloadBytes           []byte
			correlation, causation *uuid.UUID
		)
		if err := rows.Scan(&evt.Version, &evt.EventID, &evt.EventName, &evt.OccurredAt, &correlation, &causation, &payloadBytes); err != nil {
			return nil, err
		}

		evt.AggregateType = aggregateType
		evt.AggregateID = aggregateID
		if correlation != nil {
			evt.CorrelationID = *correlation
		}
		if causation != nil {
			evt.CausationID = *causation
		}

		evt.Payload, err = s.registry.DecodePayload(evt.EventName, payloadBytes)
		if err != nil {
			return nil, fmt.Errorf("event %s (%s): %w", evt.EventID, evt.EventName, err)
		}

		history = append(history, evt)
	}
	return history, rows.Err()
}

func nullableUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id
}
