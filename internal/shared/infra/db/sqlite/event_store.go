package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	// _ "github.com/mattn/go-sqlite3" // better performance but requires gcc
	_ "modernc.org/sqlite"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
	sharedEvents "github.com/davicafu/eduflow/internal/shared/domain/events"
)

// EventStoreSQLite implementa sharedDomain.EventStore y
// sharedDomain.OutboxRepository sobre la misma base de datos: el append de
// eventos y sus entradas de outbox comparten transacción.
type EventStoreSQLite struct {
	db       *sql.DB
	registry sharedEvents.Registry
}

func NewEventStoreSQLite(db *sql.DB, registry sharedEvents.Registry) *EventStoreSQLite {
	return &EventStoreSQLite{db: db, registry: registry}
}

// ------------------ Inicialización de DB ------------------

// InitSQLite crea las tablas de eventos, outbox y sagas si no existen.
func InitSQLite(db *sql.DB) error {
	// Una partición = un agregado: la PK (aggregate_type, aggregate_id,
	// version) fuerza el orden total sin huecos dentro de la partición.
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS events (
            aggregate_type TEXT NOT NULL,
            aggregate_id   TEXT NOT NULL,
            version        INTEGER NOT NULL,
            event_id       TEXT NOT NULL UNIQUE,
            event_name     TEXT NOT NULL,
            occurred_at    DATETIME NOT NULL,
            correlation_id TEXT,
            causation_id   TEXT,
            payload        TEXT NOT NULL,
            PRIMARY KEY (aggregate_type, aggregate_id, version)
        )
    `)
	if err != nil {
		return err
	}

	// seq preserva el orden de append por partición al drenar el outbox.
	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS outbox (
            seq             INTEGER PRIMARY KEY AUTOINCREMENT,
            id              TEXT NOT NULL UNIQUE,
            aggregate_type  TEXT NOT NULL,
            aggregate_id    TEXT NOT NULL,
            event_name      TEXT NOT NULL,
            occurred_at     DATETIME NOT NULL,
            correlation_id  TEXT,
            causation_id    TEXT,
            payload         TEXT NOT NULL,
            status          TEXT NOT NULL DEFAULT 'pending',
            attempts        INTEGER NOT NULL DEFAULT 0,
            next_attempt_at DATETIME NOT NULL,
            claimed_until   DATETIME,
            created_at      DATETIME NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE TABLE IF NOT EXISTS sagas (
            saga_id        TEXT PRIMARY KEY,
            saga_type      TEXT NOT NULL,
            correlation_id TEXT NOT NULL,
            step           INTEGER NOT NULL,
            status         TEXT NOT NULL,
            data           TEXT,
            attempts       INTEGER NOT NULL DEFAULT 0,
            trigger_at     DATETIME NOT NULL,
            next_wake_at   DATETIME,
            updated_at     DATETIME NOT NULL,
            UNIQUE (saga_type, correlation_id)
        )
    `)
	return err
}

// ------------------ EventStore ------------------

// Append persiste los eventos con control optimista de concurrencia y deja
// sus entradas de outbox en la misma transacción (todo o nada).
func (s *EventStoreSQLite) Append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, expectedVersion int, evts []sharedEvents.DomainEvent) (int, error) {
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
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggregateType, aggregateID.String(),
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
			 VALUES (?,?,?,?,?,?,?,?,?)`,
			aggregateType, aggregateID.String(), version,
			evt.EventID.String(), evt.EventName, evt.OccurredAt,
			nullableUUID(evt.CorrelationID), nullableUUID(evt.CausationID), string(payloadBytes),
		)
		if err != nil {
			// Dos escritores con la misma expectedVersion: el segundo choca
			// contra la PK aunque haya pasado el chequeo de versión.
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				err = sharedDomain.ErrConcurrencyConflict
			}
			return 0, err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_name, occurred_at, correlation_id, causation_id, payload, status, attempts, next_attempt_at, created_at)
			 VALUES (?,?,?,?,?,?,?,?,'pending',0,?,?)`,
			evt.EventID.String(), aggregateType, aggregateID.String(), evt.EventName,
			evt.OccurredAt, nullableUUID(evt.CorrelationID), nullableUUID(evt.CausationID),
			string(payloadBytes), now, now,
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

// Load devuelve el histórico completo del agregado en orden de versión.
func (s *EventStoreSQLite) Load(ctx context.Context, aggregateType string, aggregateID uuid.UUID) ([]sharedEvents.DomainEvent, error) {
	return s.LoadAfter(ctx, aggregateType, aggregateID, 0)
}

// LoadAfter devuelve los eventos con versión mayor a la indicada.
func (s *EventStoreSQLite) LoadAfter(ctx context.Context, aggregateType string, aggregateID uuid.UUID, version int) ([]sharedEvents.DomainEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, event_id, event_name, occurred_at, correlation_id, causation_id, payload
		 FROM events
		 WHERE aggregate_type = ? AND aggregate_id = ? AND version > ?
		 ORDER BY version`,
		aggregateType, aggregateID.String(), version,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []sharedEvents.DomainEvent
	for rows.Next() {
		var (
			evt                      sharedEvents.DomainEvent
			idStr, payloadStr        string
			correlation, causation   sql.NullString
		)
		if err := rows.Scan(&evt.Version, &idStr, &evt.EventName, &evt.OccurredAt, &correlation, &causation, &payloadStr); err != nil {
			return nil, err
		}

		evt.EventID, err = uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID in events row: %w", err)
		}
		evt.AggregateType = aggregateType
		evt.AggregateID = aggregateID
		if evt.CorrelationID, err = parseNullUUID(correlation); err != nil {
			return nil, err
		}
		if evt.CausationID, err = parseNullUUID(causation); err != nil {
			return nil, err
		}

		evt.Payload, err = s.registry.DecodePayload(evt.EventName, []byte(payloadStr))
		if err != nil {
			return nil, fmt.Errorf("event %s (%s): %w", idStr, evt.EventName, err)
		}

		history = append(history, evt)
	}
	return history, rows.Err()
}

// ------------------ Helpers ------------------

func nullableUUID(id uuid.UUID) interface{} {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func parseNullUUID(s sql.NullString) (uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID in DB: %w", err)
	}
	return id, nil
}
