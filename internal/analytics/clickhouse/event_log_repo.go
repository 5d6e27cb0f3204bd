package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// EventLogEntry es una fila de la tabla events_log: un evento publicado en el
// bus, aplanado para consulta analítica.
type EventLogEntry struct {
	EventID       string
	EventName     string
	AggregateID   string
	CorrelationID string
	Source        string
	Payload       string
	OccurredAt    time.Time
	IngestedAt    time.Time
}

// EventLogRepo implementa la proyección de eventos sobre ClickHouse.
type EventLogRepo struct {
	db *sql.DB
}

func NewEventLogRepo(addr string, dbName string) (*EventLogRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &EventLogRepo{db: conn}, nil
}

// LogBatch inserta un lote de eventos. ClickHouse funciona mejor con
// inserciones en lotes que registro a registro.
func (r *EventLogRepo) LogBatch(ctx context.Context, entries []EventLogEntry) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO events_log (event_id, event_name, aggregate_id, correlation_id, source, payload, occurred_at, ingested_at)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(
			ctx,
			e.EventID,
			e.EventName,
			e.AggregateID,
			e.CorrelationID,
			e.Source,
			e.Payload,
			e.OccurredAt,
			e.IngestedAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for event %s: %w", e.EventID, err)
		}
	}

	return tx.Commit()
}

// CountByName agrega el volumen de eventos por nombre en un rango temporal.
func (r *EventLogRepo) CountByName(ctx context.Context, start, end time.Time) (map[string]uint64, error) {
	query := `
		SELECT event_name, count() AS total
		FROM events_log
		WHERE ingested_at BETWEEN ? AND ?
		GROUP BY event_name
		ORDER BY total DESC
	`
	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var name string
		var total uint64
		if err := rows.Scan(&name, &total); err != nil {
			return nil, err
		}
		counts[name] = total
	}
	return counts, rows.Err()
}

// InitSchema crea la tabla en ClickHouse si no existe. Particionada por mes
// y ordenada por los campos de consulta habituales.
func (r *EventLogRepo) InitSchema() error {
	query := `
		CREATE TABLE IF NOT EXISTS events_log (
			event_id       UUID,
			event_name     String,
			aggregate_id   UUID,
			correlation_id UUID,
			source         String,
			payload        String,
			occurred_at    DateTime64(3),
			ingested_at    DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(ingested_at)
		ORDER BY (event_name, ingested_at);
	`
	_, err := r.db.Exec(query)
	return err
}
