package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
)

// SagaStoreSQLite persiste instancias de saga. Los temporizadores viven en
// la columna next_wake_at: tras un reinicio, Due() los recupera.
type SagaStoreSQLite struct {
	db *sql.DB
}

func NewSagaStoreSQLite(db *sql.DB) *SagaStoreSQLite {
	return &SagaStoreSQLite{db: db}
}

func (s *SagaStoreSQLite) Insert(ctx context.Context, st *sharedDomain.SagaState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sagas (saga_id, saga_type, correlation_id, step, status, data, attempts, trigger_at, next_wake_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		st.SagaID.String(), st.SagaType, st.CorrelationID.String(), st.Step, string(st.Status),
		nullableBytes(st.Data), st.Attempts, st.TriggerAt, nullableTime(st.NextWakeAt), st.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return sharedDomain.ErrSagaAlreadyExists
		}
		return fmt.Errorf("failed to insert saga: %w", err)
	}
	return nil
}

func (s *SagaStoreSQLite) Update(ctx context.Context, st *sharedDomain.SagaState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sagas SET step=?, status=?, data=?, attempts=?, next_wake_at=?, updated_at=? WHERE saga_id=?`,
		st.Step, string(st.Status), nullableBytes(st.Data), st.Attempts,
		nullableTime(st.NextWakeAt), st.UpdatedAt, st.SagaID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update saga %s: %w", st.SagaID, err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return sharedDomain.ErrSagaNotFound
	}
	return nil
}

func (s *SagaStoreSQLite) FindByCorrelation(ctx context.Context, sagaType string, correlationID uuid.UUID) (*sharedDomain.SagaState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT saga_id, saga_type, correlation_id, step, status, data, attempts, trigger_at, next_wake_at, updated_at
		 FROM sagas WHERE saga_type = ? AND correlation_id = ?`,
		sagaType, correlationID.String(),
	)
	st, err := scanSagaRow(row)
	if err == sql.ErrNoRows {
		return nil, sharedDomain.ErrSagaNotFound
	}
	return st, err
}

// Due devuelve sagas activas con temporizador vencido, las más antiguas
// primero.
func (s *SagaStoreSQLite) Due(ctx context.Context, now time.Time, limit int) ([]*sharedDomain.SagaState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT saga_id, saga_type, correlation_id, step, status, data, attempts, trigger_at, next_wake_at, updated_at
		 FROM sagas
		 WHERE status = 'active' AND next_wake_at IS NOT NULL AND next_wake_at <= ?
		 ORDER BY next_wake_at
		 LIMIT ?`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sagas []*sharedDomain.SagaState
	for rows.Next() {
		st, err := scanSagaRow(rows)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, st)
	}
	return sagas, rows.Err()
}

func scanSagaRow(row rowScanner) (*sharedDomain.SagaState, error) {
	var (
		st                 sharedDomain.SagaState
		idStr, corrStr     string
		status             string
		data               sql.NullString
		nextWakeAt         sql.NullTime
	)
	if err := row.Scan(&idStr, &st.SagaType, &corrStr, &st.Step, &status, &data, &st.Attempts, &st.TriggerAt, &nextWakeAt, &st.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if st.SagaID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid UUID in sagas row: %w", err)
	}
	if st.CorrelationID, err = uuid.Parse(corrStr); err != nil {
		return nil, fmt.Errorf("invalid correlation UUID in sagas row: %w", err)
	}
	st.Status = sharedDomain.SagaStatus(status)
	if data.Valid {
		st.Data = []byte(data.String)
	}
	if nextWakeAt.Valid {
		t := nextWakeAt.Time
		st.NextWakeAt = &t
	}
	return &st, nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Verificación estática
var _ sharedDomain.SagaStore = (*SagaStoreSQLite)(nil)
