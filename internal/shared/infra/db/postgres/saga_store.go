package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	sharedDomain "github.com/davicafu/eduflow/internal/shared/domain"
)

// SagaStorePostgres persiste instancias de saga sobre Postgres. Misma
// semántica que la variante SQLite: los temporizadores viven en next_wake_at
// y Due() los recupera tras un reinicio.
type SagaStorePostgres struct {
	db *sql.DB
}

func NewSagaStorePostgres(db *sql.DB) *SagaStorePostgres {
	return &SagaStorePostgres{db: db}
}

func (s *SagaStorePostgres) Insert(ctx context.Context, st *sharedDomain.SagaState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sagas (saga_id, saga_type, correlation_id, step, status, data, attempts, trigger_at, next_wake_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		st.SagaID, st.SagaType, st.CorrelationID, st.Step, string(st.Status),
		nullableBytes(st.Data), st.Attempts, st.TriggerAt, nullableTime(st.NextWakeAt), st.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return sharedDomain.ErrSagaAlreadyExists
		}
		return fmt.Errorf("failed to insert saga: %w", err)
	}
	return nil
}

func (s *SagaStorePostgres) Update(ctx context.Context, st *sharedDomain.SagaState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sagas SET step=$1, status=$2, data=$3, attempts=$4, next_wake_at=$5, updated_at=$6 WHERE saga_id=$7`,
		st.Step, string(st.Status), nullableBytes(st.Data), st.Attempts,
		nullableTime(st.NextWakeAt), st.UpdatedAt, st.SagaID,
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

func (s *SagaStorePostgres) FindByCorrelation(ctx context.Context, sagaType string, correlationID uuid.UUID) (*sharedDomain.SagaState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT saga_id, saga_type, correlation_id, step, status, data, attempts, trigger_at, next_wake_at, updated_at
		 FROM sagas WHERE saga_type = $1 AND correlation_id = $2`,
		sagaType, correlationID,
	)
	st, err := scanSaga(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sharedDomain.ErrSagaNotFound
	}
	return st, err
}

func (s *SagaStorePostgres) Due(ctx context.Context, now time.Time, limit int) ([]*sharedDomain.SagaState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT saga_id, saga_type, correlation_id, step, status, data, attempts, trigger_at, next_wake_at, updated_at
		 FROM sagas
		 WHERE status = 'active' AND next_wake_at IS NOT NULL AND next_wake_at <= $1
		 ORDER BY next_wake_at
		 LIMIT $2`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sagas []*sharedDomain.SagaState
	for rows.Next() {
		st, err := scanSaga(rows)
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, st)
	}
	return sagas, rows.Err()
}

type sagaScanner interface {
	Scan(dest ...any) error
}

func scanSaga(row sagaScanner) (*sharedDomain.SagaState, error) {
	var (
		st         sharedDomain.SagaState
		status     string
		data       []byte
		nextWakeAt sql.NullTime
	)
	if err := row.Scan(&st.SagaID, &st.SagaType, &st.CorrelationID, &st.Step, &status, &data, &st.Attempts, &st.TriggerAt, &nextWakeAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Status = sharedDomain.SagaStatus(status)
	st.Data = data
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
	return b
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// Verificación estática
var _ sharedDomain.SagaStore = (*SagaStorePostgres)(nil)
