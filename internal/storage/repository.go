package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertCycleSQL = `INSERT INTO cycles (
        id,
        cycle_ts,
        start_block,
        end_block,
        high_value_count,
        baseline_mean,
        baseline_std,
        ratio,
        z_score,
        alerted
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (id) DO NOTHING;`

	cycleColumns = `id,
        cycle_ts,
        start_block,
        end_block,
        high_value_count,
        baseline_mean,
        baseline_std,
        ratio,
        z_score,
        alerted,
        created_at`

	listCyclesBetweenSQL = `SELECT ` + cycleColumns + `
    FROM cycles
    WHERE cycle_ts >= $1
      AND cycle_ts < $2
    ORDER BY cycle_ts;`

	listRecentCyclesSQL = `SELECT ` + cycleColumns + `
    FROM cycles
    ORDER BY cycle_ts DESC
    LIMIT $1;`

	insertAlertSQL = `INSERT INTO alerts (
        cycle_id,
        end_block,
        message,
        delivered,
        error
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (end_block) DO UPDATE
    SET cycle_id  = EXCLUDED.cycle_id,
        message   = EXCLUDED.message,
        delivered = alerts.delivered OR EXCLUDED.delivered,
        error     = EXCLUDED.error
    RETURNING id, cycle_id, end_block, message, delivered, error, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        cycle_id,
        end_block,
        message,
        delivered,
        error,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CycleStore persists the history of detection cycles.
type CycleStore interface {
	InsertCycle(ctx context.Context, cycle CycleRecord) error
	ListCyclesBetween(ctx context.Context, from, to time.Time) ([]CycleRecord, error)
	ListRecentCycles(ctx context.Context, limit int) ([]CycleRecord, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to cycles and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
// The lock is session scoped, so the connection is held until unlock.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// A failed unlock leaves the lock on this session; drop the connection.
			_ = conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertCycle records a completed cycle. Re-inserting the same id is a no-op.
func (s *Store) InsertCycle(ctx context.Context, cycle CycleRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertCycleSQL,
		cycle.ID,
		cycle.CycleTS,
		int64(cycle.StartBlock),
		int64(cycle.EndBlock),
		int64(cycle.HighValueCount),
		cycle.BaselineMean,
		cycle.BaselineStd,
		cycle.Ratio,
		cycle.ZScore,
		cycle.Alerted,
	)
	if execErr != nil {
		return fmt.Errorf("insert cycle: %w", execErr)
	}
	return nil
}

// ListCyclesBetween lists cycles within [from, to).
func (s *Store) ListCyclesBetween(ctx context.Context, from, to time.Time) ([]CycleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCyclesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list cycles between: %w", queryErr)
	}
	return collectCycles(rows, 0)
}

// ListRecentCycles lists the most recent cycles, newest first.
func (s *Store) ListRecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentCyclesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent cycles: %w", queryErr)
	}
	return collectCycles(rows, limit)
}

// InsertAlert persists an alert emission; a retry for the same end block updates it.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.CycleID,
		int64(alert.EndBlock),
		alert.Message,
		alert.Delivered,
		alert.Error,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func collectCycles(rows pgx.Rows, capacity int) ([]CycleRecord, error) {
	defer rows.Close()

	cycles := make([]CycleRecord, 0, capacity)
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, cycle)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return cycles, nil
}

func scanCycle(row pgx.Row) (CycleRecord, error) {
	var (
		rec               CycleRecord
		start, end, count int64
	)
	if err := row.Scan(
		&rec.ID,
		&rec.CycleTS,
		&start,
		&end,
		&count,
		&rec.BaselineMean,
		&rec.BaselineStd,
		&rec.Ratio,
		&rec.ZScore,
		&rec.Alerted,
		&rec.CreatedAt,
	); err != nil {
		return CycleRecord{}, err
	}
	rec.StartBlock = uint64(start)
	rec.EndBlock = uint64(end)
	rec.HighValueCount = uint64(count)
	return rec, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec      AlertRecord
		endBlock int64
	)
	if err := row.Scan(
		&rec.ID,
		&rec.CycleID,
		&endBlock,
		&rec.Message,
		&rec.Delivered,
		&rec.Error,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}
	rec.EndBlock = uint64(endBlock)
	return rec, nil
}

// FiniteOrNil maps infinite and NaN values to NULL.
func FiniteOrNil(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

// NewCycleID returns a fresh random cycle identifier.
func NewCycleID() uuid.UUID {
	return uuid.New()
}
