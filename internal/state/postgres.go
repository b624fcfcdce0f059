package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore keeps one row per run with the record as jsonb. It exists
// for deployments that need real multi-writer safety: updates run inside a
// transaction with a row lock, which the file store cannot offer.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	if db == nil {
		return nil
	}
	return &PostgresStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the runs table when missing. Schema changes must stay
// additive so older rows keep loading.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS exray_runs (
			run_id     TEXT PRIMARY KEY,
			record     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure runs table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, record RunRecord) (RunRecord, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, errors.New("postgres store not initialized")
	}

	now := s.now()
	record.CreatedAt = now
	record.UpdatedAt = now

	raw, err := json.Marshal(record)
	if err != nil {
		return RunRecord{}, fmt.Errorf("encode run %s: %w", record.RunID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exray_runs (run_id, record, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		record.RunID, raw, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return RunRecord{}, fmt.Errorf("run %s: %w", record.RunID, ErrDuplicateRun)
		}
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Get(ctx context.Context, runID string) (RunRecord, bool, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, false, errors.New("postgres store not initialized")
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM exray_runs WHERE run_id = $1`, runID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("select run: %w", err)
	}

	rec, dirty, err := decodeStored(runID, raw)
	if err != nil {
		return RunRecord{}, false, err
	}
	if dirty {
		if err := s.writeBack(ctx, rec); err != nil {
			return RunRecord{}, false, err
		}
	}
	return rec, true, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("postgres store not initialized")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, record FROM exray_runs ORDER BY created_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	var needsWrite []RunRecord
	for rows.Next() {
		var runID string
		var raw []byte
		if err := rows.Scan(&runID, &raw); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rec, dirty, err := decodeStored(runID, raw)
		if err != nil {
			return nil, err
		}
		if dirty {
			needsWrite = append(needsWrite, rec)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	for _, rec := range needsWrite {
		if err := s.writeBack(ctx, rec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, runID string, patch Patch) (RunRecord, bool, error) {
	if s == nil || s.db == nil {
		return RunRecord{}, false, errors.New("postgres store not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT record FROM exray_runs WHERE run_id = $1 FOR UPDATE`, runID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("select run for update: %w", err)
	}

	rec, _, err := decodeStored(runID, raw)
	if err != nil {
		return RunRecord{}, false, err
	}

	patch.apply(&rec)
	rec.UpdatedAt = s.now()
	backfillResultObject(&rec)

	encoded, err := json.Marshal(rec)
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("encode run %s: %w", runID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE exray_runs SET record = $2, updated_at = $3 WHERE run_id = $1`,
		runID, encoded, rec.UpdatedAt,
	); err != nil {
		return RunRecord{}, false, fmt.Errorf("update run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return RunRecord{}, false, fmt.Errorf("commit update: %w", err)
	}
	return rec, true, nil
}

func (s *PostgresStore) writeBack(ctx context.Context, rec RunRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", rec.RunID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE exray_runs SET record = $2 WHERE run_id = $1`, rec.RunID, raw,
	); err != nil {
		return fmt.Errorf("persist upgraded run %s: %w", rec.RunID, err)
	}
	return nil
}

func decodeStored(runID string, raw []byte) (RunRecord, bool, error) {
	var d diskRun
	if err := json.Unmarshal(raw, &d); err != nil {
		return RunRecord{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	rec, dirty := upgradeRecord(runID, d)
	return rec, dirty, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
