// Package data provides PostgreSQL-backed repositories for durable run state.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/scoutline/scout-api/internal/core"
	"github.com/scoutline/scout-api/internal/data/pgxutil"
	"github.com/scoutline/scout-api/internal/domain/model"
)

// Advisory lock namespace for sweep operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2000 is reserved for scout run-maintenance operations.
const (
	advisoryLockRunsMajor   = 2000
	advisoryLockRunsRecover = 1 // minor key for RecoverStuck
	advisoryLockRunsDelete  = 2 // minor key for DeleteOldTerminal
)

// RepoConfig holds configuration options for the data-layer repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// RunRepo provides database operations for run management.
type RunRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.RunRepository = (*RunRepo)(nil)

// NewRunRepo creates a new RunRepo instance with the given database connection and configuration.
func NewRunRepo(db *sql.DB, cfg RepoConfig) *RunRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &RunRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const runColumns = `
  id,
  owner_id,
  profile_id,
  status,
  total_items,
  completed_count,
  last_error,
  created_at,
  completed_at,
  updated_at
`

// Create inserts a new pending run together with its submission payload.
func (r *RunRepo) Create(ctx context.Context, req *model.CreateRunRequest) (*model.Run, error) {
	if req == nil {
		return nil, errors.New("create run request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(model.RunPayload{
		Prospects: req.Prospects,
		Profile:   req.Profile,
		GroupSize: req.GroupSize,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal run payload: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	var run *model.Run
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO runs (id, owner_id, profile_id, status, total_items, completed_count, payload, created_at, updated_at)
			VALUES ($1, $2, $3, 'pending', $4, 0, $5, $6, $6)
			RETURNING `+runColumns,
			uuid.NewString(), req.OwnerID, req.ProfileID, len(req.Prospects), payload, now)
		if qerr != nil {
			return fmt.Errorf("insert run: %w", qerr)
		}
		defer rows.Close()

		val, cerr := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.Run])
		if cerr != nil {
			return fmt.Errorf("collect inserted run: %w", cerr)
		}
		run = val
		return nil
	}); err != nil {
		return nil, err
	}

	if r.logger != nil {
		r.logger.DebugContext(ctx, "run created",
			"id", run.ID, "owner_id", run.OwnerID, "total_items", run.TotalItems)
	}

	return run, nil
}

// GetByID returns a run by its id.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*model.Run, error) {
	var run *model.Run
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
		if qerr != nil {
			return fmt.Errorf("query run: %w", qerr)
		}
		defer rows.Close()

		val, cerr := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.Run])
		if cerr != nil {
			if errors.Is(cerr, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrRunNotFound, id)
			}
			return fmt.Errorf("collect run: %w", cerr)
		}
		run = val
		return nil
	}); err != nil {
		return nil, err
	}
	return run, nil
}

// GetPayload loads the persisted submission payload for a run.
func (r *RunRepo) GetPayload(ctx context.Context, id string) (*model.RunPayload, error) {
	var raw []byte
	err := r.DB.QueryRowContext(ctx, `SELECT payload FROM runs WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query run payload: %w", err)
	}

	var payload model.RunPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal run payload: %w", err)
	}
	return &payload, nil
}

// MarkProcessing transitions a pending run to processing.
// Returns false without error when the run is already past pending.
func (r *RunRepo) MarkProcessing(ctx context.Context, id string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = 'processing', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("mark run processing: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// IncrementProgress atomically bumps completed_count by one and returns the new value.
// A single guarded UPDATE is the only write path for the counter, so concurrent
// item completions cannot lose increments to read-modify-write races.
func (r *RunRepo) IncrementProgress(ctx context.Context, id string) (int, error) {
	now := r.timeProvider.Now().UTC()
	var completed int
	err := r.DB.QueryRowContext(ctx, `
		UPDATE runs
		SET completed_count = completed_count + 1, updated_at = $2
		WHERE id = $1
		  AND status IN ('pending', 'processing')
		  AND completed_count < total_items
		RETURNING completed_count
	`, id, now).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: run %s", ErrRunImmutable, id)
	}
	if err != nil {
		return 0, fmt.Errorf("increment run progress: %w", err)
	}
	return completed, nil
}

// SetTerminal moves a non-terminal run to a terminal status, setting completed_at.
// Returns false when the run exists but is already terminal: terminal rows never change.
func (r *RunRepo) SetTerminal(ctx context.Context, params core.SetRunTerminalParams) (bool, error) {
	if !params.Status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", params.Status)
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE runs
		SET status = $2, last_error = NULLIF($3, ''), completed_at = $4, updated_at = $4
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, params.ID, params.Status, params.ErrorMsg, now)
	if err != nil {
		return false, fmt.Errorf("set run terminal: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		if r.logger != nil {
			r.logger.DebugContext(ctx, "run terminal",
				"id", params.ID, "status", params.Status, "error", params.ErrorMsg)
		}
		return true, nil
	}

	// Distinguish "already terminal" from "no such run".
	var exists bool
	if err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM runs WHERE id = $1)`, params.ID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check run exists: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("%w: %s", ErrRunNotFound, params.ID)
	}
	return false, nil
}

// FindActive returns all runs currently pending or processing, oldest first.
func (r *RunRepo) FindActive(ctx context.Context) ([]*model.Run, error) {
	var runs []*model.Run
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+runColumns+`
			FROM runs
			WHERE status IN ('pending', 'processing')
			ORDER BY created_at ASC, id ASC
		`)
		if qerr != nil {
			return fmt.Errorf("query active runs: %w", qerr)
		}
		defer rows.Close()

		vals, cerr := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Run])
		if cerr != nil {
			return fmt.Errorf("collect active runs: %w", cerr)
		}
		runs = vals
		return nil
	}); err != nil {
		return nil, err
	}
	return runs, nil
}

// RecoverStuck force-fails active runs created before the cutoff and returns the rows touched.
// The status guard in the UPDATE makes the sweep idempotent: a run recovered once is
// terminal and can never be re-touched by a second sweep.
// An advisory lock prevents concurrent sweeps from conflicting.
func (r *RunRepo) RecoverStuck(ctx context.Context, params core.RecoverStuckRunsParams) ([]*model.Run, error) {
	reason := params.Reason
	if reason == "" {
		reason = "run timed out and was recovered by the staleness sweep"
	}

	now := r.timeProvider.Now().UTC()
	var recovered []*model.Run
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockRunsMajor, advisoryLockRunsRecover).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			rows, err := tx.QueryContext(ctx, `
				UPDATE runs
				SET status = 'failed', last_error = $2, completed_at = $3, updated_at = $3
				WHERE status IN ('pending', 'processing')
				  AND created_at < $1
				RETURNING id, owner_id, profile_id, status, total_items, completed_count, last_error, created_at, completed_at, updated_at
			`, params.Cutoff.UTC(), reason, now)
			if err != nil {
				return fmt.Errorf("recover stuck runs: %w", err)
			}
			defer rows.Close() //nolint:errcheck // read-only cursor

			for rows.Next() {
				var run model.Run
				if err := rows.Scan(
					&run.ID, &run.OwnerID, &run.ProfileID, &run.Status,
					&run.TotalItems, &run.CompletedCount, &run.LastError,
					&run.CreatedAt, &run.CompletedAt, &run.UpdatedAt,
				); err != nil {
					return fmt.Errorf("scan recovered run: %w", err)
				}
				recovered = append(recovered, &run)
			}
			return rows.Err()
		},
	})
	if err != nil {
		return nil, err
	}

	if len(recovered) > 0 && r.logger != nil {
		r.logger.InfoContext(ctx, "recovered stuck runs", "count", len(recovered))
	}
	return recovered, nil
}

// DeleteOldTerminal deletes terminal runs older than the cutoff, up to BatchSize
// rows per call to prevent long locks. Result rows cascade with the run. The
// status guard means age alone never deletes an active run.
func (r *RunRepo) DeleteOldTerminal(ctx context.Context, params core.DeleteOldRunsParams) (int64, error) {
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be positive")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockRunsMajor, advisoryLockRunsDelete).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			res, err := tx.ExecContext(ctx, `
				DELETE FROM runs
				WHERE id IN (
					SELECT id FROM runs
					WHERE status IN ('completed', 'failed')
					  AND COALESCE(completed_at, updated_at) < $1
					ORDER BY COALESCE(completed_at, updated_at)
					LIMIT $2
				)
			`, params.Cutoff.UTC(), params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete old terminal runs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// Backdate rewrites created_at for a run. Test and operational tooling only.
func (r *RunRepo) Backdate(ctx context.Context, id string, createdAt time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE runs SET created_at = $2 WHERE id = $1`, id, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("backdate run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}
