package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/scoutline/scout-api/internal/core"
	"github.com/scoutline/scout-api/internal/data/pgxutil"
	"github.com/scoutline/scout-api/internal/domain/model"
)

const (
	defaultResultPageLimit = 50
	maxResultPageLimit     = 1000
)

// ResultRepo provides database operations for per-prospect outcomes.
// Result rows are insert-only; the UNIQUE(run_id, prospect) constraint makes
// duplicate writes from a resumed run harmless.
type ResultRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var _ core.ResultRepository = (*ResultRepo)(nil)

// NewResultRepo creates a new ResultRepo instance with the given database connection and configuration.
func NewResultRepo(db *sql.DB, cfg RepoConfig) *ResultRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &ResultRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const resultColumns = `
  id,
  run_id,
  prospect,
  classification,
  score,
  rationale,
  matched_criteria,
  gaps,
  status,
  error,
  analyzed_at
`

// Create persists the outcome for one prospect. If a row for the (run, prospect)
// pair already exists the insert is skipped and the existing row is returned.
func (r *ResultRepo) Create(ctx context.Context, req *model.CreateResultRequest) (*model.Result, error) {
	if req == nil {
		return nil, errors.New("create result request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		classification string
		score          *float64
		rationale      string
		matched        = []string{}
		gaps           = []string{}
		errMsg         *string
	)
	if req.Analysis != nil {
		classification = req.Analysis.Classification
		s := req.Analysis.Score
		score = &s
		rationale = req.Analysis.Rationale
		if req.Analysis.MatchedCriteria != nil {
			matched = req.Analysis.MatchedCriteria
		}
		if req.Analysis.Gaps != nil {
			gaps = req.Analysis.Gaps
		}
	} else {
		e := req.Error
		errMsg = &e
	}

	now := r.timeProvider.Now().UTC()
	var result *model.Result
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			INSERT INTO results (id, run_id, prospect, classification, score, rationale, matched_criteria, gaps, status, error, analyzed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (run_id, prospect) DO NOTHING
			RETURNING `+resultColumns,
			uuid.NewString(), req.RunID, req.Prospect, classification, score,
			rationale, matched, gaps, req.Status(), errMsg, now)
		if qerr != nil {
			return fmt.Errorf("insert result: %w", qerr)
		}
		defer rows.Close()

		val, cerr := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.Result])
		if cerr == nil {
			result = val
			return nil
		}
		if !errors.Is(cerr, pgx.ErrNoRows) {
			return fmt.Errorf("collect inserted result: %w", cerr)
		}

		// Conflict path: the pair was already recorded, return the existing row.
		existing, qerr := conn.Query(ctx,
			`SELECT `+resultColumns+` FROM results WHERE run_id = $1 AND prospect = $2`,
			req.RunID, req.Prospect)
		if qerr != nil {
			return fmt.Errorf("query existing result: %w", qerr)
		}
		defer existing.Close()

		val, cerr = pgx.CollectExactlyOneRow(existing, pgx.RowToAddrOfStructByName[model.Result])
		if cerr != nil {
			return fmt.Errorf("collect existing result: %w", cerr)
		}
		result = val
		return nil
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// ListByRun returns results for a run, newest first, with optional
// classification filtering and pagination.
func (r *ResultRepo) ListByRun(ctx context.Context, opts model.ResultListOptions) ([]*model.Result, error) {
	if strings.TrimSpace(opts.RunID) == "" {
		return nil, errors.New("run id is required")
	}
	limit, offset := normalizeResultPage(opts.Limit, opts.Offset)

	query := `SELECT ` + resultColumns + ` FROM results WHERE run_id = $1`
	args := []any{opts.RunID}
	if opts.Classification != "" {
		query += ` AND classification = $2`
		args = append(args, opts.Classification)
	}
	query += fmt.Sprintf(` ORDER BY analyzed_at DESC, id DESC LIMIT %d OFFSET %d`, limit, offset)

	var results []*model.Result
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, args...)
		if qerr != nil {
			return fmt.Errorf("query results: %w", qerr)
		}
		defer rows.Close()

		vals, cerr := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Result])
		if cerr != nil {
			return fmt.Errorf("collect results: %w", cerr)
		}
		results = vals
		return nil
	}); err != nil {
		return nil, err
	}
	return results, nil
}

// CountByRun returns the number of result rows matching the filter.
func (r *ResultRepo) CountByRun(ctx context.Context, opts model.ResultListOptions) (int, error) {
	if strings.TrimSpace(opts.RunID) == "" {
		return 0, errors.New("run id is required")
	}

	query := `SELECT COUNT(*) FROM results WHERE run_id = $1`
	args := []any{opts.RunID}
	if opts.Classification != "" {
		query += ` AND classification = $2`
		args = append(args, opts.Classification)
	}

	var count int
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count results: %w", err)
	}
	return count, nil
}

// ProspectsByRun returns the prospect identifiers that already have a result row.
// Used when resuming a run to skip work that is already recorded.
func (r *ResultRepo) ProspectsByRun(ctx context.Context, runID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT prospect FROM results WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("query result prospects: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var prospects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan prospect: %w", err)
		}
		prospects = append(prospects, p)
	}
	return prospects, rows.Err()
}

// Stats aggregates per-classification counts and the average score for a run.
// Failed items count under the "failed" bucket; the average covers scored items only.
func (r *ResultRepo) Stats(ctx context.Context, runID string) (*model.RunStats, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT
			CASE WHEN status = 'failed' THEN 'failed' ELSE classification END AS bucket,
			COUNT(*),
			AVG(score)
		FROM results
		WHERE run_id = $1
		GROUP BY 1
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query result stats: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	stats := &model.RunStats{Classifications: map[string]int{}}
	var (
		weightedSum float64
		scoredCount int
	)
	for rows.Next() {
		var (
			bucket string
			count  int
			avg    sql.NullFloat64
		)
		if err := rows.Scan(&bucket, &count, &avg); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		stats.Classifications[bucket] += count
		if avg.Valid {
			weightedSum += avg.Float64 * float64(count)
			scoredCount += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if scoredCount > 0 {
		avg := weightedSum / float64(scoredCount)
		stats.AverageScore = &avg
	}
	return stats, nil
}

func normalizeResultPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultResultPageLimit
	}
	if limit > maxResultPageLimit {
		limit = maxResultPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
