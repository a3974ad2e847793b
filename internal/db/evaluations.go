package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/shape.search/internal/retrieval"
)

// InsertEvaluationRun persists run. An empty RunID is replaced by a new UUID
// and a zero CreatedAt by the current time.
func (db *DB) InsertEvaluationRun(ctx context.Context, run *retrieval.EvaluationRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = db.clock.Now().UTC()
	}
	perClass, err := json.Marshal(run.PerClass)
	if err != nil {
		return fmt.Errorf("encode per-class metrics: %w", err)
	}

	return retryOnBusy(db.clock, func() error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO evaluation_runs (
				run_id, k, index_kind, config_hash, queries, skipped,
				map, precision_at_k, recall_at_k, first_tier,
				per_class_json, duration_ms, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.K, run.IndexKind, run.ConfigHash, run.Queries, run.Skipped,
			run.MAP, run.PrecisionAtK, run.RecallAtK, run.FirstTier,
			string(perClass), run.Duration.Milliseconds(), run.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert evaluation run: %w", err)
		}
		return nil
	})
}

const evaluationColumns = `run_id, k, index_kind, config_hash, queries, skipped,
	map, precision_at_k, recall_at_k, first_tier, per_class_json, duration_ms, created_at`

func scanEvaluationRun(row scanner) (*retrieval.EvaluationRun, error) {
	var (
		r          retrieval.EvaluationRun
		perClass   sql.NullString
		durationMs int64
		createdAt  int64
	)
	err := row.Scan(
		&r.RunID, &r.K, &r.IndexKind, &r.ConfigHash, &r.Queries, &r.Skipped,
		&r.MAP, &r.PrecisionAtK, &r.RecallAtK, &r.FirstTier,
		&perClass, &durationMs, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if perClass.Valid && perClass.String != "" {
		if err := json.Unmarshal([]byte(perClass.String), &r.PerClass); err != nil {
			return nil, fmt.Errorf("decode per-class metrics of %s: %w", r.RunID, err)
		}
	}
	r.Duration = time.Duration(durationMs) * time.Millisecond
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	return &r, nil
}

// GetEvaluationRun returns one run by ID.
func (db *DB) GetEvaluationRun(ctx context.Context, runID string) (*retrieval.EvaluationRun, error) {
	row := db.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluation_runs WHERE run_id = ?`, runID)
	r, err := scanEvaluationRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evaluation run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan evaluation run: %w", err)
	}
	return r, nil
}

// ListEvaluationRuns returns the most recent runs first. limit <= 0 returns
// every run.
func (db *DB) ListEvaluationRuns(ctx context.Context, limit int) ([]*retrieval.EvaluationRun, error) {
	query := `SELECT ` + evaluationColumns + ` FROM evaluation_runs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query evaluation runs: %w", err)
	}
	defer rows.Close()

	var runs []*retrieval.EvaluationRun
	for rows.Next() {
		r, err := scanEvaluationRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evaluation run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
