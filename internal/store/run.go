package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RunRecord stores one reconciliation run.
type RunRecord struct {
	ID           string
	TriggerType  string
	Bucket       string
	ObjectKey    string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       string
	Error        string
	SuccessCount int
	FailedCount  int
	DeletedCount int
}

// RunItemRecord stores one per-action outcome inside a run.
type RunItemRecord struct {
	ID           int64
	RunID        string
	Kind         string
	TemplateFile string
	StackName    string
	AccountID    string
	Detail       string
	CreatedAt    time.Time
}

type RunStore struct{}

func NewRunStore() *RunStore {
	return &RunStore{}
}

func (s *RunStore) CreateRun(ctx context.Context, run *RunRecord) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO runs (id, trigger_type, bucket, object_key, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.TriggerType, run.Bucket, run.ObjectKey, run.StartedAt, run.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (s *RunStore) FinishRun(ctx context.Context, id, status, errMsg string, success, failed, deleted int, finishedAt time.Time) error {
	_, err := DB.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, success_count = ?, failed_count = ?, deleted_count = ?, finished_at = ?
		WHERE id = ?`,
		status, errMsg, success, failed, deleted, finishedAt, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func (s *RunStore) AddItem(ctx context.Context, item *RunItemRecord) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO run_items (run_id, kind, template_file, stack_name, account_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.RunID, item.Kind, item.TemplateFile, item.StackName, item.AccountID, item.Detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to add run item: %w", err)
	}
	return nil
}

func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := DB.QueryContext(ctx, `
		SELECT id, trigger_type, bucket, object_key, started_at, finished_at, status, error,
		       success_count, failed_count, deleted_count
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (s *RunStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := DB.QueryRowContext(ctx, `
		SELECT id, trigger_type, bucket, object_key, started_at, finished_at, status, error,
		       success_count, failed_count, deleted_count
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *RunStore) ListItems(ctx context.Context, runID string) ([]RunItemRecord, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT id, run_id, kind, template_file, stack_name, account_id, detail, created_at
		FROM run_items WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run items: %w", err)
	}
	defer rows.Close()

	items := []RunItemRecord{}
	for rows.Next() {
		var item RunItemRecord
		if err := rows.Scan(&item.ID, &item.RunID, &item.Kind, &item.TemplateFile,
			&item.StackName, &item.AccountID, &item.Detail, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PurgeBefore removes finished runs older than the cutoff, along with their
// items. Running runs are never purged.
func (s *RunStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := DB.ExecContext(ctx, `
		DELETE FROM runs WHERE started_at < ? AND status != 'running'`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge runs: %w", err)
	}
	purged, _ := res.RowsAffected()
	return purged, nil
}

func scanRun(row interface{ Scan(dest ...any) error }) (*RunRecord, error) {
	var run RunRecord
	var finishedAt sql.NullTime
	err := row.Scan(&run.ID, &run.TriggerType, &run.Bucket, &run.ObjectKey, &run.StartedAt,
		&finishedAt, &run.Status, &run.Error, &run.SuccessCount, &run.FailedCount, &run.DeletedCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
