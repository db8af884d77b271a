package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rvm-io/rvm-server/internal/bundle"
	"github.com/rvm-io/rvm-server/internal/logx"
	"github.com/rvm-io/rvm-server/internal/model"
	"github.com/rvm-io/rvm-server/internal/reconcile"
	"github.com/rvm-io/rvm-server/internal/store"
	"github.com/rvm-io/rvm-server/internal/stream"
)

const (
	runStatusRunning   = "running"
	runStatusCompleted = "completed"
	runStatusFailed    = "failed"
)

// RunService drives full reconciliation runs: fetch the bundle, hand it to
// the coordinator, persist the outcomes, and stream progress events.
type RunService struct {
	fetcher     bundle.Fetcher
	coordinator *reconcile.Coordinator
	runStore    *store.RunStore
	hub         *stream.Hub
}

func NewRunService(fetcher bundle.Fetcher, coordinator *reconcile.Coordinator, runStore *store.RunStore, hub *stream.Hub) *RunService {
	return &RunService{fetcher: fetcher, coordinator: coordinator, runStore: runStore, hub: hub}
}

// Trigger executes one run to completion. An error is returned only when
// the run could not begin (bundle unreadable, store unavailable); per-item
// failures are carried inside the response.
func (s *RunService) Trigger(ctx context.Context, triggerType, bucket, key string) (*model.TriggerRunResponse, error) {
	// A run sweeps to completion even if the caller goes away: a client
	// disconnect must not fail the remaining stack operations or the
	// history writes. Request-scoped values are kept.
	ctx = context.WithoutCancel(ctx)

	runID := "run-" + uuid.New().String()[:8]
	startedAt := time.Now().UTC()
	logger := logx.LoggerWithRequestID(ctx).With("component", "run_service", "run_id", runID)

	rec := &store.RunRecord{
		ID:          runID,
		TriggerType: triggerType,
		Bucket:      bucket,
		ObjectKey:   key,
		StartedAt:   startedAt,
		Status:      runStatusRunning,
	}
	if err := s.runStore.CreateRun(ctx, rec); err != nil {
		return nil, err
	}
	s.hub.Start(runID)
	logger.Info("run started", "trigger", triggerType, "bucket", bucket, "key", key)

	dir, err := s.fetcher.Fetch(ctx, bucket, key)
	if err != nil {
		finishedAt := time.Now().UTC()
		if storeErr := s.runStore.FinishRun(ctx, runID, runStatusFailed, err.Error(), 0, 0, 0, finishedAt); storeErr != nil {
			logger.Error("failed to record run failure", "error", storeErr)
		}
		s.hub.Complete(runID)
		logger.Error("run aborted before reconciliation began", "error", err)
		return nil, fmt.Errorf("failed to fetch bundle: %w", err)
	}
	defer os.RemoveAll(dir)

	result := s.coordinator.Run(ctx, dir, func(ev reconcile.Event) {
		s.hub.Publish(stream.RunEvent{
			RunID:     runID,
			Time:      time.Now().UTC(),
			Type:      ev.Type,
			Phase:     ev.Phase,
			AccountID: ev.AccountID,
			Outcome:   ev.Outcome,
		})
	})

	for i := range result.Outcomes {
		o := &result.Outcomes[i]
		item := &store.RunItemRecord{
			RunID:        runID,
			Kind:         string(o.Kind),
			TemplateFile: o.TemplateFile,
			StackName:    o.StackName,
			AccountID:    o.AccountID,
			Detail:       o.Detail,
		}
		if err := s.runStore.AddItem(ctx, item); err != nil {
			logger.Error("failed to persist run item", "error", err)
		}
	}

	finishedAt := time.Now().UTC()
	if err := s.runStore.FinishRun(ctx, runID, runStatusCompleted, "",
		len(result.Success), len(result.Failed), len(result.Deleted), finishedAt); err != nil {
		logger.Error("failed to finish run record", "error", err)
	}
	s.hub.Complete(runID)
	logger.Info("run finished",
		"success", len(result.Success), "failed", len(result.Failed), "deleted", len(result.Deleted))

	return &model.TriggerRunResponse{
		Message: "Deployment completed",
		RunID:   runID,
		Success: result.Success,
		Failed:  result.Failed,
		Deleted: result.Deleted,
		Summary: model.RunSummary{
			Success: len(result.Success),
			Failed:  len(result.Failed),
			Deleted: len(result.Deleted),
		},
	}, nil
}

// ListRuns returns the most recent runs.
func (s *RunService) ListRuns(ctx context.Context, limit int) (*model.RunListResponse, error) {
	records, err := s.runStore.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	items := make([]model.Run, 0, len(records))
	for i := range records {
		items = append(items, toRunModel(&records[i]))
	}
	return &model.RunListResponse{Items: items}, nil
}

// GetRun returns one run with its result lists rebuilt from the persisted
// items. It returns nil when the run does not exist.
func (s *RunService) GetRun(ctx context.Context, id string) (*model.RunDetailResponse, error) {
	rec, err := s.runStore.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	items, err := s.runStore.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := &model.RunDetailResponse{
		Run:     toRunModel(rec),
		Success: []string{},
		Failed:  []string{},
		Deleted: []string{},
		Items:   make([]model.RunItem, 0, len(items)),
	}
	for _, item := range items {
		resp.Items = append(resp.Items, model.RunItem{
			ID:           item.ID,
			RunID:        item.RunID,
			Kind:         item.Kind,
			TemplateFile: item.TemplateFile,
			StackName:    item.StackName,
			AccountID:    item.AccountID,
			Detail:       item.Detail,
			CreatedAt:    item.CreatedAt,
		})

		switch reconcile.OutcomeKind(item.Kind) {
		case reconcile.OutcomeCreated, reconcile.OutcomeUpdated, reconcile.OutcomeNoChange:
			resp.Success = append(resp.Success, item.TemplateFile+":"+item.AccountID)
		case reconcile.OutcomeDeployFailed, reconcile.OutcomeTemplateMissing, reconcile.OutcomeAccountSkipped:
			resp.Failed = append(resp.Failed, item.TemplateFile+":"+item.AccountID)
		case reconcile.OutcomeDeleted:
			resp.Deleted = append(resp.Deleted, item.StackName+":"+item.AccountID)
		}
	}
	return resp, nil
}

// StartPurger removes finished runs older than the retention window on a
// timer until ctx is canceled. The returned function blocks until the
// purger goroutine has exited.
func (s *RunService) StartPurger(ctx context.Context, interval, retention time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.purgeExpired(ctx, retention)
			}
		}
	}()
	return func() { <-done }
}

func (s *RunService) purgeExpired(ctx context.Context, retention time.Duration) {
	cutoff := time.Now().UTC().Add(-retention)
	purged, err := s.runStore.PurgeBefore(ctx, cutoff)
	if err != nil {
		slog.Error("failed to purge run history", "component", "run_service", "error", err)
		return
	}
	if purged > 0 {
		slog.Info("purged run history", "component", "run_service", "runs", purged)
	}
}

func toRunModel(rec *store.RunRecord) model.Run {
	return model.Run{
		ID:          rec.ID,
		TriggerType: rec.TriggerType,
		Bucket:      rec.Bucket,
		ObjectKey:   rec.ObjectKey,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
		Status:      rec.Status,
		Error:       rec.Error,
		Summary: model.RunSummary{
			Success: rec.SuccessCount,
			Failed:  rec.FailedCount,
			Deleted: rec.DeletedCount,
		},
	}
}
