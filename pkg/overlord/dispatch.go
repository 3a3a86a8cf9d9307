package overlord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codeminion/overlord/pkg/log"
	"github.com/codeminion/overlord/pkg/metrics"
	"github.com/codeminion/overlord/pkg/notify"
	"github.com/codeminion/overlord/pkg/storage"
	"github.com/codeminion/overlord/pkg/types"
)

var (
	// ErrRuntimeUnavailable means the container runtime cannot be reached.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")

	// ErrAtCapacity means the concurrency limit is already saturated.
	ErrAtCapacity = errors.New("concurrency limit reached")
)

// Dispatch spawns one minion for an issue. The capacity check and the spawn
// are serialized so concurrent callers cannot oversubscribe the limit.
func (o *Orchestrator) Dispatch(ctx context.Context, repo string, issue int) (*types.WorkerRecord, error) {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()

	logger := log.WithIssue(repo, issue)

	if !o.runtime.Available(ctx) {
		metrics.DispatchesTotal.WithLabelValues("rejected").Inc()
		return nil, ErrRuntimeUnavailable
	}

	active, err := o.store.GetActive()
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if len(active) >= o.cfg.MaxConcurrent {
		metrics.DispatchesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %d/%d minions busy", ErrAtCapacity, len(active), o.cfg.MaxConcurrent)
	}
	if existing, err := o.store.GetByIssue(repo, issue); err == nil {
		metrics.DispatchesTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s handled by %s", storage.ErrDuplicate, existing.IssueRef(), existing.ID)
	}

	id, err := o.runtime.Spawn(ctx, repo, issue)
	if err != nil {
		metrics.DispatchesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("spawn failed: %w", err)
	}

	now := time.Now().UTC()
	rec := &types.WorkerRecord{
		ID:            id,
		ContainerRef:  id,
		Repo:          repo,
		IssueNumber:   issue,
		Status:        types.StatusStarting,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	if err := o.store.AddWorker(rec); err != nil {
		// the container is already up; tear it down before reporting
		if killErr := o.runtime.Kill(ctx, id); killErr != nil {
			logger.Error().Err(killErr).Str("minion_id", id).Msg("Rollback kill failed")
		}
		metrics.DispatchesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	if o.scanner != nil {
		if err := o.scanner.MarkInProgress(ctx, repo, issue); err != nil {
			logger.Warn().Err(err).Msg("Failed to mark issue in progress")
		}
	}

	metrics.DispatchesTotal.WithLabelValues("ok").Inc()
	o.syncGauge()
	logger.Info().Str("minion_id", id).Msg("Minion dispatched")
	o.announce(fmt.Sprintf("Spawning minion `%s` for %s", id, rec.IssueRef()))
	if o.notifier != nil {
		o.notifier.Accumulate(notify.CategoryExecution,
			fmt.Sprintf("dispatched `%s` for %s", id, rec.IssueRef()))
	}
	return rec, nil
}

// Sweep scans the queue and dispatches minions into the free slots.
// Implements the cron scheduler's contract; also triggered by the bare
// "work" chat command.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	if o.scanner == nil {
		return 0, nil
	}
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	logger := log.WithComponent("overlord")

	// Slot check first; a full roster makes the scan pointless and wastes
	// GitHub quota.
	active, err := o.store.GetActive()
	if err != nil {
		return 0, err
	}
	slots := o.cfg.MaxConcurrent - len(active)
	if slots <= 0 {
		logger.Debug().Int("active", len(active)).Msg("Sweep found no free slots")
		return 0, nil
	}

	items, err := o.scanner.Scan(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue scan: %w", err)
	}
	o.cacheScan(ctx, items)
	if len(items) == 0 {
		return 0, nil
	}

	o.warmLLM(ctx)

	dispatched := 0
	for _, item := range items {
		if dispatched >= slots {
			break
		}
		if _, err := o.store.GetByIssue(item.Repo, item.Number); err == nil {
			continue
		}
		if _, err := o.Dispatch(ctx, item.Repo, item.Number); err != nil {
			logger.Warn().Err(err).Str("issue", item.IssueRef()).Msg("Sweep dispatch failed")
			if errors.Is(err, ErrRuntimeUnavailable) || errors.Is(err, ErrAtCapacity) {
				break
			}
			continue
		}
		dispatched++
	}
	logger.Info().Int("queued", len(items)).Int("dispatched", dispatched).Msg("Sweep complete")
	return dispatched, nil
}

// cacheScan stores the scan result for /queue and the QUEUE command and
// refreshes the rate-limit snapshot.
func (o *Orchestrator) cacheScan(ctx context.Context, items []types.QueueItem) {
	metrics.QueueDepth.Set(float64(len(items)))
	var rl *types.RateLimit
	if limit, err := o.scanner.RateLimit(ctx); err == nil {
		rl = &limit
	}
	o.queueMu.Lock()
	o.queueItems = items
	o.queueScannedAt = time.Now().UTC()
	o.rateLimit = rl
	o.queueMu.Unlock()
}

// warmLLM pokes the inference endpoint so the first minion does not pay the
// cold-start cost. Failures are only warnings.
func (o *Orchestrator) warmLLM(ctx context.Context) {
	if o.cfg.LLMWarmupURL == "" {
		return
	}
	warmCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMWarmupBudget)
	defer cancel()

	req, err := http.NewRequestWithContext(warmCtx, http.MethodPost, o.cfg.LLMWarmupURL,
		strings.NewReader(`{"prompt":"ping","max_tokens":1}`))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.LLMAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.LLMAPIKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.WithComponent("overlord").Warn().Err(err).Msg("LLM warm-up failed")
		return
	}
	resp.Body.Close()
	log.WithComponent("overlord").Debug().Int("status", resp.StatusCode).Msg("LLM warmed up")
}

// Stop kills a minion on operator request and archives it as failed.
func (o *Orchestrator) Stop(ctx context.Context, minionID string) error {
	return o.Finish(ctx, minionID, types.StatusFailed, "manually stopped")
}

// StopByIssue resolves the active minion for an issue and stops it.
func (o *Orchestrator) StopByIssue(ctx context.Context, repo string, issue int) (string, error) {
	rec, err := o.store.GetByIssue(repo, issue)
	if err != nil {
		return "", err
	}
	return rec.ID, o.Stop(ctx, rec.ID)
}

// Finish is the single termination path: kill the container, archive the
// record, release any pending question, move labels and notify. Idempotent
// for already-archived minions. Also serves the watchdog.
func (o *Orchestrator) Finish(ctx context.Context, minionID string, status types.WorkerStatus, errMsg string) error {
	return o.finishWith(ctx, minionID, status, 0, errMsg)
}

func (o *Orchestrator) finishWith(ctx context.Context, minionID string, status types.WorkerStatus, prNumber int, errMsg string) error {
	logger := log.WithMinion(minionID)

	rec, err := o.store.GetWorker(minionID)
	if err != nil {
		return err
	}

	if killErr := o.runtime.Kill(ctx, rec.ContainerRef); killErr != nil {
		logger.Warn().Err(killErr).Msg("Container kill failed, archiving anyway")
	}

	entry, err := o.store.RecordCompletion(minionID, status, prNumber, errMsg)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyArchived) {
			return nil
		}
		return err
	}

	o.registry.Drop(minionID)
	metrics.CompletionsTotal.WithLabelValues(string(status)).Inc()
	o.syncGauge()

	switch status {
	case types.StatusCompleted:
		// No PR means nothing to review; leave the issue labels alone.
		if o.scanner != nil && prNumber > 0 {
			if err := o.scanner.MarkInReview(ctx, rec.Repo, rec.IssueNumber, prNumber); err != nil {
				logger.Warn().Err(err).Msg("Failed to mark issue in review")
			}
		}
		msg := fmt.Sprintf(":white_check_mark: `%s` finished %s", minionID, rec.IssueRef())
		if prNumber > 0 {
			msg += fmt.Sprintf(" (PR #%d)", prNumber)
		}
		o.announce(msg)
		if o.notifier != nil {
			o.notifier.Accumulate(notify.CategoryExecution,
				fmt.Sprintf("`%s` completed %s", minionID, rec.IssueRef()))
		}
	case types.StatusFailed, types.StatusTimeout:
		if o.scanner != nil {
			if err := o.scanner.MarkFailed(ctx, rec.Repo, rec.IssueNumber, errMsg); err != nil {
				logger.Warn().Err(err).Msg("Failed to mark issue failed")
			}
		}
		if o.notifier != nil {
			o.notifier.SendUrgent(fmt.Sprintf(":rotating_light: `%s` %s on %s: %s",
				minionID, status, rec.IssueRef(), errMsg))
		}
	}

	logger.Info().Str("status", string(status)).
		Float64("duration_s", entry.DurationSeconds).Msg("Minion archived")
	return nil
}
