package watchdog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codeminion/overlord/pkg/log"
	"github.com/codeminion/overlord/pkg/metrics"
	"github.com/codeminion/overlord/pkg/runtime"
	"github.com/codeminion/overlord/pkg/storage"
	"github.com/codeminion/overlord/pkg/types"
)

const logTail = 40

// Finisher terminates a minion and archives its record. The orchestrator
// implements it so completion always follows one path.
type Finisher interface {
	Finish(ctx context.Context, minionID string, status types.WorkerStatus, errMsg string) error
}

// Watchdog watches active minions for missed heartbeats and for containers
// that died underneath their records.
type Watchdog struct {
	store            storage.Store
	runtime          runtime.Runtime
	finisher         Finisher
	interval         time.Duration
	cleanupInterval  time.Duration
	heartbeatTimeout time.Duration
	stubMode         bool
}

func New(store storage.Store, rt runtime.Runtime, fin Finisher,
	interval, cleanupInterval, heartbeatTimeout time.Duration, stubMode bool) *Watchdog {
	return &Watchdog{
		store:            store,
		runtime:          rt,
		finisher:         fin,
		interval:         interval,
		cleanupInterval:  cleanupInterval,
		heartbeatTimeout: heartbeatTimeout,
		stubMode:         stubMode,
	}
}

// Run ticks until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	logger := log.WithComponent("watchdog")
	logger.Info().Dur("interval", w.interval).Msg("Watchdog started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Watchdog stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one heartbeat pass and one container reconciliation pass.
func (w *Watchdog) Tick(ctx context.Context) {
	active, err := w.store.GetActive()
	if err != nil {
		log.WithComponent("watchdog").Error().Err(err).Msg("Failed to list active minions")
		return
	}

	survivors := w.heartbeatPass(ctx, active)
	w.containerPass(ctx, survivors)
}

func (w *Watchdog) heartbeatPass(ctx context.Context, active []*types.WorkerRecord) []*types.WorkerRecord {
	logger := log.WithComponent("watchdog")
	now := time.Now()
	var survivors []*types.WorkerRecord
	for _, rec := range active {
		age := now.Sub(rec.LastHeartbeat)
		if age <= w.heartbeatTimeout {
			survivors = append(survivors, rec)
			continue
		}
		logger.Warn().Str("minion_id", rec.ID).Str("issue", rec.IssueRef()).
			Dur("silent_for", age).Msg("Minion heartbeat stale, killing")
		metrics.WatchdogKillsTotal.Inc()
		msg := fmt.Sprintf("no heartbeat for %s", age.Round(time.Second))
		if err := w.finisher.Finish(ctx, rec.ID, types.StatusTimeout, msg); err != nil {
			logger.Error().Err(err).Str("minion_id", rec.ID).Msg("Failed to finish stale minion")
		}
	}
	return survivors
}

func (w *Watchdog) containerPass(ctx context.Context, active []*types.WorkerRecord) {
	logger := log.WithComponent("watchdog")
	for _, rec := range active {
		state, err := w.runtime.Status(ctx, rec.ContainerRef)
		if err != nil {
			logger.Warn().Err(err).Str("minion_id", rec.ID).Msg("Container status check failed")
			continue
		}
		switch state {
		case types.ContainerRunning:
			continue
		case types.ContainerExited:
			tail := w.tailLogs(ctx, rec.ContainerRef)
			logger.Warn().Str("minion_id", rec.ID).Str("issue", rec.IssueRef()).
				Msg("Container exited without reporting")
			msg := "container exited unexpectedly"
			if tail != "" {
				msg = msg + ": " + tail
			}
			if err := w.finisher.Finish(ctx, rec.ID, types.StatusFailed, msg); err != nil {
				logger.Error().Err(err).Str("minion_id", rec.ID).Msg("Failed to finish exited minion")
			}
		case types.ContainerNone:
			if w.stubMode {
				continue
			}
			logger.Warn().Str("minion_id", rec.ID).Str("issue", rec.IssueRef()).
				Msg("Container disappeared")
			if err := w.finisher.Finish(ctx, rec.ID, types.StatusFailed, "container not found"); err != nil {
				logger.Error().Err(err).Str("minion_id", rec.ID).Msg("Failed to finish vanished minion")
			}
		}
	}
}

func (w *Watchdog) tailLogs(ctx context.Context, containerRef string) string {
	out, err := w.runtime.Logs(ctx, containerRef, logTail)
	if err != nil {
		return ""
	}
	out = strings.TrimSpace(out)
	if len(out) > 1000 {
		out = out[len(out)-1000:]
	}
	return out
}

// RunCleanup removes dead minion containers on its own slower cadence.
func (w *Watchdog) RunCleanup(ctx context.Context) {
	logger := log.WithComponent("watchdog")
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.runtime.CleanupDead(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("Container cleanup failed")
				continue
			}
			if n > 0 {
				metrics.ContainersCleaned.Add(float64(n))
				logger.Info().Int("removed", n).Msg("Cleaned up dead containers")
			}
		}
	}
}
