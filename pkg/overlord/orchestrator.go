package overlord

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeminion/overlord/pkg/api"
	"github.com/codeminion/overlord/pkg/chat"
	"github.com/codeminion/overlord/pkg/config"
	"github.com/codeminion/overlord/pkg/cron"
	"github.com/codeminion/overlord/pkg/log"
	"github.com/codeminion/overlord/pkg/metrics"
	"github.com/codeminion/overlord/pkg/notify"
	"github.com/codeminion/overlord/pkg/queue"
	"github.com/codeminion/overlord/pkg/questions"
	"github.com/codeminion/overlord/pkg/runtime"
	"github.com/codeminion/overlord/pkg/storage"
	"github.com/codeminion/overlord/pkg/types"
	"github.com/codeminion/overlord/pkg/watchdog"
)

// Orchestrator owns the dispatch pipeline and wires queue, runtime, store,
// chat and the control plane together. All collaborators are injected; the
// zero value is not usable.
type Orchestrator struct {
	cfg      *config.Config
	store    storage.Store
	runtime  runtime.Runtime
	scanner  queue.Scanner // nil when no queue source is configured
	platform chat.Platform // nil when chat is disabled
	registry *questions.Registry
	notifier *notify.Manager

	paused atomic.Bool

	// dispatchMu serializes the capacity check against the spawn that
	// follows it.
	dispatchMu sync.Mutex

	queueMu        sync.Mutex
	queueItems     []types.QueueItem
	queueScannedAt time.Time
	rateLimit      *types.RateLimit
}

func New(cfg *config.Config, store storage.Store, rt runtime.Runtime,
	scanner queue.Scanner, platform chat.Platform,
	registry *questions.Registry, notifier *notify.Manager) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		runtime:  rt,
		scanner:  scanner,
		platform: platform,
		registry: registry,
		notifier: notifier,
	}
}

// Paused reports whether automatic dispatch is suspended.
func (o *Orchestrator) Paused() bool { return o.paused.Load() }

// Pause suspends automatic dispatch. Manual commands still work.
func (o *Orchestrator) Pause() { o.paused.Store(true) }

// Resume re-enables automatic dispatch.
func (o *Orchestrator) Resume() { o.paused.Store(false) }

// Run brings up the whole system and blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	logger := log.WithComponent("overlord")

	if err := o.runtime.EnsureNetwork(ctx); err != nil {
		return err
	}
	if err := o.SyncActive(ctx); err != nil {
		return err
	}

	srv := api.NewServer(o, o.cfg.HealthPort)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	wd := o.newWatchdog()
	go wd.Run(ctx)
	go wd.RunCleanup(ctx)
	go o.runQuestionSweep(ctx)
	go o.runDigest(ctx)

	if o.cfg.CronEnabled && o.scanner != nil {
		sched, err := cron.New(o.cfg.CronSchedule, o)
		if err != nil {
			return err
		}
		go sched.Run(ctx)
	}

	if o.platform != nil {
		go func() {
			if err := o.platform.Run(ctx, o); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Chat platform stopped")
			}
		}()
		o.announce(":crown: Overlord online. Type `help` for commands.")
	}

	logger.Info().Int("max_concurrent", o.cfg.MaxConcurrent).
		Bool("stub_mode", o.cfg.StubMode).Msg("Overlord running")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	o.announce(":wave: Overlord shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	logger.Info().Msg("Overlord stopped")
	return nil
}

// SyncActive reconciles persisted records against the runtime after a
// restart: records whose container is gone are archived as failed. Skipped
// in stub mode where containers are never real.
func (o *Orchestrator) SyncActive(ctx context.Context) error {
	if o.cfg.StubMode {
		return nil
	}
	active, err := o.store.GetActive()
	if err != nil {
		return err
	}
	logger := log.WithComponent("overlord")
	for _, rec := range active {
		state, err := o.runtime.Status(ctx, rec.ContainerRef)
		if err != nil {
			logger.Warn().Err(err).Str("minion_id", rec.ID).Msg("Startup status check failed")
			continue
		}
		if state == types.ContainerRunning {
			continue
		}
		logger.Warn().Str("minion_id", rec.ID).Str("issue", rec.IssueRef()).
			Str("state", string(state)).Msg("Archiving orphaned record at startup")
		if err := o.Finish(ctx, rec.ID, types.StatusFailed, "container gone at startup"); err != nil {
			logger.Error().Err(err).Str("minion_id", rec.ID).Msg("Failed to archive orphan")
		}
	}
	o.syncGauge()
	return nil
}

func (o *Orchestrator) newWatchdog() *watchdog.Watchdog {
	return watchdog.New(o.store, o.runtime, o,
		o.cfg.WatchdogInterval, o.cfg.CleanupInterval,
		o.cfg.HeartbeatTimeout(), o.cfg.StubMode)
}

func (o *Orchestrator) runQuestionSweep(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.registry.SweepExpired(o.cfg.QuestionTTL); n > 0 {
				log.WithComponent("overlord").Warn().Int("expired", n).
					Msg("Expired unanswered questions")
			}
		}
	}
}

func (o *Orchestrator) runDigest(ctx context.Context) {
	if o.notifier == nil {
		return
	}
	ticker := time.NewTicker(o.cfg.DigestInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.notifier.SendDigest()
		}
	}
}

// announce posts to the main chat channel, best effort.
func (o *Orchestrator) announce(text string) {
	if o.platform == nil {
		return
	}
	if _, err := o.platform.Post(text, ""); err != nil {
		log.WithComponent("overlord").Warn().Err(err).Msg("Chat announcement failed")
	}
}

func (o *Orchestrator) syncGauge() {
	if active, err := o.store.GetActive(); err == nil {
		metrics.ActiveMinions.Set(float64(len(active)))
	}
}
