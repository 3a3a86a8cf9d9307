package overlord

import (
	"context"
	"fmt"
	"time"

	"github.com/codeminion/overlord/pkg/api"
	"github.com/codeminion/overlord/pkg/log"
	"github.com/codeminion/overlord/pkg/storage"
	"github.com/codeminion/overlord/pkg/types"
)

// HandleReport applies one minion lifecycle event. Unknown minions surface
// storage.ErrNotFound so the HTTP layer can answer 404.
func (o *Orchestrator) HandleReport(ctx context.Context, rep types.Report) error {
	rec, err := o.store.GetWorker(rep.MinionID)
	if err != nil {
		return err
	}

	logger := log.WithComponent("overlord").With().
		Str("minion_id", rec.ID).Str("issue", rec.IssueRef()).Logger()

	switch rep.Event {
	case types.EventHeartbeat:
		return o.touch(rec)
	case types.EventProgress:
		logger.Info().Str("message", rep.Message).Msg("Minion progress")
		if rep.Message != "" {
			o.announce(fmt.Sprintf(":hourglass: `%s` on %s: %s", rec.ID, rec.IssueRef(), rep.Message))
		}
		return o.touch(rec)
	case types.EventQuestion:
		return o.handleQuestion(rec, rep)
	case types.EventComplete:
		if eval := parseEvaluation(rec, &rep); eval != nil {
			if err := o.store.SaveEvaluation(eval); err != nil {
				logger.Warn().Err(err).Msg("Failed to persist evaluation")
			}
		}
		pr := rep.DataInt("pr_number")
		if pr == 0 {
			pr = rep.DataInt("pr")
		}
		return o.finishWith(ctx, rec.ID, types.StatusCompleted, pr, "")
	case types.EventError:
		msg := rep.Message
		if msg == "" {
			msg = "minion reported an error"
		}
		return o.finishWith(ctx, rec.ID, types.StatusFailed, 0, msg)
	default:
		return fmt.Errorf("unknown event %q", rep.Event)
	}
}

// touch refreshes the heartbeat and promotes a starting minion to working.
func (o *Orchestrator) touch(rec *types.WorkerRecord) error {
	now := time.Now().UTC()
	patch := storage.WorkerPatch{LastHeartbeat: &now}
	if rec.Status == types.StatusStarting {
		working := types.StatusWorking
		patch.Status = &working
	}
	return o.store.UpdateWorker(rec.ID, patch)
}

func (o *Orchestrator) handleQuestion(rec *types.WorkerRecord, rep types.Report) error {
	if err := o.touch(rec); err != nil {
		return err
	}
	if o.platform == nil {
		// no chat to ask; the question would wait forever
		if o.notifier != nil {
			o.notifier.SendUrgent(fmt.Sprintf("`%s` on %s asked with chat disabled: %s",
				rec.ID, rec.IssueRef(), rep.Message))
		}
		log.WithComponent("overlord").Warn().Str("minion_id", rec.ID).
			Msg("Question received but chat is disabled")
		return nil
	}

	threadRef, err := o.platform.PostQuestion(rec.ID, rec.IssueRef(), rep.Message, o.cfg.QuestionTTL)
	if err != nil {
		return fmt.Errorf("post question: %w", err)
	}
	return o.registry.Ask(types.PendingQuestion{
		MinionID:    rec.ID,
		QuestionID:  rep.CorrelationID,
		Repo:        rec.Repo,
		IssueNumber: rec.IssueNumber,
		Question:    rep.Message,
		ThreadRef:   threadRef,
	})
}

// parseEvaluation extracts the optional review payload attached to a
// complete event.
func parseEvaluation(rec *types.WorkerRecord, rep *types.Report) *types.Evaluation {
	raw, ok := rep.Data["evaluation"].(map[string]any)
	if !ok {
		return nil
	}
	sub := types.Report{Data: raw}
	eval := &types.Evaluation{
		Repo:           rec.Repo,
		PRNumber:       rep.DataInt("pr_number"),
		TestScore:      dataFloat(raw, "test_score"),
		LintScore:      dataFloat(raw, "lint_score"),
		ReviewScore:    dataFloat(raw, "review_score"),
		Outcome:        sub.DataString("outcome"),
		RevisionNumber: sub.DataInt("revision"),
		Feedback:       sub.DataString("feedback"),
		CreatedAt:      time.Now().UTC(),
	}
	if eval.PRNumber == 0 {
		eval.PRNumber = rep.DataInt("pr")
	}
	return eval
}

func dataFloat(data map[string]any, key string) float64 {
	if v, ok := data[key].(float64); ok {
		return v
	}
	return 0
}

// PendingAnswer serves the minion poll endpoint: the stored answer once a
// human has replied, nothing before.
func (o *Orchestrator) PendingAnswer(minionID string) (string, bool) {
	q, ok := o.registry.Get(minionID)
	if !ok || !q.Answered {
		return "", false
	}
	return q.Answer, true
}

// Status assembles the control-plane snapshot.
func (o *Orchestrator) Status(ctx context.Context) api.Status {
	st := api.Status{
		Paused:           o.Paused(),
		RuntimeAvailable: o.runtime.Available(ctx),
		MaxConcurrent:    o.cfg.MaxConcurrent,
		Questions:        o.registry.All(),
		Config: api.ConfigView{
			MaxConcurrent:    o.cfg.MaxConcurrent,
			TimeoutMinutes:   o.cfg.TimeoutMinutes,
			WatchedRepos:     o.cfg.WatchedRepos,
			MinionImage:      o.cfg.MinionImage,
			StubMode:         o.cfg.StubMode,
			CronSchedule:     o.cfg.CronSchedule,
			HeartbeatTimeout: o.cfg.HeartbeatTimeout().String(),
		},
	}

	if active, err := o.store.GetActive(); err == nil {
		st.Active = make([]types.WorkerRecord, 0, len(active))
		for _, rec := range active {
			st.Active = append(st.Active, *rec)
		}
	}
	if containers, err := o.runtime.List(ctx); err == nil {
		st.Containers = containers
	}

	o.queueMu.Lock()
	st.RateLimit = o.rateLimit
	o.queueMu.Unlock()

	if recent, err := o.store.History(storage.HistoryFilter{Limit: 5}); err == nil {
		for _, entry := range recent {
			if entry.PRNumber == 0 {
				continue
			}
			if evals, err := o.store.Evaluations(entry.Repo, entry.PRNumber); err == nil {
				for _, e := range evals {
					st.Evaluations = append(st.Evaluations, *e)
				}
			}
		}
	}
	return st
}

// Queue returns the cached result of the last scan.
func (o *Orchestrator) Queue() api.QueueSnapshot {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()
	items := make([]types.QueueItem, len(o.queueItems))
	copy(items, o.queueItems)
	return api.QueueSnapshot{Paused: o.Paused(), ScannedAt: o.queueScannedAt, Items: items}
}
