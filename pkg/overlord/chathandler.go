package overlord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeminion/overlord/pkg/chat"
	"github.com/codeminion/overlord/pkg/command"
	"github.com/codeminion/overlord/pkg/log"
	"github.com/codeminion/overlord/pkg/metrics"
	"github.com/codeminion/overlord/pkg/questions"
	"github.com/codeminion/overlord/pkg/storage"
	"github.com/codeminion/overlord/pkg/types"
)

// OnMessage handles one inbound chat message. Thread replies are first
// checked against the question registry; everything else is parsed as a
// command.
func (o *Orchestrator) OnMessage(ctx context.Context, msg chat.Message) string {
	if msg.ThreadRef != "" {
		if reply, handled := o.handleThreadReply(msg); handled {
			return reply
		}
	}

	cmd := command.Parse(msg.Text, o.cfg.DefaultRepo)
	metrics.ChatCommandsTotal.WithLabelValues(string(cmd.Kind)).Inc()
	log.WithComponent("overlord").Debug().Str("kind", string(cmd.Kind)).
		Str("user", msg.User).Msg("Chat command")

	switch cmd.Kind {
	case command.KindStatus:
		return o.renderStatus(ctx)
	case command.KindQueue:
		return o.renderQueue()
	case command.KindHistory:
		return o.renderHistory()
	case command.KindHelp:
		return command.Help
	case command.KindPause:
		o.Pause()
		return ":pause_button: Automatic dispatch paused. `resume` to continue."
	case command.KindResume:
		o.Resume()
		return ":arrow_forward: Automatic dispatch resumed."
	case command.KindWork:
		return o.handleWork(ctx, cmd)
	case command.KindStop:
		return o.handleStop(ctx, cmd)
	default:
		if msg.Mention || msg.ThreadRef == "" {
			return fmt.Sprintf("I don't understand %q. Try `help`.", cmd.Raw)
		}
		return ""
	}
}

func (o *Orchestrator) handleThreadReply(msg chat.Message) (string, bool) {
	q, err := o.registry.Answer(msg.ThreadRef, msg.Text)
	switch {
	case err == nil:
		return fmt.Sprintf(":inbox_tray: Got it, relaying your answer to `%s`.", q.MinionID), true
	case errors.Is(err, questions.ErrAlreadyAnswered):
		// First answer wins; later replies in the thread are ignored.
		return "", true
	case errors.Is(err, questions.ErrUnknownThread):
		return "", false
	default:
		return "", false
	}
}

func (o *Orchestrator) handleWork(ctx context.Context, cmd command.Command) string {
	if cmd.Issue == 0 {
		n, err := o.Sweep(ctx)
		if err != nil {
			return fmt.Sprintf(":warning: Sweep failed: %v", err)
		}
		if n == 0 {
			return "Nothing to dispatch: queue empty or no free slots."
		}
		return fmt.Sprintf("Dispatched %d minion(s) from the queue.", n)
	}

	rec, err := o.Dispatch(ctx, cmd.Repo, cmd.Issue)
	switch {
	case err == nil:
		return fmt.Sprintf(":robot_face: `%s` is on %s.", rec.ID, rec.IssueRef())
	case errors.Is(err, storage.ErrDuplicate):
		return fmt.Sprintf("A minion is already working on %s#%d.", cmd.Repo, cmd.Issue)
	case errors.Is(err, ErrAtCapacity):
		return fmt.Sprintf("All %d slots busy. `status` to see who, `stop` to free one.", o.cfg.MaxConcurrent)
	case errors.Is(err, ErrRuntimeUnavailable):
		return ":warning: Container runtime is unavailable."
	default:
		return fmt.Sprintf(":warning: Dispatch failed: %v", err)
	}
}

func (o *Orchestrator) handleStop(ctx context.Context, cmd command.Command) string {
	if cmd.MinionID != "" {
		if err := o.Stop(ctx, cmd.MinionID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Sprintf("No active minion `%s`.", cmd.MinionID)
			}
			return fmt.Sprintf(":warning: Stop failed: %v", err)
		}
		return fmt.Sprintf(":octagonal_sign: Stopped `%s`.", cmd.MinionID)
	}

	id, err := o.StopByIssue(ctx, cmd.Repo, cmd.Issue)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Sprintf("No active minion on %s#%d.", cmd.Repo, cmd.Issue)
		}
		return fmt.Sprintf(":warning: Stop failed: %v", err)
	}
	return fmt.Sprintf(":octagonal_sign: Stopped `%s` (%s#%d).", id, cmd.Repo, cmd.Issue)
}

func (o *Orchestrator) renderStatus(ctx context.Context) string {
	active, err := o.store.GetActive()
	if err != nil {
		return fmt.Sprintf(":warning: Status unavailable: %v", err)
	}

	var b strings.Builder
	if o.Paused() {
		b.WriteString(":pause_button: Dispatch is paused.\n")
	}
	if !o.runtime.Available(ctx) {
		b.WriteString(":warning: Container runtime unavailable.\n")
	}
	if len(active) == 0 {
		b.WriteString("No active minions.")
		return b.String()
	}
	fmt.Fprintf(&b, "*%d/%d minions active*\n", len(active), o.cfg.MaxConcurrent)
	now := time.Now()
	for _, rec := range active {
		fmt.Fprintf(&b, "%s `%s` %s (%s, up %s, heartbeat %s ago)\n",
			statusGlyph(rec.Status), rec.ID, rec.IssueRef(), rec.Status,
			fmtDur(now.Sub(rec.StartedAt)), fmtDur(now.Sub(rec.LastHeartbeat)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) renderQueue() string {
	o.queueMu.Lock()
	items := o.queueItems
	scannedAt := o.queueScannedAt
	o.queueMu.Unlock()

	if scannedAt.IsZero() {
		return "No queue scan yet. A sweep will run on schedule, or say `work`."
	}
	if len(items) == 0 {
		return fmt.Sprintf("Queue is empty (scanned %s ago).", fmtDur(time.Since(scannedAt)))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%d ready issue(s)* (scanned %s ago)\n", len(items), fmtDur(time.Since(scannedAt)))
	for i, item := range items {
		if i >= 10 {
			fmt.Fprintf(&b, "...and %d more\n", len(items)-i)
			break
		}
		fmt.Fprintf(&b, "• %s %s", item.IssueRef(), item.Title)
		if item.Priority > 0 {
			fmt.Fprintf(&b, " (p%d)", item.Priority)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) renderHistory() string {
	entries, err := o.store.History(storage.HistoryFilter{Limit: 10})
	if err != nil {
		return fmt.Sprintf(":warning: History unavailable: %v", err)
	}
	if len(entries) == 0 {
		return "No completed work yet."
	}
	var b strings.Builder
	b.WriteString("*Recent work*\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s %s in %s", statusGlyph(e.Status), e.IssueRef(),
			e.Status, fmtDur(time.Duration(e.DurationSeconds)*time.Second))
		if e.PRNumber > 0 {
			fmt.Fprintf(&b, " → PR #%d", e.PRNumber)
		}
		if e.ErrorMessage != "" {
			fmt.Fprintf(&b, " (%s)", e.ErrorMessage)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func statusGlyph(s types.WorkerStatus) string {
	switch s {
	case types.StatusCompleted:
		return ":white_check_mark:"
	case types.StatusFailed:
		return ":x:"
	case types.StatusTimeout:
		return ":hourglass:"
	case types.StatusStarting:
		return ":egg:"
	default:
		return ":hammer_and_wrench:"
	}
}

// fmtDur renders a duration the way humans read chat: "3m", "2h15m".
func fmtDur(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
