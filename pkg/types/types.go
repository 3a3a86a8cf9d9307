package types

import (
	"fmt"
	"time"
)

// WorkerStatus represents the lifecycle state of a minion.
type WorkerStatus string

const (
	StatusStarting  WorkerStatus = "starting"
	StatusWorking   WorkerStatus = "working"
	StatusCompleted WorkerStatus = "completed"
	StatusFailed    WorkerStatus = "failed"
	StatusTimeout   WorkerStatus = "timeout"
)

// Terminal reports whether the status ends a worker's life. A terminal
// transition is final: the record moves from the active table to history.
func (s WorkerStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// Valid reports whether s is a member of the closed status set.
func (s WorkerStatus) Valid() bool {
	switch s {
	case StatusStarting, StatusWorking, StatusCompleted, StatusFailed, StatusTimeout:
		return true
	}
	return false
}

// WorkerRecord tracks one active minion. Created on dispatch; mutated only
// by the reporter endpoint and the watchdog; archived on terminal states.
type WorkerRecord struct {
	ID            string       `json:"id"`
	ContainerRef  string       `json:"container_ref"`
	Repo          string       `json:"repo"`
	IssueNumber   int          `json:"issue_number"`
	Status        WorkerStatus `json:"status"`
	StartedAt     time.Time    `json:"started_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	PRNumber      int          `json:"pr_number,omitempty"`
	ErrorMessage  string       `json:"error_message,omitempty"`
}

// IssueRef renders the canonical "owner/repo#N" form.
func (w *WorkerRecord) IssueRef() string {
	return fmt.Sprintf("%s#%d", w.Repo, w.IssueNumber)
}

// HistoryEntry is a past WorkerRecord plus completion bookkeeping.
// Append-only; never deleted by the overlord.
type HistoryEntry struct {
	WorkerRecord
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// Evaluation holds a PR review emitted by the external evaluator.
type Evaluation struct {
	Repo           string    `json:"repo"`
	PRNumber       int       `json:"pr_number"`
	TestScore      float64   `json:"test_score"`
	LintScore      float64   `json:"lint_score"`
	ReviewScore    float64   `json:"review_score"`
	Outcome        string    `json:"outcome"`
	RevisionNumber int       `json:"revision_number"`
	Feedback       string    `json:"feedback,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// QueueItem is one ready issue produced by a queue scan. Transient: the
// scan result is cached for display but never persisted.
type QueueItem struct {
	Repo      string    `json:"repo"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Priority  int       `json:"priority"`
	Labels    []string  `json:"labels,omitempty"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IssueRef renders the canonical "owner/repo#N" form.
func (q *QueueItem) IssueRef() string {
	return fmt.Sprintf("%s#%d", q.Repo, q.Number)
}

// PendingQuestion is a blocked minion's request for human clarification,
// bound to the chat thread that will answer it.
type PendingQuestion struct {
	MinionID    string    `json:"minion_id"`
	QuestionID  string    `json:"question_id"`
	Repo        string    `json:"repo"`
	IssueNumber int       `json:"issue_number"`
	Question    string    `json:"question"`
	ThreadRef   string    `json:"thread_ref"`
	Answered    bool      `json:"answered"`
	Answer      string    `json:"answer,omitempty"`
	AskedAt     time.Time `json:"asked_at"`
}

// ContainerState is the runtime's view of a minion container.
type ContainerState string

const (
	ContainerRunning ContainerState = "running"
	ContainerExited  ContainerState = "exited"
	ContainerNone    ContainerState = "none"
)

// EventKind is the closed set of minion report events.
type EventKind string

const (
	EventHeartbeat EventKind = "heartbeat"
	EventProgress  EventKind = "progress"
	EventQuestion  EventKind = "question"
	EventComplete  EventKind = "complete"
	EventError     EventKind = "error"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventHeartbeat, EventProgress, EventQuestion, EventComplete, EventError:
		return true
	}
	return false
}

// Report is one minion lifecycle event as received over the wire.
type Report struct {
	MinionID      string         `json:"minion_id"`
	Event         EventKind      `json:"event"`
	Issue         int            `json:"issue,omitempty"`
	Message       string         `json:"message,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// DataString returns the string value stored under key, if any.
func (r *Report) DataString(key string) string {
	if r.Data == nil {
		return ""
	}
	if s, ok := r.Data[key].(string); ok {
		return s
	}
	return ""
}

// DataInt returns the integer value stored under key, tolerating the
// float64 that encoding/json produces for JSON numbers.
func (r *Report) DataInt(key string) int {
	if r.Data == nil {
		return 0
	}
	switch v := r.Data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// RateLimit describes the queue source's remaining request budget.
type RateLimit struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}
