package storage

import (
	"errors"
	"time"

	"github.com/codeminion/overlord/pkg/types"
)

var (
	// ErrDuplicate is returned when an active worker already exists for the
	// same (repo, issue) pair.
	ErrDuplicate = errors.New("worker already active for issue")

	// ErrNotFound is returned when no active worker has the given id.
	ErrNotFound = errors.New("worker not found")

	// ErrAlreadyArchived is returned by RecordCompletion when the worker was
	// archived by an earlier call.
	ErrAlreadyArchived = errors.New("worker already archived")
)

// WorkerPatch carries the mutable fields of a worker record. Nil fields are
// left untouched.
type WorkerPatch struct {
	Status        *types.WorkerStatus
	LastHeartbeat *time.Time
	PRNumber      *int
	ErrorMessage  *string
}

// HistoryFilter narrows History queries. Zero values mean "no filter";
// Limit <= 0 means no limit.
type HistoryFilter struct {
	Repo   string
	Status types.WorkerStatus
	Limit  int
}

// Store is the durable record of active workers and completed work.
// All mutating operations serialize; reads see the last committed state.
type Store interface {
	// Active workers
	AddWorker(w *types.WorkerRecord) error
	UpdateWorker(id string, patch WorkerPatch) error
	GetWorker(id string) (*types.WorkerRecord, error)
	GetActive() ([]*types.WorkerRecord, error)
	GetByIssue(repo string, number int) (*types.WorkerRecord, error)

	// RecordCompletion atomically archives an active worker to history under
	// the given terminal status. Idempotent: a repeat call for the same id
	// returns ErrAlreadyArchived.
	RecordCompletion(id string, status types.WorkerStatus, prNumber int, errMsg string) (*types.HistoryEntry, error)

	// History is reverse chronological.
	History(filter HistoryFilter) ([]*types.HistoryEntry, error)
	DistinctRepos() ([]string, error)

	// Evaluations
	SaveEvaluation(e *types.Evaluation) error
	Evaluations(repo string, pr int) ([]*types.Evaluation, error)

	// Utility
	Close() error
}
