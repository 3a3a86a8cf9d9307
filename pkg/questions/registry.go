package questions

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codeminion/overlord/pkg/metrics"
	"github.com/codeminion/overlord/pkg/types"
)

var (
	// ErrAlreadyAnswered is returned by Answer when the question already
	// holds an answer; the stored answer is left untouched.
	ErrAlreadyAnswered = errors.New("question already answered")

	// ErrUnknownThread is returned when no pending question owns the thread.
	ErrUnknownThread = errors.New("no pending question for thread")
)

// Registry maps blocked minion ids to their open clarification and the chat
// thread that will answer it. The registry exclusively owns every entry;
// workers only observe answers through the poll endpoint.
type Registry struct {
	mu       sync.Mutex
	byMinion map[string]*types.PendingQuestion
	byThread map[string]string // thread ref -> minion id
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byMinion: make(map[string]*types.PendingQuestion),
		byThread: make(map[string]string),
	}
}

// Ask creates or refreshes the pending question for a minion. Thread refs
// are unique: binding one that another minion holds is an error.
func (r *Registry) Ask(q types.PendingQuestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byThread[q.ThreadRef]; ok && owner != q.MinionID {
		return fmt.Errorf("thread %s already bound to minion %s", q.ThreadRef, owner)
	}

	if prev, ok := r.byMinion[q.MinionID]; ok {
		delete(r.byThread, prev.ThreadRef)
	}
	if q.AskedAt.IsZero() {
		q.AskedAt = time.Now().UTC()
	}
	r.byMinion[q.MinionID] = &q
	r.byThread[q.ThreadRef] = q.MinionID
	r.gauge()
	return nil
}

// Answer records the reply for the question bound to threadRef. Only the
// first answer sticks; later replies return ErrAlreadyAnswered.
func (r *Registry) Answer(threadRef, answer string) (*types.PendingQuestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	minionID, ok := r.byThread[threadRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThread, threadRef)
	}
	q := r.byMinion[minionID]
	if q.Answered {
		return nil, ErrAlreadyAnswered
	}
	q.Answered = true
	q.Answer = answer
	r.gauge()
	return q, nil
}

// Get returns a copy of the pending question for a minion, if any.
func (r *Registry) Get(minionID string) (types.PendingQuestion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.byMinion[minionID]
	if !ok {
		return types.PendingQuestion{}, false
	}
	return *q, true
}

// Drop removes a minion's entry unconditionally. Called when the worker
// terminates for any reason.
func (r *Registry) Drop(minionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.byMinion[minionID]; ok {
		delete(r.byThread, q.ThreadRef)
		delete(r.byMinion, minionID)
	}
	r.gauge()
}

// All returns a snapshot of every entry.
func (r *Registry) All() []types.PendingQuestion {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.PendingQuestion, 0, len(r.byMinion))
	for _, q := range r.byMinion {
		out = append(out, *q)
	}
	return out
}

// SweepExpired drops entries older than ttl, answered or not, to bound
// memory. Returns how many were dropped.
func (r *Registry) SweepExpired(ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	dropped := 0
	for id, q := range r.byMinion {
		if q.AskedAt.Before(cutoff) {
			delete(r.byThread, q.ThreadRef)
			delete(r.byMinion, id)
			dropped++
		}
	}
	r.gauge()
	return dropped
}

// gauge publishes the open (unanswered) count. Callers hold r.mu.
func (r *Registry) gauge() {
	open := 0
	for _, q := range r.byMinion {
		if !q.Answered {
			open++
		}
	}
	metrics.QuestionsOpen.Set(float64(open))
}
