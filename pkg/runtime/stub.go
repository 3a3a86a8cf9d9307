package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/codeminion/overlord/pkg/types"
)

// StubRuntime is the test-mode Runtime: every operation succeeds without a
// real engine, and Status tracks an in-memory state machine that tests can
// drive with MarkExited and Forget.
type StubRuntime struct {
	mu     sync.Mutex
	states map[string]types.ContainerState
	logs   map[string]string

	Unavailable bool
	SpawnErr    error
	Spawned     []string
	Killed      []string
}

// NewStubRuntime builds an empty stub.
func NewStubRuntime() *StubRuntime {
	return &StubRuntime{
		states: make(map[string]types.ContainerState),
		logs:   make(map[string]string),
	}
}

func (r *StubRuntime) Available(ctx context.Context) bool { return !r.Unavailable }

func (r *StubRuntime) EnsureNetwork(ctx context.Context) error { return nil }

func (r *StubRuntime) Spawn(ctx context.Context, repo string, issue int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.SpawnErr != nil {
		return "", r.SpawnErr
	}
	id := fmt.Sprintf("minion-%s", uuid.New().String()[:8])
	r.states[id] = types.ContainerRunning
	r.Spawned = append(r.Spawned, id)
	return id, nil
}

func (r *StubRuntime) Status(ctx context.Context, id string) (types.ContainerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.states[id]; ok {
		return state, nil
	}
	return types.ContainerNone, nil
}

func (r *StubRuntime) Logs(ctx context.Context, id string, tail int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[id], nil
}

func (r *StubRuntime) Kill(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, id)
	r.Killed = append(r.Killed, id)
	return nil
}

func (r *StubRuntime) List(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *StubRuntime) CleanupDead(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, state := range r.states {
		if state == types.ContainerExited {
			delete(r.states, id)
			removed++
		}
	}
	return removed, nil
}

func (r *StubRuntime) Close() error { return nil }

// MarkExited flips a container to the exited state.
func (r *StubRuntime) MarkExited(id string, logs string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[id] = types.ContainerExited
	r.logs[id] = logs
}

// Forget drops a container entirely, as if it were removed out of band.
func (r *StubRuntime) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, id)
}

// Running reports whether the stub still tracks id as running.
func (r *StubRuntime) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[id] == types.ContainerRunning
}
