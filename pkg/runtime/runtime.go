package runtime

import (
	"context"

	"github.com/codeminion/overlord/pkg/types"
)

// Runtime is the container runtime contract. Spawn returns a minion id once
// the container has been accepted by the runtime; the first heartbeat over
// the reporter endpoint is what confirms the worker actually came up.
type Runtime interface {
	Available(ctx context.Context) bool
	EnsureNetwork(ctx context.Context) error
	Spawn(ctx context.Context, repo string, issue int) (string, error)
	Status(ctx context.Context, id string) (types.ContainerState, error)
	Logs(ctx context.Context, id string, tail int) (string, error)
	Kill(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	CleanupDead(ctx context.Context) (int, error)
	Close() error
}
