package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/codeminion/overlord/pkg/types"
)

// Scanner is the queue-source contract. Scan returns ready items in
// dispatch order; the mark operations apply label transitions and are
// best-effort with a single retry.
type Scanner interface {
	Scan(ctx context.Context) ([]types.QueueItem, error)
	MarkInProgress(ctx context.Context, repo string, number int) error
	MarkInReview(ctx context.Context, repo string, number int, pr int) error
	MarkFailed(ctx context.Context, repo string, number int, reason string) error
	RateLimit(ctx context.Context) (types.RateLimit, error)
}

// Labels names the issue labels that define the queue's states.
type Labels struct {
	Ready      string
	InProgress string
	InReview   string
	Attention  string
}

// SplitRepo breaks "owner/name" into its parts.
func SplitRepo(repo string) (owner, name string, err error) {
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed repo %q, want owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// PriorityFromLabels extracts the highest "priority:N" label value.
func PriorityFromLabels(labels []string) int {
	best := 0
	for _, l := range labels {
		rest, ok := strings.CutPrefix(strings.ToLower(l), "priority:")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil && n > best {
			best = n
		}
	}
	return best
}

// SortItems orders items by explicit priority descending, then age
// ascending (older first).
func SortItems(items []types.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
