package queue

import (
	"context"
	"sync"
	"time"

	"github.com/codeminion/overlord/pkg/types"
)

// StubScanner is an in-memory Scanner for tests. It serves a fixed item
// list and records every label transition it is asked to make.
type StubScanner struct {
	mu    sync.Mutex
	items []types.QueueItem

	ScanErr     error
	MarkErr     error
	Scans       int
	InProgress  []string
	InReview    []string
	Failed      []string
	FailReasons map[string]string
}

// NewStubScanner builds a stub serving the given items.
func NewStubScanner(items ...types.QueueItem) *StubScanner {
	return &StubScanner{items: items, FailReasons: make(map[string]string)}
}

// SetItems replaces the served queue.
func (s *StubScanner) SetItems(items ...types.QueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
}

func (s *StubScanner) Scan(ctx context.Context) ([]types.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scans++
	if s.ScanErr != nil {
		return nil, s.ScanErr
	}
	out := make([]types.QueueItem, len(s.items))
	copy(out, s.items)
	SortItems(out)
	return out, nil
}

func (s *StubScanner) MarkInProgress(ctx context.Context, repo string, number int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MarkErr != nil {
		return s.MarkErr
	}
	s.InProgress = append(s.InProgress, issueKey(repo, number))
	return nil
}

func (s *StubScanner) MarkInReview(ctx context.Context, repo string, number int, pr int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MarkErr != nil {
		return s.MarkErr
	}
	s.InReview = append(s.InReview, issueKey(repo, number))
	return nil
}

func (s *StubScanner) MarkFailed(ctx context.Context, repo string, number int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MarkErr != nil {
		return s.MarkErr
	}
	key := issueKey(repo, number)
	s.Failed = append(s.Failed, key)
	s.FailReasons[key] = reason
	return nil
}

func (s *StubScanner) RateLimit(ctx context.Context) (types.RateLimit, error) {
	return types.RateLimit{Remaining: 5000, Limit: 5000, ResetAt: time.Now().Add(time.Hour)}, nil
}

func issueKey(repo string, number int) string {
	return (&types.QueueItem{Repo: repo, Number: number}).IssueRef()
}
