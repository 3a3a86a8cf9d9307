package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/codeminion/overlord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testWorker(id, repo string, issue int) *types.WorkerRecord {
	now := time.Now().UTC()
	return &types.WorkerRecord{
		ID:            id,
		ContainerRef:  "ctr-" + id,
		Repo:          repo,
		IssueNumber:   issue,
		Status:        types.StatusStarting,
		StartedAt:     now,
		LastHeartbeat: now,
	}
}

func TestAddWorkerDuplicate(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AddWorker(testWorker("m1", "o/r", 42)))

	err := s.AddWorker(testWorker("m2", "o/r", 42))
	assert.ErrorIs(t, err, ErrDuplicate)

	// Same repo, different issue is fine
	assert.NoError(t, s.AddWorker(testWorker("m3", "o/r", 43)))
}

func TestUpdateWorker(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddWorker(testWorker("m1", "o/r", 42)))

	working := types.StatusWorking
	hb := time.Now().UTC().Add(time.Minute)
	require.NoError(t, s.UpdateWorker("m1", WorkerPatch{Status: &working, LastHeartbeat: &hb}))

	w, err := s.GetWorker("m1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusWorking, w.Status)
	assert.WithinDuration(t, hb, w.LastHeartbeat, time.Second)

	err = s.UpdateWorker("ghost", WorkerPatch{Status: &working})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHeartbeatNeverRegresses(t *testing.T) {
	s := newTestStore(t)
	w := testWorker("m1", "o/r", 42)
	require.NoError(t, s.AddWorker(w))

	stale := w.LastHeartbeat.Add(-time.Hour)
	require.NoError(t, s.UpdateWorker("m1", WorkerPatch{LastHeartbeat: &stale}))

	got, err := s.GetWorker("m1")
	require.NoError(t, err)
	assert.WithinDuration(t, w.LastHeartbeat, got.LastHeartbeat, time.Second)
}

func TestRecordCompletion(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddWorker(testWorker("m1", "o/r", 42)))

	entry, err := s.RecordCompletion("m1", types.StatusCompleted, 7, "")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, entry.Status)
	assert.Equal(t, 7, entry.PRNumber)
	assert.False(t, entry.CompletedAt.IsZero())

	// Active table no longer holds the worker
	active, err := s.GetActive()
	require.NoError(t, err)
	assert.Empty(t, active)

	// History does
	hist, err := s.History(HistoryFilter{Repo: "o/r"})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "m1", hist[0].ID)

	// Idempotent under retry
	_, err = s.RecordCompletion("m1", types.StatusCompleted, 7, "")
	assert.ErrorIs(t, err, ErrAlreadyArchived)
}

func TestRecordCompletionRejectsNonTerminal(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddWorker(testWorker("m1", "o/r", 42)))

	_, err := s.RecordCompletion("m1", types.StatusWorking, 0, "")
	assert.Error(t, err)
}

func TestHistoryOrderAndFilters(t *testing.T) {
	s := newTestStore(t)

	for i, id := range []string{"m1", "m2", "m3"} {
		repo := "o/r"
		if i == 2 {
			repo = "o/other"
		}
		require.NoError(t, s.AddWorker(testWorker(id, repo, 40+i)))
	}
	_, err := s.RecordCompletion("m1", types.StatusCompleted, 0, "")
	require.NoError(t, err)
	_, err = s.RecordCompletion("m2", types.StatusFailed, 0, "boom")
	require.NoError(t, err)
	_, err = s.RecordCompletion("m3", types.StatusTimeout, 0, "no heartbeat")
	require.NoError(t, err)

	// Newest first
	all, err := s.History(HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "m3", all[0].ID)
	assert.Equal(t, "m1", all[2].ID)

	// Repo filter
	byRepo, err := s.History(HistoryFilter{Repo: "o/r"})
	require.NoError(t, err)
	assert.Len(t, byRepo, 2)

	// Status filter with limit
	failed, err := s.History(HistoryFilter{Status: types.StatusFailed, Limit: 1})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "boom", failed[0].ErrorMessage)

	repos, err := s.DistinctRepos()
	require.NoError(t, err)
	assert.Equal(t, []string{"o/other", "o/r"}, repos)
}

func TestRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := NewBoltStore(path)
	require.NoError(t, err)

	w := testWorker("m1", "o/r", 42)
	w.PRNumber = 9
	w.ErrorMessage = "partial"
	require.NoError(t, s.AddWorker(w))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetWorker("m1")
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
	assert.Equal(t, w.ContainerRef, got.ContainerRef)
	assert.Equal(t, w.Repo, got.Repo)
	assert.Equal(t, w.IssueNumber, got.IssueNumber)
	assert.Equal(t, w.Status, got.Status)
	assert.Equal(t, w.PRNumber, got.PRNumber)
	assert.Equal(t, w.ErrorMessage, got.ErrorMessage)
	assert.WithinDuration(t, w.StartedAt, got.StartedAt, time.Millisecond)
	assert.WithinDuration(t, w.LastHeartbeat, got.LastHeartbeat, time.Millisecond)
}

func TestEvaluations(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveEvaluation(&types.Evaluation{
		Repo: "o/r", PRNumber: 7, TestScore: 0.9, LintScore: 1, ReviewScore: 0.8,
		Outcome: "approved", RevisionNumber: 1,
	}))
	require.NoError(t, s.SaveEvaluation(&types.Evaluation{
		Repo: "o/r", PRNumber: 7, TestScore: 1, LintScore: 1, ReviewScore: 0.95,
		Outcome: "approved", RevisionNumber: 2,
	}))
	require.NoError(t, s.SaveEvaluation(&types.Evaluation{
		Repo: "o/r", PRNumber: 8, Outcome: "denied", RevisionNumber: 1,
	}))

	evals, err := s.Evaluations("o/r", 7)
	require.NoError(t, err)
	require.Len(t, evals, 2)
	assert.Equal(t, 1, evals[0].RevisionNumber)
	assert.Equal(t, 2, evals[1].RevisionNumber)
	assert.False(t, evals[0].CreatedAt.IsZero())
}
