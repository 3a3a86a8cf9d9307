package queue

import (
	"context"
	"testing"
	"time"

	"github.com/codeminion/overlord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRepo(t *testing.T) {
	tests := []struct {
		in        string
		owner     string
		name      string
		expectErr bool
	}{
		{in: "octo/widgets", owner: "octo", name: "widgets"},
		{in: "a/b", owner: "a", name: "b"},
		{in: "no-slash", expectErr: true},
		{in: "/missing-owner", expectErr: true},
		{in: "missing-name/", expectErr: true},
		{in: "too/many/parts", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, name, err := SplitRepo(tt.in)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestPriorityFromLabels(t *testing.T) {
	assert.Equal(t, 0, PriorityFromLabels(nil))
	assert.Equal(t, 0, PriorityFromLabels([]string{"bug", "minion-ready"}))
	assert.Equal(t, 5, PriorityFromLabels([]string{"priority:5"}))
	assert.Equal(t, 9, PriorityFromLabels([]string{"priority:2", "Priority:9"}))
	assert.Equal(t, 3, PriorityFromLabels([]string{"priority: 3", "priority:bad"}))
}

func TestSortItems(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []types.QueueItem{
		{Repo: "o/r", Number: 1, Priority: 0, CreatedAt: base.Add(2 * time.Hour)},
		{Repo: "o/r", Number: 2, Priority: 5, CreatedAt: base.Add(3 * time.Hour)},
		{Repo: "o/r", Number: 3, Priority: 0, CreatedAt: base},
		{Repo: "o/r", Number: 4, Priority: 5, CreatedAt: base.Add(time.Hour)},
	}

	SortItems(items)

	got := []int{items[0].Number, items[1].Number, items[2].Number, items[3].Number}
	// Priority desc, then older first
	assert.Equal(t, []int{4, 2, 3, 1}, got)
}

func TestStubScanIdempotent(t *testing.T) {
	stub := NewStubScanner(
		types.QueueItem{Repo: "o/r", Number: 2, Priority: 1},
		types.QueueItem{Repo: "o/r", Number: 1, Priority: 3},
	)

	first, err := stub.Scan(context.Background())
	require.NoError(t, err)
	second, err := stub.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, first[0].Number)
	assert.Equal(t, 2, stub.Scans)
}

func TestStubRecordsTransitions(t *testing.T) {
	stub := NewStubScanner()
	ctx := context.Background()

	require.NoError(t, stub.MarkInProgress(ctx, "o/r", 42))
	require.NoError(t, stub.MarkInReview(ctx, "o/r", 42, 7))
	require.NoError(t, stub.MarkFailed(ctx, "o/r", 43, "container exited"))

	assert.Equal(t, []string{"o/r#42"}, stub.InProgress)
	assert.Equal(t, []string{"o/r#42"}, stub.InReview)
	assert.Equal(t, []string{"o/r#43"}, stub.Failed)
	assert.Equal(t, "container exited", stub.FailReasons["o/r#43"])
}
