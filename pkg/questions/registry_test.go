package questions

import (
	"testing"
	"time"

	"github.com/codeminion/overlord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pending(minion, thread, text string) types.PendingQuestion {
	return types.PendingQuestion{
		MinionID:    minion,
		QuestionID:  "q-" + minion,
		Repo:        "o/r",
		IssueNumber: 42,
		Question:    text,
		ThreadRef:   thread,
	}
}

func TestAskAndAnswer(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Ask(pending("m1", "T1", "Which endpoint?")))

	q, ok := r.Get("m1")
	require.True(t, ok)
	assert.False(t, q.Answered)
	assert.False(t, q.AskedAt.IsZero())

	answered, err := r.Answer("T1", "Use /users")
	require.NoError(t, err)
	assert.Equal(t, "m1", answered.MinionID)

	q, ok = r.Get("m1")
	require.True(t, ok)
	assert.True(t, q.Answered)
	assert.Equal(t, "Use /users", q.Answer)
}

func TestFirstAnswerWins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Ask(pending("m1", "T1", "Which endpoint?")))

	_, err := r.Answer("T1", "Use /users")
	require.NoError(t, err)

	_, err = r.Answer("T1", "No, use /accounts")
	assert.ErrorIs(t, err, ErrAlreadyAnswered)

	q, _ := r.Get("m1")
	assert.Equal(t, "Use /users", q.Answer)
}

func TestAnswerUnknownThread(t *testing.T) {
	r := NewRegistry()
	_, err := r.Answer("T404", "hello?")
	assert.ErrorIs(t, err, ErrUnknownThread)
}

func TestThreadRefUniqueness(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Ask(pending("m1", "T1", "first")))

	err := r.Ask(pending("m2", "T1", "second"))
	assert.Error(t, err)

	// Re-asking from the same minion rebinds its thread
	require.NoError(t, r.Ask(pending("m1", "T2", "updated")))
	_, err = r.Answer("T1", "stale thread")
	assert.ErrorIs(t, err, ErrUnknownThread)
	_, err = r.Answer("T2", "fresh thread")
	assert.NoError(t, err)
}

func TestDrop(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Ask(pending("m1", "T1", "q")))

	r.Drop("m1")
	_, ok := r.Get("m1")
	assert.False(t, ok)

	// Thread binding released as well
	require.NoError(t, r.Ask(pending("m2", "T1", "reused")))

	// Dropping an unknown id is a no-op
	r.Drop("ghost")
}

func TestSweepExpired(t *testing.T) {
	r := NewRegistry()

	old := pending("m1", "T1", "stale")
	old.AskedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, r.Ask(old))
	require.NoError(t, r.Ask(pending("m2", "T2", "fresh")))

	dropped := r.SweepExpired(time.Hour)
	assert.Equal(t, 1, dropped)

	_, ok := r.Get("m1")
	assert.False(t, ok)
	_, ok = r.Get("m2")
	assert.True(t, ok)
	assert.Len(t, r.All(), 1)
}
