package notify

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPoster struct {
	mu    sync.Mutex
	posts []string
	err   error
}

func (p *recordingPoster) Post(text string, threadRef string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.posts = append(p.posts, text)
	return "T1", nil
}

func TestSendUrgent(t *testing.T) {
	p := &recordingPoster{}
	m := NewManager(p, true, true)

	m.SendUrgent("minion m1 failed")
	require.Len(t, p.posts, 1)
	assert.Equal(t, "minion m1 failed", p.posts[0])
}

func TestUrgentDisabledDoesNotPost(t *testing.T) {
	p := &recordingPoster{}
	m := NewManager(p, false, true)

	m.SendUrgent("suppressed")
	assert.Empty(t, p.posts)

	// Digest channel unaffected
	m.Accumulate(CategoryExecution, "dispatched o/r#42")
	m.SendDigest()
	assert.Len(t, p.posts, 1)
}

func TestDigestFormatAndClear(t *testing.T) {
	p := &recordingPoster{}
	m := NewManager(p, true, true)

	m.Accumulate(CategoryExecution, "dispatched o/r#1")
	m.Accumulate(CategoryExecution, "dispatched o/r#2")
	m.Accumulate(CategoryHealthCheck, "watchdog killed m3")

	assert.True(t, m.Pending())
	m.SendDigest()

	require.Len(t, p.posts, 1)
	digest := p.posts[0]
	assert.Contains(t, digest, "Activity digest")
	assert.Contains(t, digest, "*execution* (2)")
	assert.Contains(t, digest, "dispatched o/r#1")
	assert.Contains(t, digest, "*health check* (1)")

	// Buffer cleared; next digest is a no-op
	assert.False(t, m.Pending())
	m.SendDigest()
	assert.Len(t, p.posts, 1)
}

func TestDigestKeepsLastN(t *testing.T) {
	p := &recordingPoster{}
	m := NewManager(p, true, true)

	for i := 0; i < 12; i++ {
		m.Accumulate(CategoryDetection, "item")
	}
	m.SendDigest()

	require.Len(t, p.posts, 1)
	// Counter shows all 12, but only the last few items are listed
	assert.Contains(t, p.posts[0], "*detection* (12)")
	assert.Equal(t, maxDigestItems, strings.Count(p.posts[0], "• item"))
}

func TestDigestDisabled(t *testing.T) {
	p := &recordingPoster{}
	m := NewManager(p, true, false)

	m.Accumulate(CategoryExecution, "x")
	m.SendDigest()
	assert.Empty(t, p.posts)

	// Urgent channel unaffected
	m.SendUrgent("still works")
	assert.Len(t, p.posts, 1)
}

func TestPostFailureSwallowed(t *testing.T) {
	p := &recordingPoster{err: errors.New("chat down")}
	m := NewManager(p, true, true)

	// Neither call panics or surfaces the error
	m.SendUrgent("x")
	m.Accumulate(CategoryExecution, "y")
	m.SendDigest()
}
