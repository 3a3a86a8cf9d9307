package chat

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StubPost is one recorded outbound message.
type StubPost struct {
	Text      string
	ThreadRef string
}

// StubPlatform is an in-memory Platform for tests. Posts are recorded,
// inbound messages are injected with Deliver, and thread histories can be
// pre-seeded.
type StubPlatform struct {
	mu        sync.Mutex
	handler   Handler
	seq       int
	Posts     []StubPost
	Questions []StubPost
	Histories map[string][]Message
	PostErr   error
}

func NewStubPlatform() *StubPlatform {
	return &StubPlatform{Histories: make(map[string][]Message)}
}

func (p *StubPlatform) Run(ctx context.Context, h Handler) error {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	<-ctx.Done()
	return nil
}

// Deliver feeds an inbound message to the bound handler and returns the
// handler's reply.
func (p *StubPlatform) Deliver(ctx context.Context, msg Message) string {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		return ""
	}
	return h.OnMessage(ctx, msg)
}

// Bind attaches a handler without running the inbound loop.
func (p *StubPlatform) Bind(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

func (p *StubPlatform) Post(text, threadRef string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PostErr != nil {
		return "", p.PostErr
	}
	p.Posts = append(p.Posts, StubPost{Text: text, ThreadRef: threadRef})
	if threadRef != "" {
		return threadRef, nil
	}
	p.seq++
	return fmt.Sprintf("thread-%d", p.seq), nil
}

func (p *StubPlatform) PostQuestion(minionID, issue, text string, timeout time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PostErr != nil {
		return "", p.PostErr
	}
	p.seq++
	ref := fmt.Sprintf("thread-%d", p.seq)
	p.Questions = append(p.Questions, StubPost{Text: text, ThreadRef: ref})
	return ref, nil
}

func (p *StubPlatform) ThreadHistory(threadRef string) ([]Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Histories[threadRef], nil
}

// LastPost returns the most recent recorded post, or a zero value.
func (p *StubPlatform) LastPost() StubPost {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Posts) == 0 {
		return StubPost{}
	}
	return p.Posts[len(p.Posts)-1]
}
