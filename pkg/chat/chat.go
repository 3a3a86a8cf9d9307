package chat

import (
	"context"
	"time"
)

// Message is one inbound human message from the chat platform.
type Message struct {
	User      string
	Text      string
	Ref       string // reference to this message, usable as a reply target
	ThreadRef string // parent thread reference, empty for top-level messages
	Mention   bool   // the bot was mentioned explicitly
	At        time.Time
}

// ReplyRef is where a response to this message should be threaded.
func (m Message) ReplyRef() string {
	if m.ThreadRef != "" {
		return m.ThreadRef
	}
	return m.Ref
}

// Handler receives inbound messages. The returned reply, when non-empty,
// is posted back into the message's thread.
type Handler interface {
	OnMessage(ctx context.Context, msg Message) string
}

// Platform abstracts the chat backend. Run blocks until the context is
// cancelled; Post with an empty threadRef starts a new thread and returns
// its reference.
type Platform interface {
	Run(ctx context.Context, h Handler) error
	Post(text, threadRef string) (string, error)
	PostQuestion(minionID, issue, text string, timeout time.Duration) (string, error)
	ThreadHistory(threadRef string) ([]Message, error)
}
