package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/codeminion/overlord/pkg/log"
)

// Slack talks to Slack over socket mode, so no public inbound endpoint is
// needed. Thread references are encoded as "channel|timestamp".
type Slack struct {
	api       *slack.Client
	sock      *socketmode.Client
	channel   string
	botUserID string
	handler   Handler
}

// NewSlack connects with a bot token and an app-level token and resolves
// the bot's own user ID so its messages can be filtered out.
func NewSlack(botToken, appToken, channel string) (*Slack, error) {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	auth, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack auth: %w", err)
	}
	return &Slack{
		api:       api,
		sock:      socketmode.New(api),
		channel:   channel,
		botUserID: auth.UserID,
	}, nil
}

func (s *Slack) Run(ctx context.Context, h Handler) error {
	s.handler = h
	logger := log.WithComponent("chat")

	go func() {
		for evt := range s.sock.Events {
			switch evt.Type {
			case socketmode.EventTypeConnected:
				logger.Info().Msg("Slack socket connected")
			case socketmode.EventTypeConnectionError:
				logger.Warn().Msg("Slack socket connection error, retrying")
			case socketmode.EventTypeEventsAPI:
				apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				if evt.Request != nil {
					s.sock.Ack(*evt.Request)
				}
				s.dispatch(ctx, apiEvent)
			}
		}
	}()

	return s.sock.RunContext(ctx)
}

func (s *Slack) dispatch(ctx context.Context, evt slackevents.EventsAPIEvent) {
	if evt.Type != slackevents.CallbackEvent {
		return
	}
	var msg Message
	var channel string
	switch ev := evt.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		// Mentions are honoured in any channel
		channel = ev.Channel
		msg = Message{
			User:    ev.User,
			Text:    ev.Text,
			Ref:     refFor(ev.Channel, ev.TimeStamp),
			Mention: true,
			At:      time.Now(),
		}
		if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
			msg.ThreadRef = refFor(ev.Channel, ev.ThreadTimeStamp)
		}
	case *slackevents.MessageEvent:
		if ev.SubType != "" || ev.BotID != "" || ev.User == s.botUserID {
			return
		}
		if ev.Channel != s.channel {
			return
		}
		channel = ev.Channel
		msg = Message{
			User: ev.User,
			Text: ev.Text,
			Ref:  refFor(ev.Channel, ev.TimeStamp),
			At:   time.Now(),
		}
		if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
			msg.ThreadRef = refFor(ev.Channel, ev.ThreadTimeStamp)
		}
	default:
		return
	}

	if s.handler == nil {
		return
	}
	if reply := s.handler.OnMessage(ctx, msg); reply != "" {
		if _, err := s.Post(reply, msg.ReplyRef()); err != nil {
			log.WithComponent("chat").Error().Err(err).Str("channel", channel).Msg("Failed to post reply")
		}
	}
}

func (s *Slack) Post(text, threadRef string) (string, error) {
	channel := s.channel
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadRef != "" {
		ch, ts, err := splitRef(threadRef)
		if err != nil {
			return "", err
		}
		channel = ch
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	ch, ts, err := s.api.PostMessage(channel, opts...)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	if threadRef != "" {
		return threadRef, nil
	}
	return refFor(ch, ts), nil
}

func (s *Slack) PostQuestion(minionID, issue, text string, timeout time.Duration) (string, error) {
	body := fmt.Sprintf(":question: *%s* working on %s needs input:\n> %s\n_Reply in this thread. Expires in %s._",
		minionID, issue, text, timeout)
	return s.Post(body, "")
}

func (s *Slack) ThreadHistory(threadRef string) ([]Message, error) {
	ch, ts, err := splitRef(threadRef)
	if err != nil {
		return nil, err
	}
	var out []Message
	cursor := ""
	for {
		msgs, hasMore, next, err := s.api.GetConversationReplies(&slack.GetConversationRepliesParameters{
			ChannelID: ch,
			Timestamp: ts,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("slack thread history: %w", err)
		}
		for _, m := range msgs {
			if m.BotID != "" || m.User == s.botUserID || m.SubType != "" {
				continue
			}
			out = append(out, Message{
				User:      m.User,
				Text:      m.Text,
				Ref:       refFor(ch, m.Timestamp),
				ThreadRef: threadRef,
			})
		}
		if !hasMore {
			return out, nil
		}
		cursor = next
	}
}

func refFor(channel, ts string) string {
	return channel + "|" + ts
}

func splitRef(ref string) (channel, ts string, err error) {
	parts := strings.SplitN(ref, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed thread ref %q", ref)
	}
	return parts[0], parts[1], nil
}
