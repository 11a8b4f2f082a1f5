package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// EventKind tags what an Event carries.
type EventKind string

const (
	EventChunk   EventKind = "chunk"
	EventSources EventKind = "sources"
	EventError   EventKind = "error"
)

// Event is emitted to the caller while a reply is being accumulated.
type Event struct {
	Kind      EventKind `json:"-"`
	MessageID string    `json:"id"`
	Text      string    `json:"text,omitempty"`
	Sources   []Source  `json:"sources,omitempty"`
}

// Service accumulates provider streams into conversations.
type Service struct {
	provider Provider
	log      *zap.Logger
	apology  string
}

// NewService creates a Service backed by provider.
func NewService(provider Provider, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{provider: provider, log: log, apology: ApologyText}
}

// ProviderName reports the configured provider.
func (s *Service) ProviderName() string {
	return s.provider.Name()
}

// Send appends text as a user message, streams the assistant reply into conv
// and calls emit after every fragment. It returns ErrEmptyMessage for blank
// input, ErrTooLong past MaxMessageRunes and ErrBusy if conv already has a
// reply in flight; none of these reach the provider. A rate-limited reply leaves no assistant message behind; any other
// failure turns the reply into the apology text.
func (s *Service) Send(ctx context.Context, conv *Conversation, text string, emit func(Event) error) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return ErrTooLong
	}
	if err := conv.begin(); err != nil {
		return err
	}
	defer conv.end()

	history := conv.Messages()
	conv.append(RoleUser, text)
	reply := conv.append(RoleAssistant, "")

	var received int
	for chunk, err := range s.provider.Stream(ctx, history, text) {
		if err != nil {
			return s.fail(conv, reply.ID, received, err, emit)
		}
		if chunk.Text != "" {
			received += len(chunk.Text)
			conv.update(reply.ID, func(m *Message) { m.Content += chunk.Text })
			if err := emit(Event{Kind: EventChunk, MessageID: reply.ID, Text: chunk.Text}); err != nil {
				return err
			}
		}
		if len(chunk.Sources) > 0 {
			var merged []Source
			conv.update(reply.ID, func(m *Message) {
				m.Sources = dedupeSources(append(m.Sources, chunk.Sources...))
				merged = append([]Source(nil), m.Sources...)
			})
			if err := emit(Event{Kind: EventSources, MessageID: reply.ID, Sources: merged}); err != nil {
				return err
			}
		}
	}
	if received == 0 {
		return s.fail(conv, reply.ID, 0, &Error{Kind: KindUnavailable, Err: errEmptyReply}, emit)
	}
	s.log.Debug("chat reply complete", zap.String("provider", s.provider.Name()), zap.Int("bytes", received))
	return nil
}

func (s *Service) fail(conv *Conversation, replyID string, received int, err error, emit func(Event) error) error {
	if IsRateLimited(err) && received == 0 {
		conv.remove(replyID)
		s.log.Info("chat rate limited", zap.String("provider", s.provider.Name()))
		return err
	}
	s.log.Warn("chat reply failed", zap.String("provider", s.provider.Name()), zap.Error(err))
	conv.update(replyID, func(m *Message) { m.Content = s.apology })
	_ = emit(Event{Kind: EventError, MessageID: replyID, Text: s.apology})
	return err
}

var errEmptyReply = errors.New("provider returned no text")
