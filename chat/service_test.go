package chat

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	chunks  []Chunk
	err     error
	release chan struct{}
	calls   atomic.Int32
	history []Message
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Stream(ctx context.Context, history []Message, prompt string) iter.Seq2[Chunk, error] {
	f.calls.Add(1)
	f.history = history
	return func(yield func(Chunk, error) bool) {
		if f.release != nil {
			<-f.release
		}
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.err != nil {
			yield(Chunk{}, f.err)
		}
	}
}

func collect(events *[]Event) func(Event) error {
	return func(e Event) error {
		*events = append(*events, e)
		return nil
	}
}

func TestSendAccumulatesFragments(t *testing.T) {
	p := &fakeProvider{chunks: []Chunk{{Text: "Hel"}, {Text: "lo"}, {Text: ", world"}}}
	svc := NewService(p, nil)
	conv := NewConversation(DefaultGreeting)

	var events []Event
	require.NoError(t, svc.Send(context.Background(), conv, "  hi there ", collect(&events)))

	msgs := conv.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Equal(t, DefaultGreeting, msgs[0].Content)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, "hi there", msgs[1].Content)
	assert.Equal(t, "Hello, world", msgs[2].Content)

	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, EventChunk, e.Kind)
		assert.Equal(t, msgs[2].ID, e.MessageID)
	}

	// The provider sees the history before the new user turn.
	require.Len(t, p.history, 1)
	assert.Equal(t, RoleAssistant, p.history[0].Role)
}

func TestSendBlankMessageIsNoop(t *testing.T) {
	p := &fakeProvider{chunks: []Chunk{{Text: "x"}}}
	svc := NewService(p, nil)
	conv := NewConversation(DefaultGreeting)

	for _, in := range []string{"", "   ", "\n\t"} {
		err := svc.Send(context.Background(), conv, in, func(Event) error { return nil })
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Equal(t, int32(0), p.calls.Load())
	assert.Len(t, conv.Messages(), 1)
}

func TestSendRejectsLongMessage(t *testing.T) {
	p := &fakeProvider{chunks: []Chunk{{Text: "x"}}}
	svc := NewService(p, nil)
	conv := NewConversation(DefaultGreeting)

	err := svc.Send(context.Background(), conv, strings.Repeat("é", MaxMessageRunes+1), func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrTooLong)
	assert.Equal(t, int32(0), p.calls.Load())
	assert.Len(t, conv.Messages(), 1)

	// The cap counts characters, not bytes.
	require.NoError(t, svc.Send(context.Background(), conv, strings.Repeat("é", MaxMessageRunes), func(Event) error { return nil }))
}

func TestSendSources(t *testing.T) {
	p := &fakeProvider{chunks: []Chunk{
		{Text: "Edge runtimes are fast.", Sources: []Source{{Title: "Docs", URL: "https://example.com/a"}}},
		{Sources: []Source{{Title: "Docs again", URL: "https://example.com/a"}, {URL: "https://example.com/b"}}},
	}}
	svc := NewService(p, nil)
	conv := NewConversation(DefaultGreeting)

	var events []Event
	require.NoError(t, svc.Send(context.Background(), conv, "why edge?", collect(&events)))

	reply := conv.Messages()[2]
	require.Len(t, reply.Sources, 2)
	assert.Equal(t, "Docs", reply.Sources[0].Title)
	assert.Equal(t, "https://example.com/b", reply.Sources[1].Title)
	assert.Equal(t, EventSources, events[len(events)-1].Kind)
}

func TestSendRateLimitedDropsPlaceholder(t *testing.T) {
	p := &fakeProvider{err: &Error{Kind: KindRateLimited, Status: 429, Err: errors.New("quota")}}
	svc := NewService(p, nil)
	conv := NewConversation(DefaultGreeting)

	var events []Event
	err := svc.Send(context.Background(), conv, "hello", collect(&events))
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.Empty(t, events)

	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.False(t, conv.Busy())
}

func TestSendFailureAppendsApology(t *testing.T) {
	p := &fakeProvider{err: &Error{Kind: KindUnavailable, Status: 500, Err: errors.New("boom")}}
	svc := NewService(p, nil)
	conv := NewConversation(DefaultGreeting)

	var events []Event
	err := svc.Send(context.Background(), conv, "hello", collect(&events))
	require.Error(t, err)
	assert.False(t, IsRateLimited(err))

	msgs := conv.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, ApologyText, msgs[2].Content)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
}

func TestSendEmptyReplyIsFailure(t *testing.T) {
	svc := NewService(&fakeProvider{}, nil)
	conv := NewConversation(DefaultGreeting)

	err := svc.Send(context.Background(), conv, "hello", func(Event) error { return nil })
	require.Error(t, err)
	assert.Equal(t, ApologyText, conv.Messages()[2].Content)
}

func TestSendOneReplyAtATime(t *testing.T) {
	p := &fakeProvider{chunks: []Chunk{{Text: "done"}}, release: make(chan struct{})}
	svc := NewService(p, nil)
	conv := NewConversation(DefaultGreeting)

	errc := make(chan error, 1)
	go func() {
		errc <- svc.Send(context.Background(), conv, "first", func(Event) error { return nil })
	}()
	require.Eventually(t, conv.Busy, time.Second, 5*time.Millisecond)

	err := svc.Send(context.Background(), conv, "second", func(Event) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)

	close(p.release)
	require.NoError(t, <-errc)
	assert.False(t, conv.Busy())
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestConversationReset(t *testing.T) {
	conv := NewConversation("hi")
	conv.append(RoleUser, "question")
	conv.Reset("hi")

	msgs := conv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}
