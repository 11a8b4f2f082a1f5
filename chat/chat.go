// Package chat holds the conversation model behind the site's chat panel and
// the providers that stream assistant replies from a hosted LLM.
package chat

import (
	"errors"
	"fmt"
	"net/http"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source is a grounding citation attached to an assistant reply.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Message is one entry of a conversation.
type Message struct {
	ID      string   `json:"id"`
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Sources []Source `json:"sources,omitempty"`
}

// Chunk is a single fragment yielded by a provider stream.
type Chunk struct {
	Text    string
	Sources []Source
}

// DefaultGreeting seeds every new conversation.
const DefaultGreeting = "Hello! I'm Aether, your architectural consultant. How can I help you modernize your digital ecosystem today?"

// ApologyText replaces the assistant reply when the provider fails for any
// reason other than rate limiting.
const ApologyText = "The neural link is unstable right now. Please try again in a moment."

// MaxMessageRunes bounds a single user message.
const MaxMessageRunes = 4000

var (
	ErrEmptyMessage = errors.New("chat: message is empty")
	ErrTooLong      = fmt.Errorf("chat: message exceeds %d characters", MaxMessageRunes)
	ErrBusy         = errors.New("chat: a reply is already streaming")
)

// ErrorKind buckets provider failures.
type ErrorKind int

const (
	KindUnavailable ErrorKind = iota
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unavailable"
	}
}

// Error is returned by providers when the upstream call fails.
type Error struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("chat %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("chat %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRateLimited reports whether err carries a rate-limit classification.
func IsRateLimited(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindRateLimited
}

// classifyStatus wraps err in an *Error keyed on the upstream HTTP status.
func classifyStatus(status int, err error) *Error {
	kind := KindUnavailable
	if status == http.StatusTooManyRequests {
		kind = KindRateLimited
	}
	return &Error{Kind: kind, Status: status, Err: err}
}
