package chat

import (
	"sync"

	"github.com/google/uuid"
)

// Conversation is the ordered message list of one browser session. At most
// one reply may stream into it at a time.
type Conversation struct {
	mu       sync.Mutex
	messages []Message
	busy     bool
}

// NewConversation returns a conversation seeded with an assistant greeting.
func NewConversation(greeting string) *Conversation {
	c := &Conversation{}
	c.Reset(greeting)
	return c
}

// Reset drops every message and re-seeds the greeting. A streaming reply keeps
// its busy flag so the in-flight request still finishes cleanly.
func (c *Conversation) Reset(greeting string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = c.messages[:0]
	if greeting != "" {
		c.messages = append(c.messages, Message{ID: uuid.NewString(), Role: RoleAssistant, Content: greeting})
	}
}

// Messages returns a copy of the conversation.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m
		out[i].Sources = append([]Source(nil), m.Sources...)
	}
	return out
}

// Busy reports whether a reply is currently streaming.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *Conversation) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	return nil
}

func (c *Conversation) end() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Conversation) append(role Role, content string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := Message{ID: uuid.NewString(), Role: role, Content: content}
	c.messages = append(c.messages, m)
	return m
}

func (c *Conversation) update(id string, fn func(*Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == id {
			fn(&c.messages[i])
			return
		}
	}
}

func (c *Conversation) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}
