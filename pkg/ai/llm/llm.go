// Package llm defines the chat model interface used by the agent session.
package llm

import (
	"context"
	"sync"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a chat conversation.
type Message struct {
	Role    Role
	Content string

	// Interrupted is set on assistant messages cut short by the user.
	Interrupted bool
}

// ChatRequest contains parameters for a chat completion request.
type ChatRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// ChatResponse contains the response from a chat completion request.
type ChatResponse struct {
	Message      Message
	TokensUsed   int
	FinishReason string
}

// LLM is implemented by chat completion providers.
type LLM interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// Model returns the provider model identifier.
	Model() string
}

// ChatContext is the running conversation of a session. It is safe for concurrent use.
type ChatContext struct {
	mu       sync.RWMutex
	messages []Message
}

// NewChatContext returns a conversation seeded with msgs.
func NewChatContext(msgs ...Message) *ChatContext {
	return &ChatContext{messages: append([]Message(nil), msgs...)}
}

func (c *ChatContext) Append(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// Messages returns a copy of the conversation.
func (c *ChatContext) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Message(nil), c.messages...)
}

func (c *ChatContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Last returns the most recent message with the given role.
func (c *ChatContext) Last(role Role) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == role {
			return c.messages[i], true
		}
	}
	return Message{}, false
}

// Truncate keeps the newest max messages.
func (c *ChatContext) Truncate(max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if max >= 0 && len(c.messages) > max {
		c.messages = append([]Message(nil), c.messages[len(c.messages)-max:]...)
	}
}
