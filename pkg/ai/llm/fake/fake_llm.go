package fake

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
)

// FakeLLM returns scripted responses in order, cycling when exhausted.
type FakeLLM struct {
	// Delay is applied to every call, honouring ctx.
	Delay time.Duration
	// Err, when set, is returned by every call.
	Err error

	mu        sync.Mutex
	responses []string
	requests  []llm.ChatRequest
}

// NewFakeLLM creates a new fake LLM provider with predefined responses.
func NewFakeLLM(responses ...string) *FakeLLM {
	if len(responses) == 0 {
		responses = []string{"This is a fake response from the fake LLM provider."}
	}
	return &FakeLLM{responses: responses}
}

func (f *FakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	f.mu.Lock()
	call := len(f.requests)
	f.requests = append(f.requests, req)
	response := f.responses[call%len(f.responses)]
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return llm.ChatResponse{}, ctx.Err()
		}
	}
	if f.Err != nil {
		return llm.ChatResponse{}, f.Err
	}

	return llm.ChatResponse{
		Message:      llm.Message{Role: llm.RoleAssistant, Content: response},
		TokensUsed:   len(strings.Fields(response)) + 10,
		FinishReason: "stop",
	}, nil
}

func (f *FakeLLM) Model() string { return "fake-llm" }

// Requests returns every request received so far.
func (f *FakeLLM) Requests() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.ChatRequest(nil), f.requests...)
}

// Calls returns the number of Chat calls.
func (f *FakeLLM) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
