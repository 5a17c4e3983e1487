package agents

import (
	"context"

	"github.com/chriscow/livekit-voice-agent/pkg/session"
)

// AssistantInstructions is the system prompt of the dialogue persona.
const AssistantInstructions = `You are a friendly voice assistant talking with the user in Japanese.
Keep answers short and conversational, one or two sentences.
Do not use markdown, lists, emoji or other formatting that cannot be spoken.
If you did not understand the user, ask them to repeat.`

// GreetingInstructions are given to the first reply of a session.
const GreetingInstructions = "Greet the user briefly, then wait for them to speak."

// Assistant is the dialogue persona.
type Assistant struct {
	instructions string
}

var _ session.Agent = (*Assistant)(nil)

// NewAssistant returns the persona with AssistantInstructions.
func NewAssistant() *Assistant {
	return &Assistant{instructions: AssistantInstructions}
}

func (a *Assistant) Instructions() string { return a.instructions }

func (a *Assistant) AllowInterruptions() bool { return true }

// OnEnter queues the greeting. It does not wait for it to be spoken.
func (a *Assistant) OnEnter(ctx context.Context, s *session.AgentSession) error {
	_, err := s.GenerateReply(ctx, GreetingInstructions)
	return err
}
