// Package presence advertises the agent in a room through participant metadata.
package presence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bytedance/sonic"

	"github.com/chriscow/livekit-voice-agent/pkg/job"
)

// Payload is the metadata document published by an agent.
type Payload struct {
	Agent bool `json:"agent"`
	Phase int  `json:"phase,omitempty"`
}

// Agent returns the payload published by the presence agent.
func Agent() Payload {
	return Payload{Agent: true}
}

// AgentPhase returns the payload for the given deployment phase.
func AgentPhase(phase int) Payload {
	return Payload{Agent: true, Phase: phase}
}

// Encode serialises p into the metadata string.
func (p Payload) Encode() (string, error) {
	b, err := sonic.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode presence payload: %w", err)
	}
	return string(b), nil
}

// Decode parses a metadata string written by Encode.
func Decode(metadata string) (Payload, error) {
	var p Payload
	if err := sonic.UnmarshalString(metadata, &p); err != nil {
		return Payload{}, fmt.Errorf("decode presence payload: %w", err)
	}
	return p, nil
}

// Outcome is the result of a publish attempt. A failed outcome never stops a job.
type Outcome struct {
	Metadata string
	Err      error
}

// OK reports whether the metadata was stored.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Publish sets p as the participant's metadata. Failures are logged at
// warning level and reported in the Outcome, never returned as an error.
func Publish(ctx context.Context, lp job.LocalParticipant, p Payload, logger *slog.Logger) Outcome {
	if logger == nil {
		logger = slog.Default()
	}

	md, err := p.Encode()
	if err == nil {
		if lp == nil {
			err = job.ErrNotConnected
		} else {
			err = lp.SetMetadata(ctx, md)
		}
	}

	if err != nil {
		logger.Warn("unable to set agent metadata", slog.Any("error", err))
		return Outcome{Metadata: md, Err: err}
	}

	logger.Debug("agent metadata published", slog.String("metadata", md))
	return Outcome{Metadata: md}
}
