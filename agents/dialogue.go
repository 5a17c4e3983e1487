package agents

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chriscow/livekit-voice-agent/pkg/job"
	"github.com/chriscow/livekit-voice-agent/pkg/presence"
	"github.com/chriscow/livekit-voice-agent/pkg/session"
)

// DialoguePhase is advertised in the dialogue agent's metadata.
const DialoguePhase = 2

// Dialogue runs DefaultPipeline with the Assistant persona.
func Dialogue(ctx context.Context, jc *job.Context) error {
	return NewDialogue(DefaultPipeline())(ctx, jc)
}

// NewDialogue returns an entrypoint that joins the room audio-only, starts a
// voice session built from p and returns. The session is closed when the job
// shuts down.
func NewDialogue(p Pipeline) EntrypointFunc {
	return func(ctx context.Context, jc *job.Context) error {
		if err := jc.Connect(ctx, job.SubscribeAudioOnly); err != nil {
			return err
		}
		room := jc.Room()
		if room == nil {
			return ErrNoRoom
		}

		logger := enterRoom(jc)
		_ = presence.Publish(ctx, room.LocalParticipant(), presence.AgentPhase(DialoguePhase), logger)
		watchRoom(room, logger)

		sess, err := BuildSession(p, logger)
		if err != nil {
			return fmt.Errorf("build session: %w", err)
		}
		jc.AddShutdownCallback(func(reason string) {
			if err := sess.Close(); err != nil {
				logger.Warn("session close failed", slog.Any("error", err))
			}
		})

		err = sess.Start(ctx, NewAssistant(), room, session.RoomInputOptions{
			AudioEnabled:      true,
			CloseOnDisconnect: false,
		})
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		logger.Info("voice session started", slog.String("llm", p.LLMModel), slog.String("language", p.Language))
		return nil
	}
}
