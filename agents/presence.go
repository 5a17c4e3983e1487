package agents

import (
	"context"
	"log/slog"

	"github.com/chriscow/livekit-voice-agent/pkg/job"
	"github.com/chriscow/livekit-voice-agent/pkg/presence"
)

// Presence joins the room, advertises the agent and stays until the shutdown
// signal is set by the job shutting down or the room going away. If ctx ends
// first the signal is set with reason "job context done".
func Presence(ctx context.Context, jc *job.Context) error {
	shutdown := job.NewSignal()
	jc.AddShutdownCallback(func(reason string) {
		shutdown.Set(reason)
	})

	if err := jc.Connect(ctx, job.SubscribeAll); err != nil {
		return err
	}
	room := jc.Room()
	if room == nil {
		return ErrNoRoom
	}

	logger := enterRoom(jc)

	// best effort; Publish has already logged a failure
	_ = presence.Publish(ctx, room.LocalParticipant(), presence.Agent(), logger)
	watchRoom(room, logger)

	room.OnDisconnected(func() {
		shutdown.Set("room disconnected")
	})

	if err := shutdown.Wait(ctx); err != nil {
		shutdown.Set("job context done")
		logger.Debug("job context ended before shutdown signal", slog.Any("error", err))
	}
	logger.Info("disconnecting from room",
		slog.String("room_name", jc.RoomName()),
		slog.String("reason", shutdown.Reason()))
	return nil
}

// enterRoom sets the job log context and announces the connection.
func enterRoom(jc *job.Context) *slog.Logger {
	jc.SetLogContextFields(map[string]string{
		"room":   jc.RoomName(),
		"job_id": jc.ID(),
	})
	logger := jc.Logger()
	logger.Info("connected to room",
		slog.String("room_name", jc.RoomName()),
		slog.String("agent_identity", jc.AgentIdentity()))
	return logger
}

// watchRoom logs who joins and leaves the room and connection changes.
func watchRoom(room job.Room, logger *slog.Logger) {
	src, ok := room.(job.EventSource)
	if !ok {
		return
	}
	participant := func(msg string) func(job.Event) {
		return func(e job.Event) {
			if e.Participant == nil {
				return
			}
			logger.Info(msg,
				slog.String("participant", e.Participant.Identity),
				slog.String("participant_sid", e.Participant.Sid))
		}
	}
	track := func(msg string) func(job.Event) {
		return func(e job.Event) {
			if e.Track == nil {
				return
			}
			logger.Debug(msg,
				slog.String("track_sid", e.Track.Sid),
				slog.String("track_name", e.Track.Name),
				slog.String("kind", e.Track.Type.String()))
		}
	}

	src.Subscribe(job.EventParticipantConnected, participant("participant joined"))
	src.Subscribe(job.EventParticipantDisconnected, participant("participant left"))
	src.Subscribe(job.EventTrackPublished, track("track published"))
	src.Subscribe(job.EventTrackSubscribed, track("track subscribed"))
	src.Subscribe(job.EventTrackUnsubscribed, track("track unsubscribed"))
	src.Subscribe(job.EventReconnecting, func(job.Event) { logger.Warn("room connection lost, reconnecting") })
	src.Subscribe(job.EventReconnected, func(job.Event) { logger.Info("room reconnected") })
}
