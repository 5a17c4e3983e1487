package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/job"
)

// entrypointGrace bounds the wait for an entrypoint still running when its job shuts down.
const entrypointGrace = job.ShutdownHookTimeout

// RunJob runs entry in its own goroutine and blocks until the job is over.
// An entrypoint error shuts the job down with reason "entrypoint failed" and
// is returned. A nil return does not end the job: RunJob waits for the job
// context, which ends on Shutdown or when the room disconnects.
func RunJob(jc *job.Context, entry JobFunc) error {
	logger := jc.Logger()
	start := time.Now()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("entrypoint panicked: %v", r)
			}
		}()
		errCh <- entry(jc.Context(), jc)
	}()

	fail := func(err error) error {
		logger.Error("Job entrypoint failed", slog.String("job_id", jc.ID()), slog.Any("error", err))
		jc.Shutdown("entrypoint failed")
		return err
	}

	select {
	case err := <-errCh:
		if err != nil && jc.Context().Err() == nil {
			return fail(err)
		}
		logger.Debug("Job entrypoint returned", slog.String("job_id", jc.ID()))
		<-jc.Done()

	case <-jc.Done():
		select {
		case err := <-errCh:
			if err != nil {
				logger.Debug("Job entrypoint ended with shutdown", slog.Any("error", err))
			}
		case <-time.After(entrypointGrace):
			logger.Warn("Job entrypoint still running after shutdown", slog.String("job_id", jc.ID()))
		}
	}

	logger.Info("Job finished", slog.String("job_id", jc.ID()), slog.Duration("duration", time.Since(start)))
	return nil
}
