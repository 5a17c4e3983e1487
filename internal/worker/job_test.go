package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/job"
)

func runJobAsync(jc *job.Context, entry JobFunc) <-chan error {
	done := make(chan error, 1)
	go func() { done <- RunJob(jc, entry) }()
	return done
}

func TestRunJob_EntrypointError(t *testing.T) {
	is := is.New(t)

	boom := errors.New("boom")
	jc := job.NewContext(context.Background(), job.Info{ID: "job-1"}, nil, nil)

	reasons := make(chan string, 1)
	jc.AddShutdownCallback(func(reason string) { reasons <- reason })

	err := RunJob(jc, func(context.Context, *job.Context) error { return boom })
	is.True(errors.Is(err, boom))              // error is reported
	is.Equal(<-reasons, "entrypoint failed") // and the job is shut down
	is.True(jc.IsShutdown())
}

func TestRunJob_ReturnedEntrypointKeepsJobAlive(t *testing.T) {
	is := is.New(t)

	jc := job.NewContext(context.Background(), job.Info{ID: "job-1"}, nil, nil)
	returned := make(chan struct{})
	done := runJobAsync(jc, func(context.Context, *job.Context) error {
		close(returned)
		return nil
	})

	<-returned
	select {
	case <-done:
		t.Fatal("job ended when the entrypoint returned")
	case <-time.After(30 * time.Millisecond):
	}

	jc.Shutdown("job terminated")
	select {
	case err := <-done:
		is.NoErr(err)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not end after shutdown")
	}
}

func TestRunJob_BlockingEntrypoint(t *testing.T) {
	is := is.New(t)

	jc := job.NewContext(context.Background(), job.Info{ID: "job-1"}, nil, nil)
	done := runJobAsync(jc, func(ctx context.Context, jc *job.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	jc.Shutdown("worker shutdown")
	select {
	case err := <-done:
		is.NoErr(err) // cancellation is not a failure
	case <-time.After(5 * time.Second):
		t.Fatal("job did not end")
	}
}

func TestRunJob_Panic(t *testing.T) {
	is := is.New(t)

	jc := job.NewContext(context.Background(), job.Info{ID: "job-1"}, nil, nil)
	err := RunJob(jc, func(context.Context, *job.Context) error { panic("bad entrypoint") })
	is.True(err != nil) // panics become failures
	is.True(jc.IsShutdown())
}
