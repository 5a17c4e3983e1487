// Package worker registers with a LiveKit server as an agent worker and runs
// one job per assignment.
package worker

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"

	"github.com/chriscow/livekit-voice-agent/pkg/job"
)

const (
	DefaultMaxJobs        = 4
	DefaultStatusInterval = 5 * time.Second

	maxBackoff    = 10 * time.Second
	tokenValidFor = time.Hour
)

var (
	ErrNoEntrypoint = errors.New("worker has no entrypoint")

	metrics = expvar.NewMap("worker")
)

// JobFunc runs one job; see RunJob for how its result is interpreted.
type JobFunc func(ctx context.Context, jc *job.Context) error

type Config struct {
	URL       string
	APIKey    string
	APISecret string

	AgentName string
	Version   string
	MaxJobs   int

	Entrypoint JobFunc

	// Connector joins assigned rooms. Defaults to job.LiveKitConnector.
	Connector      job.Connector
	StatusInterval time.Duration
}

type Worker struct {
	cfg    Config
	logger *slog.Logger
	ws     *WebSocketClient

	mu             sync.RWMutex
	registered     bool
	workerID       string
	backoffAttempt int
	jobs           map[string]*job.Context

	jobWG sync.WaitGroup
}

func New(cfg Config, logger *slog.Logger) (*Worker, error) {
	if cfg.Entrypoint == nil {
		return nil, ErrNoEntrypoint
	}
	if _, err := AgentURL(cfg.URL); err != nil {
		return nil, err
	}
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = DefaultMaxJobs
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Connector == nil {
		cfg.Connector = job.LiveKitConnector{URL: cfg.URL, Logger: logger}
	}

	return &Worker{
		cfg:    cfg,
		logger: logger,
		ws:     NewWebSocketClient(cfg.URL, logger),
		jobs:   make(map[string]*job.Context),
	}, nil
}

// Run keeps the worker registered until ctx is cancelled, reconnecting with
// backoff. Active jobs are shut down before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("url", w.cfg.URL),
		slog.String("agent_name", w.cfg.AgentName),
		slog.Int("max_jobs", w.cfg.MaxJobs))
	defer w.shutdown()

	for {
		err := w.connectAndRun(ctx)
		if ctx.Err() != nil {
			w.logger.Info("Worker shutting down")
			return nil
		}
		if err != nil {
			w.logger.Error("Worker connection failed", slog.Any("error", err))
		}
		if err := w.backoffDelay(ctx); err != nil {
			return nil
		}
	}
}

func (w *Worker) connectAndRun(ctx context.Context) error {
	w.logger.Info("Connecting to LiveKit server")

	token, err := w.token()
	if err != nil {
		return err
	}
	if err := w.ws.Connect(ctx, token); err != nil {
		return err
	}
	defer func() {
		if err := w.ws.Close(); err != nil {
			w.logger.Debug("Error closing WebSocket during cleanup", slog.Any("error", err))
		}
	}()
	defer w.setRegistered(false, "")

	err = w.ws.WriteMessage(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Register{
		Register: &livekit.RegisterWorkerRequest{
			Type:      livekit.JobType_JT_ROOM,
			AgentName: w.cfg.AgentName,
			Version:   w.cfg.Version,
		},
	}})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// unblocks the reader
	stop := context.AfterFunc(runCtx, func() { _ = w.ws.Close() })
	defer stop()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- w.readMessages(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.reportStatus(runCtx)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = nil
	}
	cancel()
	wg.Wait()
	return err
}

// readMessages dispatches server messages until the connection fails.
// Jobs are bound to ctx, not to the connection.
func (w *Worker) readMessages(ctx context.Context) error {
	for {
		msg, err := w.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read messages: %w", err)
		}
		w.handleMessage(ctx, msg)
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg *livekit.ServerMessage) {
	switch m := msg.Message.(type) {
	case *livekit.ServerMessage_Register:
		w.setRegistered(true, m.Register.GetWorkerId())
		w.logger.Info("Worker registered",
			slog.String("worker_id", m.Register.GetWorkerId()),
			slog.String("server_version", m.Register.GetServerInfo().GetVersion()))

	case *livekit.ServerMessage_Availability:
		w.answerAvailability(m.Availability)

	case *livekit.ServerMessage_Assignment:
		w.startJob(ctx, m.Assignment)

	case *livekit.ServerMessage_Termination:
		w.terminateJob(m.Termination.GetJobId())

	case *livekit.ServerMessage_Pong:
		w.logger.Debug("Pong received", slog.Int64("timestamp", m.Pong.GetTimestamp()))

	default:
		w.logger.Debug("Unhandled server message", slog.String("type", fmt.Sprintf("%T", msg.Message)))
	}
}

func (w *Worker) answerAvailability(req *livekit.AvailabilityRequest) {
	j := req.GetJob()
	active := w.ActiveJobs()
	available := active < w.cfg.MaxJobs

	label := w.cfg.AgentName
	if label == "" {
		label = "agent"
	}
	resp := &livekit.AvailabilityResponse{
		JobId:               j.GetId(),
		Available:           available,
		ParticipantIdentity: fmt.Sprintf("agent-%s-%s", label, uuid.NewString()[:8]),
		ParticipantName:     label,
	}

	w.logger.Info("Job offered",
		slog.String("job_id", j.GetId()),
		slog.String("room", j.GetRoom().GetName()),
		slog.Bool("available", available),
		slog.Int("active_jobs", active))

	if err := w.ws.WriteMessage(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_Availability{Availability: resp}}); err != nil {
		w.logger.Warn("Failed to answer availability", slog.Any("error", err))
	}
}

func (w *Worker) startJob(ctx context.Context, a *livekit.JobAssignment) {
	j := a.GetJob()
	if j == nil || j.GetId() == "" {
		w.logger.Warn("Assignment without job ignored")
		return
	}

	url := w.cfg.URL
	if a.GetUrl() != "" {
		url = a.GetUrl()
	}
	info := job.Info{
		ID:       j.GetId(),
		RoomName: j.GetRoom().GetName(),
		URL:      url,
		Token:    a.GetToken(),
		Metadata: j.GetMetadata(),
	}
	if identity := j.GetState().GetParticipantIdentity(); identity != "" {
		info.AgentIdentity = &identity
	}

	// jobs end through Shutdown, so hooks run even when the worker stops
	jc := job.NewContext(context.WithoutCancel(ctx), info, w.cfg.Connector, w.logger)

	w.mu.Lock()
	w.jobs[info.ID] = jc
	w.mu.Unlock()
	metrics.Add("jobs_started", 1)

	w.logger.Info("Job assigned", slog.String("job_id", info.ID), slog.String("room", info.RoomName))
	w.updateJob(info.ID, livekit.JobStatus_JS_RUNNING, "")

	w.jobWG.Add(1)
	go func() {
		defer w.jobWG.Done()

		err := RunJob(jc, w.cfg.Entrypoint)

		w.mu.Lock()
		delete(w.jobs, info.ID)
		w.mu.Unlock()

		if err != nil {
			metrics.Add("jobs_failed", 1)
			w.updateJob(info.ID, livekit.JobStatus_JS_FAILED, err.Error())
			return
		}
		w.updateJob(info.ID, livekit.JobStatus_JS_SUCCESS, "")
	}()
}

func (w *Worker) terminateJob(id string) {
	w.mu.RLock()
	jc, ok := w.jobs[id]
	w.mu.RUnlock()
	if !ok {
		w.logger.Debug("Termination for unknown job", slog.String("job_id", id))
		return
	}
	go jc.Shutdown("job terminated")
}

func (w *Worker) updateJob(id string, status livekit.JobStatus, errText string) {
	err := w.ws.WriteMessage(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateJob{
		UpdateJob: &livekit.UpdateJobStatus{JobId: id, Status: status, Error: errText},
	}})
	if err != nil {
		w.logger.Warn("Failed to report job status",
			slog.String("job_id", id),
			slog.String("status", status.String()),
			slog.Any("error", err))
	}
}

func (w *Worker) reportStatus(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.Registered() {
				continue
			}
			active := w.ActiveJobs()
			status := livekit.WorkerStatus_WS_AVAILABLE
			if active >= w.cfg.MaxJobs {
				status = livekit.WorkerStatus_WS_FULL
			}
			err := w.ws.WriteMessage(&livekit.WorkerMessage{Message: &livekit.WorkerMessage_UpdateWorker{
				UpdateWorker: &livekit.UpdateWorkerStatus{
					Status:   status.Enum(),
					Load:     float32(active) / float32(w.cfg.MaxJobs),
					JobCount: uint32(active),
				},
			}})
			if err != nil {
				w.logger.Debug("Failed to report worker status", slog.Any("error", err))
			}
		}
	}
}

func (w *Worker) token() (string, error) {
	identity := w.cfg.AgentName
	if identity == "" {
		identity = "voice-agent-worker"
	}
	token, err := auth.NewAccessToken(w.cfg.APIKey, w.cfg.APISecret).
		SetIdentity(identity).
		SetValidFor(tokenValidFor).
		SetVideoGrant(&auth.VideoGrant{Agent: true}).
		ToJWT()
	if err != nil {
		return "", fmt.Errorf("create worker token: %w", err)
	}
	return token, nil
}

func (w *Worker) backoffDelay(ctx context.Context) error {
	w.mu.Lock()
	w.backoffAttempt++
	attempt := w.backoffAttempt
	w.mu.Unlock()

	delay := backoff(attempt)
	w.logger.Info("Reconnecting with backoff",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoff is 1s, 2s, 4s, 8s, then 10s.
func backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	return min(d, maxBackoff)
}

func (w *Worker) setRegistered(registered bool, workerID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if registered {
		w.backoffAttempt = 0
	}
	w.registered = registered
	w.workerID = workerID
}

// Registered reports whether the server has accepted the registration.
func (w *Worker) Registered() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.registered
}

func (w *Worker) WorkerID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.workerID
}

func (w *Worker) ActiveJobs() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.jobs)
}

func (w *Worker) shutdown() {
	w.mu.RLock()
	jobs := make([]*job.Context, 0, len(w.jobs))
	for _, jc := range w.jobs {
		jobs = append(jobs, jc)
	}
	w.mu.RUnlock()

	if len(jobs) > 0 {
		w.logger.Info("Shutting down active jobs", slog.Int("count", len(jobs)))
	}
	for _, jc := range jobs {
		go jc.Shutdown("worker shutdown")
	}
	w.jobWG.Wait()
	w.logger.Info("Worker shutdown complete")
}
