package job

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// Context is the per-job handle handed to an entrypoint. It carries the job
// identity, the room once connected, the log context and the shutdown hooks.
// The embedded context is cancelled when Shutdown completes.
type Context struct {
	info      Info
	connector Connector
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	room      Room
	logFields map[string]string

	shutdownMu    sync.Mutex
	shutdownHooks []func(string)
	shutdownDone  bool
}

// NewContext creates a job context bound to parent. The connector is used by Connect.
func NewContext(parent context.Context, info Info, connector Connector, logger *slog.Logger) *Context {
	if info.ID == "" {
		info.ID = generateJobID()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)

	return &Context{
		info:      info,
		connector: connector,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		logFields: make(map[string]string),
	}
}

// Info returns the job assignment.
func (c *Context) Info() Info {
	return c.info
}

// ID returns the job identifier.
func (c *Context) ID() string {
	return c.info.ID
}

// Context returns the job's context.Context, cancelled on shutdown.
func (c *Context) Context() context.Context {
	return c.ctx
}

// Done returns a channel that is closed when the job context is cancelled.
func (c *Context) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err returns the error associated with the context cancellation.
func (c *Context) Err() error {
	return c.ctx.Err()
}

// Connect joins the assigned room. It may succeed only once per job.
func (c *Context) Connect(ctx context.Context, subscribe AutoSubscribe) error {
	c.mu.Lock()
	if c.room != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	if c.connector == nil {
		return ErrNoConnector
	}

	room, err := c.connector.Connect(ctx, c.info, subscribe)
	if err != nil {
		return fmt.Errorf("connect to room %q: %w", c.info.RoomName, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != nil {
		room.Disconnect()
		return ErrAlreadyConnected
	}
	c.room = room

	// the room ending ends the job; the job ending leaves the room
	room.OnDisconnected(func() {
		go c.Shutdown("room disconnected")
	})
	c.AddShutdownCallback(func(string) {
		room.Disconnect()
	})

	c.logger.Debug("Job connected to room",
		slog.String("job_id", c.info.ID),
		slog.String("room", room.Name()),
		slog.String("auto_subscribe", subscribe.String()))
	return nil
}

// Connected reports whether Connect has succeeded.
func (c *Context) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room != nil
}

// Room returns the connected room, or nil before Connect.
func (c *Context) Room() Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// RoomName prefers the connected room's name, then the assignment, then FallbackRoomName.
func (c *Context) RoomName() string {
	if room := c.Room(); room != nil && room.Name() != "" {
		return room.Name()
	}
	if c.info.RoomName != "" {
		return c.info.RoomName
	}
	return FallbackRoomName
}

// AgentIdentity resolves the agent's identity once: the assignment's identity,
// then the local participant's, then FallbackAgentIdentity.
func (c *Context) AgentIdentity() string {
	if c.info.AgentIdentity != nil && *c.info.AgentIdentity != "" {
		return *c.info.AgentIdentity
	}
	if room := c.Room(); room != nil {
		if lp := room.LocalParticipant(); lp != nil && lp.Identity() != "" {
			return lp.Identity()
		}
	}
	return FallbackAgentIdentity
}

// SetLogContextFields replaces the fields attached to every record logged through Logger.
func (c *Context) SetLogContextFields(fields map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logFields = make(map[string]string, len(fields))
	for k, v := range fields {
		c.logFields[k] = v
	}
}

// LogContextFields returns a copy of the current log context.
func (c *Context) LogContextFields() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.logFields))
	for k, v := range c.logFields {
		out[k] = v
	}
	return out
}

// Logger returns the job logger with the log context fields attached.
func (c *Context) Logger() *slog.Logger {
	fields := c.LogContextFields()
	if len(fields) == 0 {
		return c.logger
	}
	args := make([]any, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		args = append(args, slog.String(k, fields[k]))
	}
	return c.logger.With(args...)
}

// AddShutdownCallback registers a callback run when the job shuts down.
// If the job has already shut down, the callback runs immediately.
func (c *Context) AddShutdownCallback(callback func(reason string)) {
	c.shutdownMu.Lock()
	if c.shutdownDone {
		c.shutdownMu.Unlock()
		go c.runHook(callback, "job already shut down")
		return
	}
	c.shutdownHooks = append(c.shutdownHooks, callback)
	c.shutdownMu.Unlock()
}

// Shutdown runs every shutdown callback once, waits up to ShutdownHookTimeout,
// then cancels the job context. Later calls are no-ops.
func (c *Context) Shutdown(reason string) {
	c.shutdownMu.Lock()
	if c.shutdownDone {
		c.shutdownMu.Unlock()
		return
	}
	c.shutdownDone = true
	hooks := c.shutdownHooks
	c.shutdownHooks = nil
	c.shutdownMu.Unlock()

	c.logger.Info("Job shutdown initiated",
		slog.String("job_id", c.info.ID),
		slog.String("reason", reason))

	var wg sync.WaitGroup
	for _, hook := range hooks {
		wg.Add(1)
		go func(h func(string)) {
			defer wg.Done()
			c.runHook(h, reason)
		}(hook)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(ShutdownHookTimeout)
	defer timer.Stop()

	select {
	case <-done:
		c.logger.Debug("All shutdown hooks completed", slog.String("job_id", c.info.ID))
	case <-timer.C:
		c.logger.Warn("Shutdown hooks timed out", slog.Duration("timeout", ShutdownHookTimeout))
	}

	c.cancel()
}

// IsShutdown returns true once Shutdown has been called.
func (c *Context) IsShutdown() bool {
	c.shutdownMu.Lock()
	defer c.shutdownMu.Unlock()
	return c.shutdownDone
}

func (c *Context) runHook(h func(string), reason string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Shutdown hook panicked", slog.Any("panic", r))
		}
	}()
	h(reason)
}

// String returns a string representation of the job for logging.
func (c *Context) String() string {
	status := "active"
	if c.IsShutdown() {
		status = "shutdown"
	}
	return fmt.Sprintf("Job{ID: %s, Room: %s, Status: %s}", c.info.ID, c.RoomName(), status)
}

// generateJobID creates a random job ID.
func generateJobID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("job_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("job_%x", bytes)
}
