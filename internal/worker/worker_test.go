package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"github.com/matryer/is"
	"google.golang.org/protobuf/proto"

	"github.com/chriscow/livekit-voice-agent/pkg/job"
)

// fakeServer speaks the server side of the agent protocol.
type fakeServer struct {
	t    *testing.T
	srv  *httptest.Server
	auth chan string
	in   chan *livekit.WorkerMessage
	out  chan *livekit.ServerMessage
	drop chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{
		t:    t,
		auth: make(chan string, 4),
		in:   make(chan *livekit.WorkerMessage, 32),
		out:  make(chan *livekit.ServerMessage, 32),
		drop: make(chan struct{}, 1),
	}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agent" {
			http.NotFound(w, r)
			return
		}
		fs.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				msg := &livekit.WorkerMessage{}
				if err := proto.Unmarshal(data, msg); err != nil {
					continue
				}
				select {
				case fs.in <- msg:
				default:
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case <-fs.drop:
				return
			case msg := <-fs.out:
				data, _ := proto.Marshal(msg)
				if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) send(msg *livekit.ServerMessage) {
	fs.out <- msg
}

// next returns the next worker message that is not a periodic status update.
func (fs *fakeServer) next() *livekit.WorkerMessage {
	fs.t.Helper()
	for {
		select {
		case msg := <-fs.in:
			if _, ok := msg.Message.(*livekit.WorkerMessage_UpdateWorker); ok {
				continue
			}
			return msg
		case <-time.After(5 * time.Second):
			fs.t.Fatal("timed out waiting for worker message")
			return nil
		}
	}
}

func (fs *fakeServer) nextJobStatus() *livekit.UpdateJobStatus {
	fs.t.Helper()
	msg := fs.next()
	u, ok := msg.Message.(*livekit.WorkerMessage_UpdateJob)
	if !ok {
		fs.t.Fatalf("expected job status update, got %T", msg.Message)
	}
	return u.UpdateJob
}

type nopConnector struct{}

func (nopConnector) Connect(ctx context.Context, info job.Info, subscribe job.AutoSubscribe) (job.Room, error) {
	return nil, errors.New("no rooms in tests")
}

func startWorker(t *testing.T, cfg Config) (*Worker, context.CancelFunc, <-chan error) {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey, cfg.APISecret = "devkey", "devsecret-devsecret-devsecret-00"
	}
	if cfg.Connector == nil {
		cfg.Connector = nopConnector{}
	}
	w, err := New(cfg, slog.Default())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- w.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(10 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return w, cancel, done
}

func TestNew(t *testing.T) {
	entry := func(context.Context, *job.Context) error { return nil }

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{URL: "wss://example.livekit.cloud", Entrypoint: entry}},
		{name: "http url", cfg: Config{URL: "http://localhost:7880", Entrypoint: entry}},
		{name: "no entrypoint", cfg: Config{URL: "wss://example.livekit.cloud"}, wantErr: true},
		{name: "bad scheme", cfg: Config{URL: "ftp://example.com", Entrypoint: entry}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := New(tt.cfg, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if w.cfg.MaxJobs != DefaultMaxJobs {
				t.Errorf("MaxJobs = %d, want default %d", w.cfg.MaxJobs, DefaultMaxJobs)
			}
			if w.Registered() {
				t.Error("new worker should not be registered")
			}
		})
	}
}

func TestAgentURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "wss://example.livekit.cloud", want: "wss://example.livekit.cloud/agent"},
		{in: "https://example.livekit.cloud/", want: "wss://example.livekit.cloud/agent"},
		{in: "http://localhost:7880", want: "ws://localhost:7880/agent"},
		{in: "ws://localhost:7880/base", want: "ws://localhost:7880/base/agent"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := AgentURL(tt.in)
			if err != nil {
				t.Fatalf("AgentURL(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("AgentURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, d := range want {
		if got := backoff(i + 1); got != d {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, d)
		}
	}
}

func TestWorker_Protocol(t *testing.T) {
	is := is.New(t)

	fs := newFakeServer(t)

	infos := make(chan job.Info, 2)
	entry := func(ctx context.Context, jc *job.Context) error {
		infos <- jc.Info()
		if jc.Info().RoomName == "broken-room" {
			return errors.New("connect failed")
		}
		return nil
	}

	w, _, _ := startWorker(t, Config{
		URL:            fs.url(),
		AgentName:      "voice",
		Version:        "1.2.3",
		MaxJobs:        2,
		Entrypoint:     entry,
		StatusInterval: time.Hour,
	})

	is.True(strings.HasPrefix(<-fs.auth, "Bearer ")) // worker token in the header

	reg, ok := fs.next().Message.(*livekit.WorkerMessage_Register)
	is.True(ok) // first message registers
	is.Equal(reg.Register.GetAgentName(), "voice")
	is.Equal(reg.Register.GetVersion(), "1.2.3")
	is.Equal(reg.Register.GetType(), livekit.JobType_JT_ROOM)

	fs.send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Register{
		Register: &livekit.RegisterWorkerResponse{WorkerId: "W_1"},
	}})

	roomJob := &livekit.Job{Id: "J_1", Room: &livekit.Room{Name: "lobby"}}
	fs.send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Availability{
		Availability: &livekit.AvailabilityRequest{Job: roomJob},
	}})

	avail, ok := fs.next().Message.(*livekit.WorkerMessage_Availability)
	is.True(ok)
	is.Equal(avail.Availability.GetJobId(), "J_1")
	is.True(avail.Availability.GetAvailable())
	is.True(strings.HasPrefix(avail.Availability.GetParticipantIdentity(), "agent-voice-"))
	is.True(w.Registered())
	is.Equal(w.WorkerID(), "W_1")

	fs.send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Assignment{
		Assignment: &livekit.JobAssignment{Job: roomJob, Token: "room-token"},
	}})

	st := fs.nextJobStatus()
	is.Equal(st.GetJobId(), "J_1")
	is.Equal(st.GetStatus(), livekit.JobStatus_JS_RUNNING)

	info := <-infos
	is.Equal(info.RoomName, "lobby")
	is.Equal(info.Token, "room-token")
	is.Equal(info.URL, fs.url()) // no assignment URL: worker URL
	is.Equal(w.ActiveJobs(), 1)  // entrypoint returned, job still running

	fs.send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Termination{
		Termination: &livekit.JobTermination{JobId: "J_1"},
	}})

	st = fs.nextJobStatus()
	is.Equal(st.GetStatus(), livekit.JobStatus_JS_SUCCESS)

	broken := &livekit.Job{Id: "J_2", Room: &livekit.Room{Name: "broken-room"}}
	fs.send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Assignment{
		Assignment: &livekit.JobAssignment{Job: broken, Token: "t"},
	}})

	is.Equal(fs.nextJobStatus().GetStatus(), livekit.JobStatus_JS_RUNNING)
	st = fs.nextJobStatus()
	is.Equal(st.GetStatus(), livekit.JobStatus_JS_FAILED)
	is.True(strings.Contains(st.GetError(), "connect failed")) // error text reported
}

func TestWorker_FullWhenAtCapacity(t *testing.T) {
	is := is.New(t)

	fs := newFakeServer(t)
	_, _, _ = startWorker(t, Config{
		URL:            fs.url(),
		MaxJobs:        1,
		Entrypoint:     func(context.Context, *job.Context) error { return nil },
		StatusInterval: 20 * time.Millisecond,
	})

	<-fs.auth
	fs.next() // register
	fs.send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Register{
		Register: &livekit.RegisterWorkerResponse{WorkerId: "W_1"},
	}})

	j := &livekit.Job{Id: "J_1", Room: &livekit.Room{Name: "lobby"}}
	fs.send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Assignment{
		Assignment: &livekit.JobAssignment{Job: j, Token: "t"},
	}})
	is.Equal(fs.nextJobStatus().GetStatus(), livekit.JobStatus_JS_RUNNING)

	fs.send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Availability{
		Availability: &livekit.AvailabilityRequest{Job: &livekit.Job{Id: "J_2"}},
	}})
	avail := fs.next().Message.(*livekit.WorkerMessage_Availability)
	is.True(!avail.Availability.GetAvailable()) // no capacity left

	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-fs.in:
			if u, ok := msg.Message.(*livekit.WorkerMessage_UpdateWorker); ok {
				is.Equal(u.UpdateWorker.GetStatus(), livekit.WorkerStatus_WS_FULL)
				is.Equal(u.UpdateWorker.GetJobCount(), uint32(1))
				return
			}
		case <-deadline:
			t.Fatal("no worker status update")
		}
	}
}

func TestWorker_ShutdownEndsJobs(t *testing.T) {
	is := is.New(t)

	fs := newFakeServer(t)
	reasons := make(chan string, 1)
	ready := make(chan struct{})
	entry := func(ctx context.Context, jc *job.Context) error {
		jc.AddShutdownCallback(func(reason string) { reasons <- reason })
		close(ready)
		return nil
	}
	_, cancel, done := startWorker(t, Config{URL: fs.url(), Entrypoint: entry, StatusInterval: time.Hour})

	<-fs.auth
	fs.next()
	fs.send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Assignment{
		Assignment: &livekit.JobAssignment{Job: &livekit.Job{Id: "J_1"}, Token: "t"},
	}})
	is.Equal(fs.nextJobStatus().GetStatus(), livekit.JobStatus_JS_RUNNING)
	<-ready

	cancel()
	select {
	case err := <-done:
		is.NoErr(err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}
	is.Equal(<-reasons, "worker shutdown")
}

func TestWorker_Reconnects(t *testing.T) {
	fs := newFakeServer(t)
	w, _, _ := startWorker(t, Config{
		URL:            fs.url(),
		Entrypoint:     func(context.Context, *job.Context) error { return nil },
		StatusInterval: time.Hour,
	})

	<-fs.auth
	fs.next()
	fs.send(&livekit.ServerMessage{Message: &livekit.ServerMessage_Register{
		Register: &livekit.RegisterWorkerResponse{WorkerId: "W_1"},
	}})

	deadline := time.Now().Add(5 * time.Second)
	for !w.Registered() {
		if time.Now().After(deadline) {
			t.Fatal("worker never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	fs.drop <- struct{}{}

	select {
	case <-fs.auth:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not reconnect after one backoff step")
	}
}

func TestHealthHandler(t *testing.T) {
	is := is.New(t)

	w, err := New(Config{URL: "wss://example.livekit.cloud", Entrypoint: func(context.Context, *job.Context) error { return nil }}, nil)
	is.NoErr(err)
	h := w.HealthHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	is.Equal(rec.Code, http.StatusServiceUnavailable) // not registered yet

	w.setRegistered(true, "W_1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	is.Equal(rec.Code, http.StatusOK)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	is.Equal(rec.Code, http.StatusOK)
	is.True(strings.Contains(rec.Body.String(), `"worker"`)) // expvar map published
}
