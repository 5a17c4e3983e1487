// Package session runs a voice conversation in a room: speech detection,
// recognition, end-of-turn detection, chat completion and synthesis, driven
// by a state machine that moves through Idle → Listening → Thinking → Speaking.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/job"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
	"github.com/chriscow/livekit-voice-agent/pkg/turn"
	"github.com/chriscow/livekit-voice-agent/pkg/voice"
)

const (
	DefaultMinEndpointingDelay      = 500 * time.Millisecond
	DefaultMaxEndpointingDelay      = 6 * time.Second
	DefaultFalseInterruptionTimeout = 2 * time.Second

	// rate of the audio handed to VAD and STT
	inputSampleRate = 16000
	// audio kept from before speech is detected, replayed into a new STT stream
	prerollFrames = 50
	// how far playout may run ahead of real time
	playoutLead = 100 * time.Millisecond
)

var (
	ErrAlreadyStarted   = errors.New("session already started")
	ErrClosed           = errors.New("session closed")
	ErrMissingComponent = errors.New("session component missing")
)

// State is the conversation state.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateListening:
		return "Listening"
	case StateThinking:
		return "Thinking"
	case StateSpeaking:
		return "Speaking"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Options are the pipeline slots and the turn-taking policy.
type Options struct {
	STT          stt.STT
	LLM          llm.LLM
	TTS          tts.TTS
	VAD          vad.VAD
	TurnDetector turn.Detector // optional

	// PreemptiveGeneration starts the chat completion as soon as a final
	// transcript is available, before the end of turn is confirmed.
	PreemptiveGeneration bool

	// ResumeFalseInterruption resumes a paused reply when the user stopped
	// speaking without saying anything recognizable.
	ResumeFalseInterruption  bool
	FalseInterruptionTimeout time.Duration

	MinEndpointingDelay time.Duration
	MaxEndpointingDelay time.Duration

	// Language is the fallback for recognition and turn detection when the
	// recognizer does not report one.
	Language string

	Logger *slog.Logger
}

// RoomInputOptions controls how the session binds to the room.
type RoomInputOptions struct {
	AudioEnabled      bool
	CloseOnDisconnect bool
}

// Agent is the persona driving the conversation.
type Agent interface {
	Instructions() string
	AllowInterruptions() bool
	// OnEnter runs once the session is live.
	OnEnter(ctx context.Context, s *AgentSession) error
}

// MediaRoom is implemented by rooms that carry audio (job.LiveKitRoom).
type MediaRoom interface {
	AudioInput() <-chan rtc.AudioFrame
	PublishAudio(ctx context.Context, frame rtc.AudioFrame) error
	ClearAudio()
}

// AgentSession wires the pipeline to a room. Create with New, then Start once.
type AgentSession struct {
	opts   Options
	logger *slog.Logger
	chat   *llm.ChatContext
	gate   *voice.AudioGate
	state  atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
	agent   Agent
	media   MediaRoom
	last    *SpeechHandle // most recent reply, queued or playing
	current *SpeechHandle // reply whose audio is playing

	sttMu   sync.Mutex
	stream  stt.Stream
	preroll []rtc.AudioFrame

	userSpeaking atomic.Bool
	transcripts  chan transcript
	decisions    chan decision
}

// New validates the slots and applies defaults. Nothing runs until Start.
func New(opts Options) (*AgentSession, error) {
	switch {
	case opts.STT == nil:
		return nil, fmt.Errorf("%w: STT", ErrMissingComponent)
	case opts.LLM == nil:
		return nil, fmt.Errorf("%w: LLM", ErrMissingComponent)
	case opts.TTS == nil:
		return nil, fmt.Errorf("%w: TTS", ErrMissingComponent)
	case opts.VAD == nil:
		return nil, fmt.Errorf("%w: VAD", ErrMissingComponent)
	}
	if opts.MinEndpointingDelay <= 0 {
		opts.MinEndpointingDelay = DefaultMinEndpointingDelay
	}
	if opts.MaxEndpointingDelay < opts.MinEndpointingDelay {
		opts.MaxEndpointingDelay = max(DefaultMaxEndpointingDelay, opts.MinEndpointingDelay)
	}
	if opts.FalseInterruptionTimeout <= 0 {
		opts.FalseInterruptionTimeout = DefaultFalseInterruptionTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &AgentSession{
		opts:        opts,
		logger:      opts.Logger.With(slog.String("component", "session")),
		chat:        llm.NewChatContext(),
		gate:        voice.NewAudioGate(true),
		transcripts: make(chan transcript),
		decisions:   make(chan decision),
	}
	s.setState(StateIdle)
	return s, nil
}

// Options returns the configuration the session was built with, defaults applied.
func (s *AgentSession) Options() Options {
	return s.opts
}

// Start binds the session to room and runs agent.OnEnter. It may be called once.
// Audio input is read only when opts.AudioEnabled is set and the room carries media.
func (s *AgentSession) Start(ctx context.Context, agent Agent, room job.Room, opts RoomInputOptions) error {
	if agent == nil {
		return errors.New("agent is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.agent = agent
	s.ctx, s.cancel = context.WithCancel(ctx)
	if media, ok := room.(MediaRoom); ok {
		s.media = media
	}
	s.gate.SetAllowInterruptions(agent.AllowInterruptions())

	var vadEvents <-chan vad.Event
	if opts.AudioEnabled && s.media != nil {
		vadIn := make(chan rtc.AudioFrame, 100)
		events, err := s.opts.VAD.Detect(s.ctx, vadIn)
		if err != nil {
			s.cancel()
			s.mu.Unlock()
			return fmt.Errorf("start VAD: %w", err)
		}
		vadEvents = events
		s.wg.Add(1)
		go s.pumpAudio(s.media.AudioInput(), vadIn)
	} else if opts.AudioEnabled {
		s.logger.Warn("Room has no audio transport, session runs without input")
	}

	s.wg.Add(1)
	go s.run(vadEvents)
	s.mu.Unlock()

	if opts.CloseOnDisconnect && room != nil {
		room.OnDisconnected(func() {
			s.logger.Info("Room disconnected, closing session")
			go s.Close()
		})
	}

	s.logger.Info("Agent session started",
		slog.Bool("audio_enabled", opts.AudioEnabled),
		slog.Bool("allow_interruptions", agent.AllowInterruptions()),
		slog.Bool("preemptive_generation", s.opts.PreemptiveGeneration))

	if err := agent.OnEnter(s.ctx, s); err != nil {
		return fmt.Errorf("agent on enter: %w", err)
	}
	return nil
}

// Close stops every goroutine and interrupts any reply. It is safe to call more than once.
func (s *AgentSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream := s.detachSTT(); stream != nil {
		stream.CloseSend()
	}
	s.wg.Wait()
	s.gate.SetSpeaking(false)
	s.setState(StateIdle)
	s.logger.Info("Agent session closed")
	return nil
}

// State returns the current conversation state.
func (s *AgentSession) State() State {
	return State(s.state.Load())
}

// History returns a copy of the conversation so far.
func (s *AgentSession) History() []llm.Message {
	return s.chat.Messages()
}

func (s *AgentSession) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.logger.Debug("Session state changed",
			slog.String("from", old.String()),
			slog.String("to", st.String()))
	}
}

// settle picks the resting state after a reply ends.
func (s *AgentSession) settle() {
	s.mu.Lock()
	speaking := s.current != nil
	s.mu.Unlock()
	switch {
	case speaking:
		s.setState(StateSpeaking)
	case s.userSpeaking.Load():
		s.setState(StateListening)
	default:
		s.setState(StateIdle)
	}
}

// spawn runs fn on the session wait group unless the session is closed.
func (s *AgentSession) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}
