package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// ErrInterrupted is returned by SpeechHandle.Wait for replies cut short.
var ErrInterrupted = errors.New("speech interrupted")

var speechIDs atomic.Uint64

// SpeechHandle tracks one reply from generation until its audio has played.
// Replies play in the order they were created.
type SpeechHandle struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	text        string
	err         error
	interrupted bool
	playing     bool
	paused      bool
	resumed     chan struct{}
}

func newSpeechHandle(parent context.Context) *SpeechHandle {
	ctx, cancel := context.WithCancel(parent)
	return &SpeechHandle{
		id:     speechIDs.Add(1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (h *SpeechHandle) ID() uint64 { return h.id }

// Done is closed when the reply has finished or was interrupted.
func (h *SpeechHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the reply ends. It returns ErrInterrupted for interrupted
// replies and the generation error for failed ones.
func (h *SpeechHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.interrupted {
		return ErrInterrupted
	}
	return h.err
}

// Text is the reply text once generated.
func (h *SpeechHandle) Text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.text
}

func (h *SpeechHandle) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// Interrupt stops the reply. Audio already played stays in the history.
func (h *SpeechHandle) Interrupt() {
	h.mu.Lock()
	select {
	case <-h.done:
	default:
		h.interrupted = true
	}
	h.mu.Unlock()
	h.cancel()
}

func (h *SpeechHandle) isPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing
}

func (h *SpeechHandle) pause() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.paused || !h.playing {
		return false
	}
	h.paused = true
	h.resumed = make(chan struct{})
	return true
}

func (h *SpeechHandle) resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.paused {
		h.paused = false
		close(h.resumed)
	}
}

func (h *SpeechHandle) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// waitUnpaused blocks while paused. wasPaused reports that playback stopped;
// ok is false when the reply was cancelled meanwhile.
func (h *SpeechHandle) waitUnpaused() (wasPaused, ok bool) {
	h.mu.Lock()
	if !h.paused {
		h.mu.Unlock()
		return false, true
	}
	ch := h.resumed
	h.mu.Unlock()

	select {
	case <-ch:
		return true, true
	case <-h.ctx.Done():
		return true, false
	}
}

// GenerateReply asks the LLM for the next assistant message and speaks it.
// instructions are added for this reply only and do not enter the history.
func (s *AgentSession) GenerateReply(ctx context.Context, instructions string) (*SpeechHandle, error) {
	return s.enqueue(ctx, func(ctx context.Context) (string, error) {
		return s.complete(ctx, instructions, "")
	})
}

// Say speaks text as the assistant without consulting the LLM.
func (s *AgentSession) Say(ctx context.Context, text string) (*SpeechHandle, error) {
	return s.enqueue(ctx, func(context.Context) (string, error) {
		return text, nil
	})
}

type replySource func(ctx context.Context) (string, error)

func (s *AgentSession) enqueue(ctx context.Context, source replySource) (*SpeechHandle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if !s.started {
		s.mu.Unlock()
		return nil, errors.New("session not started")
	}
	h := newSpeechHandle(s.ctx)
	prev := s.last
	s.last = h
	s.wg.Add(1)
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, h.Interrupt)
	go func() {
		defer s.wg.Done()
		defer stop()
		s.runSpeech(h, prev, source)
	}()
	return h, nil
}

// complete runs one chat turn: persona instructions, history, an optional
// pending user message and optional one-off instructions.
func (s *AgentSession) complete(ctx context.Context, instructions, pendingUser string) (string, error) {
	s.mu.Lock()
	agent := s.agent
	s.mu.Unlock()

	messages := []llm.Message{{Role: llm.RoleSystem, Content: agent.Instructions()}}
	messages = append(messages, s.chat.Messages()...)
	if pendingUser != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: pendingUser})
	}
	if instructions != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: instructions})
	}

	resp, err := s.opts.LLM.Chat(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

func (s *AgentSession) runSpeech(h *SpeechHandle, prev *SpeechHandle, source replySource) {
	defer close(h.done)
	defer h.cancel()

	if prev != nil {
		select {
		case <-prev.done:
		case <-h.ctx.Done():
			return
		}
	}

	s.setState(StateThinking)
	text, err := source(h.ctx)
	if err != nil {
		if h.ctx.Err() == nil {
			s.logger.Error("Reply generation failed", slog.Uint64("speech_id", h.id), slog.Any("error", err))
		}
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		s.settle()
		return
	}
	h.mu.Lock()
	h.text = text
	h.mu.Unlock()
	if text == "" || h.ctx.Err() != nil {
		s.settle()
		return
	}

	frames, err := s.opts.TTS.Synthesize(h.ctx, tts.SynthesizeRequest{
		Text:     text,
		Language: s.opts.Language,
		OnError: func(err error) {
			h.mu.Lock()
			h.err = err
			h.mu.Unlock()
		},
	})
	if err != nil {
		s.logger.Error("Speech synthesis failed", slog.Uint64("speech_id", h.id), slog.Any("error", err))
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		s.settle()
		return
	}

	s.mu.Lock()
	s.current = h
	s.mu.Unlock()
	h.mu.Lock()
	h.playing = true
	h.mu.Unlock()
	s.gate.SetSpeaking(true)
	s.setState(StateSpeaking)
	s.logger.Info("Agent speaking", slog.Uint64("speech_id", h.id), slog.String("text", text))

	s.play(h, frames)

	s.gate.SetSpeaking(false)
	s.mu.Lock()
	if s.current == h {
		s.current = nil
	}
	s.mu.Unlock()
	h.mu.Lock()
	h.playing = false
	interrupted := h.interrupted
	streamErr := h.err
	h.mu.Unlock()

	if streamErr != nil {
		s.logger.Error("Speech synthesis failed mid-stream", slog.Uint64("speech_id", h.id), slog.Any("error", streamErr))
		s.settle()
		return
	}
	s.chat.Append(llm.Message{Role: llm.RoleAssistant, Content: text, Interrupted: interrupted})
	if interrupted {
		s.logger.Info("Agent speech interrupted", slog.Uint64("speech_id", h.id))
	}
	s.settle()
}

// play paces frames to real time plus playoutLead and writes them to the room.
func (s *AgentSession) play(h *SpeechHandle, frames <-chan rtc.AudioFrame) {
	var start time.Time
	var played time.Duration

	for {
		var frame rtc.AudioFrame
		select {
		case <-h.ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			frame = f
		}

		for {
			wasPaused, ok := h.waitUnpaused()
			if !ok {
				return
			}
			if wasPaused || start.IsZero() {
				start = time.Now()
				played = 0
			}
			lead := played - time.Since(start)
			if lead <= playoutLead {
				break
			}
			select {
			case <-h.ctx.Done():
				return
			case <-time.After(lead - playoutLead):
			}
		}

		if s.media != nil {
			if err := s.media.PublishAudio(h.ctx, frame); err != nil {
				if h.ctx.Err() != nil {
					return
				}
				s.logger.Warn("Failed to publish agent audio", slog.Any("error", err))
			}
		}
		played += frame.Duration()
	}
}
