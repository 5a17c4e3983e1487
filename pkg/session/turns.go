package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
	"github.com/chriscow/livekit-voice-agent/pkg/turn"
)

// transcript is the recognized text of one speech segment.
type transcript struct {
	text     string
	language string
}

type decision struct {
	seq uint64
	turn.Decision
	err error
}

// preemptive is a chat completion started before the end of turn was confirmed.
type preemptive struct {
	userText   string
	historyLen int
	cancel     context.CancelFunc
	done       chan struct{}
	text       string
	err        error
}

// turnState is owned by the run loop.
type turnState struct {
	pending  []string // final transcripts of the user turn not yet committed
	language string
	seq      uint64 // invalidates decisions from earlier segments

	endpoint *time.Timer
	falseInt *time.Timer

	interrupted *SpeechHandle // paused by user speech, awaiting a transcript
	pre         *preemptive
}

func (t *turnState) pendingText() string {
	return strings.Join(t.pending, " ")
}

func stopTimer(tm **time.Timer) {
	if *tm != nil {
		(*tm).Stop()
		*tm = nil
	}
}

func timerC(tm *time.Timer) <-chan time.Time {
	if tm == nil {
		return nil
	}
	return tm.C
}

func (s *AgentSession) run(vadEvents <-chan vad.Event) {
	defer s.wg.Done()

	var t turnState
	defer func() {
		stopTimer(&t.endpoint)
		stopTimer(&t.falseInt)
		s.dropPreemptive(&t)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-vadEvents:
			if !ok {
				vadEvents = nil
				continue
			}
			switch ev.Type {
			case vad.EventSpeechStart:
				s.onSpeechStart(&t)
			case vad.EventSpeechEnd:
				s.onSpeechEnd(&t, ev)
			case vad.EventError:
				s.logger.Warn("VAD error", slog.Any("error", ev.Error))
			}
		case tr := <-s.transcripts:
			s.onTranscript(&t, tr)
		case d := <-s.decisions:
			s.onDecision(&t, d)
		case <-timerC(t.endpoint):
			t.endpoint = nil
			s.commitTurn(&t)
		case <-timerC(t.falseInt):
			t.falseInt = nil
			s.onFalseInterruption(&t)
		}
	}
}

func (s *AgentSession) onSpeechStart(t *turnState) {
	s.userSpeaking.Store(true)
	t.seq++
	stopTimer(&t.endpoint)
	stopTimer(&t.falseInt)
	s.dropPreemptive(t)

	s.mu.Lock()
	agent, current, last := s.agent, s.current, s.last
	s.mu.Unlock()

	if agent.AllowInterruptions() {
		switch {
		case current != nil && current.isPlaying():
			if current.pause() {
				if s.media != nil {
					s.media.ClearAudio()
				}
				t.interrupted = current
				s.logger.Info("User speech paused agent reply", slog.Uint64("speech_id", current.id))
			}
		case last != nil && !last.isPlaying():
			select {
			case <-last.done:
			default:
				// not audible yet; the user is still talking
				last.Interrupt()
			}
		}
	}

	s.openSTT()
	if s.State() != StateSpeaking {
		s.setState(StateListening)
	}
}

func (s *AgentSession) onSpeechEnd(t *turnState, ev vad.Event) {
	s.userSpeaking.Store(false)
	s.logger.Debug("User speech ended", slog.Duration("speech_duration", ev.SpeechDuration))

	if stream := s.detachSTT(); stream != nil {
		if err := stream.CloseSend(); err != nil {
			s.logger.Warn("Failed to close STT stream", slog.Any("error", err))
		}
	} else if len(t.pending) == 0 && s.State() == StateListening {
		s.setState(StateIdle)
	}
	if t.interrupted != nil {
		t.falseInt = time.NewTimer(s.opts.FalseInterruptionTimeout)
	}
}

func (s *AgentSession) onTranscript(t *turnState, tr transcript) {
	if tr.text == "" {
		if t.interrupted == nil && len(t.pending) == 0 && !s.userSpeaking.Load() && s.State() == StateListening {
			s.setState(StateIdle)
		}
		return
	}

	if h := t.interrupted; h != nil {
		t.interrupted = nil
		stopTimer(&t.falseInt)
		h.Interrupt()
	}

	t.pending = append(t.pending, tr.text)
	if tr.language != "" {
		t.language = tr.language
	}
	s.logger.Info("User transcript", slog.String("text", tr.text), slog.String("language", t.language))

	if s.userSpeaking.Load() {
		// a new segment is already open; decide when it ends
		return
	}

	t.seq++
	seq := t.seq
	userText := t.pendingText()

	if s.opts.PreemptiveGeneration {
		s.startPreemptive(t, userText)
	}

	lang := t.language
	if lang == "" {
		lang = s.opts.Language
	}
	in := turn.Input{
		Messages: append(s.chat.Messages(), llm.Message{Role: llm.RoleUser, Content: userText}),
		Language: lang,
	}
	s.spawn(func() {
		d, err := turn.Decide(s.ctx, s.opts.TurnDetector, in)
		select {
		case s.decisions <- decision{seq: seq, Decision: d, err: err}:
		case <-s.ctx.Done():
		}
	})
}

func (s *AgentSession) onDecision(t *turnState, d decision) {
	if d.seq != t.seq || s.userSpeaking.Load() || len(t.pending) == 0 {
		return
	}
	if d.err != nil {
		s.logger.Warn("Turn detection failed, ending turn", slog.Any("error", d.err))
	}

	delay := s.opts.MaxEndpointingDelay
	if d.EndOfTurn {
		delay = s.opts.MinEndpointingDelay
	}
	s.logger.Debug("End of turn decision",
		slog.Bool("end_of_turn", d.EndOfTurn),
		slog.Float64("probability", d.Probability),
		slog.Float64("threshold", d.Threshold),
		slog.Duration("delay", delay))

	stopTimer(&t.endpoint)
	t.endpoint = time.NewTimer(delay)
}

// commitTurn adds the user message to the history and starts the reply.
func (s *AgentSession) commitTurn(t *turnState) {
	text := t.pendingText()
	if text == "" {
		return
	}
	t.pending = nil

	pre := t.pre
	t.pre = nil
	if pre != nil && (pre.userText != text || pre.historyLen != s.chat.Len()) {
		pre.cancel()
		pre = nil
	}

	s.chat.Append(llm.Message{Role: llm.RoleUser, Content: text})
	s.logger.Info("User turn committed", slog.String("text", text), slog.Bool("preemptive", pre != nil))

	source := func(ctx context.Context) (string, error) {
		return s.complete(ctx, "", "")
	}
	if pre != nil {
		source = func(ctx context.Context) (string, error) {
			defer pre.cancel()
			select {
			case <-pre.done:
				return pre.text, pre.err
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	if _, err := s.enqueue(s.ctx, source); err != nil && pre != nil {
		pre.cancel()
	}
}

func (s *AgentSession) onFalseInterruption(t *turnState) {
	h := t.interrupted
	t.interrupted = nil
	if h == nil {
		return
	}
	select {
	case <-h.done:
		return
	default:
	}

	if s.opts.ResumeFalseInterruption {
		s.logger.Info("False interruption, resuming agent reply", slog.Uint64("speech_id", h.id))
		h.resume()
		return
	}
	h.Interrupt()
}

func (s *AgentSession) startPreemptive(t *turnState, userText string) {
	s.dropPreemptive(t)

	ctx, cancel := context.WithCancel(s.ctx)
	p := &preemptive{
		userText:   userText,
		historyLen: s.chat.Len(),
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	if !s.spawn(func() {
		defer close(p.done)
		p.text, p.err = s.complete(ctx, "", userText)
	}) {
		cancel()
		return
	}
	t.pre = p
}

func (s *AgentSession) dropPreemptive(t *turnState) {
	if t.pre != nil {
		t.pre.cancel()
		t.pre = nil
	}
}

// pumpAudio moves room audio to VAD and, while a segment is open, to STT.
func (s *AgentSession) pumpAudio(in <-chan rtc.AudioFrame, vadIn chan<- rtc.AudioFrame) {
	defer s.wg.Done()
	defer close(vadIn)

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			if s.gate.Discard() {
				continue
			}
			frame = rtc.ResampleFrame(frame, inputSampleRate)
			s.feedSTT(frame)

			select {
			case vadIn <- frame:
			case <-s.ctx.Done():
				return
			}
		}
	}
}

func (s *AgentSession) feedSTT(frame rtc.AudioFrame) {
	s.sttMu.Lock()
	defer s.sttMu.Unlock()

	s.preroll = append(s.preroll, frame)
	if len(s.preroll) > prerollFrames {
		s.preroll = s.preroll[len(s.preroll)-prerollFrames:]
	}
	if s.stream != nil {
		if err := s.stream.Push(frame); err != nil {
			s.logger.Debug("STT push failed", slog.Any("error", err))
		}
	}
}

// openSTT starts a recognition stream for a new speech segment, primed with
// the audio captured just before the segment was detected.
func (s *AgentSession) openSTT() {
	s.sttMu.Lock()
	open := s.stream != nil
	s.sttMu.Unlock()
	if open {
		return
	}

	stream, err := s.opts.STT.NewStream(s.ctx, stt.StreamConfig{
		SampleRate:  inputSampleRate,
		NumChannels: 1,
		Language:    s.opts.Language,
	})
	if err != nil {
		s.logger.Error("Failed to open STT stream", slog.Any("error", err))
		return
	}

	s.sttMu.Lock()
	for _, f := range s.preroll {
		if err := stream.Push(f); err != nil {
			break
		}
	}
	s.preroll = s.preroll[:0]
	s.stream = stream
	s.sttMu.Unlock()

	s.spawn(func() { s.collect(stream) })
}

func (s *AgentSession) detachSTT() stt.Stream {
	s.sttMu.Lock()
	defer s.sttMu.Unlock()
	stream := s.stream
	s.stream = nil
	return stream
}

// collect gathers the final transcripts of one stream and reports them when the stream ends.
func (s *AgentSession) collect(stream stt.Stream) {
	var finals []string
	var language string
	events := stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				select {
				case s.transcripts <- transcript{text: strings.Join(finals, " "), language: language}:
				case <-s.ctx.Done():
				}
				return
			}
			switch ev.Type {
			case stt.SpeechEventFinal:
				if text := strings.TrimSpace(ev.Text); text != "" {
					finals = append(finals, text)
				}
				if ev.Language != "" {
					language = ev.Language
				}
			case stt.SpeechEventError:
				s.logger.Warn("STT error", slog.Any("error", ev.Error))
			}
		}
	}
}
