package inference

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	deepgramURL        = "wss://api.deepgram.com/v1/listen"
	deepgramSampleRate = 16000
	deepgramKeepAlive  = 5 * time.Second
	// how long CloseSend waits for the server to flush finals
	deepgramDrainTimeout = 5 * time.Second
)

var ErrStreamClosed = errors.New("stream closed")

// Deepgram is a streaming recognizer backed by the Deepgram listen API.
type Deepgram struct {
	model    string
	language string
	baseURL  string
	apiKey   string
	logger   *slog.Logger
}

func newDeepgram(cfg map[string]any) (any, error) {
	d := &Deepgram{
		model:    cfgString(cfg, "model"),
		language: cfgString(cfg, "language"),
		baseURL:  cfgString(cfg, "baseURL"),
		apiKey:   cfgString(cfg, "apiKey"),
		logger:   slog.Default().With(slog.String("provider", "deepgram")),
	}
	if d.model == "" {
		d.model = "nova-2"
	}
	if d.baseURL == "" {
		d.baseURL = deepgramURL
	}
	return d, nil
}

func (d *Deepgram) Model() string    { return d.model }
func (d *Deepgram) Language() string { return d.language }

func (d *Deepgram) Capabilities() stt.Capabilities {
	return stt.Capabilities{Streaming: true, InterimResults: true, SampleRate: deepgramSampleRate}
}

func (d *Deepgram) listenURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = d.language
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = deepgramSampleRate
	}
	channels := cfg.NumChannels
	if channels == 0 {
		channels = 1
	}

	q := u.Query()
	q.Set("model", d.model)
	if lang != "" {
		q.Set("language", lang)
	}
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("channels", strconv.Itoa(channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewStream dials a listen session. The API key is resolved here, not at construction.
func (d *Deepgram) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	key, err := apiKey(d.apiKey, "DEEPGRAM_API_KEY")
	if err != nil {
		return nil, ai.NewFatalError(err, "deepgram")
	}
	wsURL, err := d.listenURL(cfg)
	if err != nil {
		return nil, ai.NewFatalError(err, "deepgram: invalid URL")
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+key)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, ai.ClassifyHTTPStatus(resp.StatusCode, err)
		}
		return nil, ai.NewRecoverableError(err, "deepgram: dial")
	}

	lang := cfg.Language
	if lang == "" {
		lang = d.language
	}
	s := &deepgramStream{
		conn:     conn,
		language: lang,
		events:   make(chan stt.SpeechEvent, 32),
		done:     make(chan struct{}),
		logger:   d.logger,
	}
	go s.readLoop(ctx)
	go s.keepAlive()
	return s, nil
}

type deepgramStream struct {
	conn     *websocket.Conn
	language string
	events   chan stt.SpeechEvent
	done     chan struct{}
	logger   *slog.Logger

	writeMu   sync.Mutex
	closing   bool
	closeOnce sync.Once
}

// deepgramResult is the subset of a listen "Results" message the stream uses.
type deepgramResult struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramStream) Push(frame rtc.AudioFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closing {
		return ErrStreamClosed
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
		return ai.NewRecoverableError(err, "deepgram: send audio")
	}
	return nil
}

func (s *deepgramStream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend asks the server to flush and close. Events closes once it has.
func (s *deepgramStream) CloseSend() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		s.closing = true
		err = s.writeJSON(map[string]string{"type": "CloseStream"})
		s.conn.SetReadDeadline(time.Now().Add(deepgramDrainTimeout))
	})
	return err
}

// writeJSON requires writeMu.
func (s *deepgramStream) writeJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *deepgramStream) keepAlive() {
	ticker := time.NewTicker(deepgramKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			if !s.closing {
				if err := s.writeJSON(map[string]string{"type": "KeepAlive"}); err != nil {
					s.logger.Debug("Deepgram keepalive failed", slog.Any("error", err))
				}
			}
			s.writeMu.Unlock()
		}
	}
}

func (s *deepgramStream) readLoop(ctx context.Context) {
	defer close(s.events)
	defer close(s.done)
	defer s.conn.Close()

	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.writeMu.Lock()
			closing := s.closing
			s.writeMu.Unlock()
			if !closing && ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.emit(ctx, stt.SpeechEvent{
					Type:      stt.SpeechEventError,
					Timestamp: time.Now().UnixMilli(),
					Error:     ai.NewRecoverableError(err, "deepgram: connection lost"),
				})
			}
			return
		}

		ev, ok := s.parse(msg)
		if ok && !s.emit(ctx, ev) {
			return
		}
	}
}

func (s *deepgramStream) parse(msg []byte) (stt.SpeechEvent, bool) {
	var res deepgramResult
	if err := sonic.Unmarshal(msg, &res); err != nil {
		s.logger.Debug("Unparseable Deepgram message", slog.Any("error", err))
		return stt.SpeechEvent{}, false
	}
	if res.Type != "Results" || len(res.Channel.Alternatives) == 0 {
		return stt.SpeechEvent{}, false
	}
	alt := res.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return stt.SpeechEvent{}, false
	}

	ev := stt.SpeechEvent{
		Type:       stt.SpeechEventInterim,
		Text:       text,
		Language:   s.language,
		Confidence: alt.Confidence,
		Timestamp:  time.Now().UnixMilli(),
	}
	if res.IsFinal || res.SpeechFinal || res.FromFinalize {
		ev.Type = stt.SpeechEventFinal
		ev.IsFinal = true
	}
	return ev, true
}

func (s *deepgramStream) emit(ctx context.Context, ev stt.SpeechEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        "deepgram",
		Factory:     newDeepgram,
		Description: "Deepgram streaming speech recognition",
		Config: map[string]any{
			"model":    "nova-2",
			"language": "",
			"apiKey":   "$DEEPGRAM_API_KEY",
		},
	})
}
