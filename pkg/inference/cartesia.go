package inference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// ErrSynthesis is reported through SynthesizeRequest.OnError when Cartesia
// answers with an error frame.
var ErrSynthesis = errors.New("cartesia synthesis failed")

const (
	cartesiaURL        = "wss://api.cartesia.ai/tts/websocket"
	cartesiaAPIVersion = "2024-11-13"
	cartesiaSampleRate = 24000
)

// Cartesia synthesizes speech over the Cartesia websocket API.
type Cartesia struct {
	model    string
	voice    string
	language string
	baseURL  string
	apiKey   string
	logger   *slog.Logger
}

func newCartesia(cfg map[string]any) (any, error) {
	c := &Cartesia{
		model:    cfgString(cfg, "model"),
		voice:    cfgString(cfg, "voice"),
		language: cfgString(cfg, "language"),
		baseURL:  cfgString(cfg, "baseURL"),
		apiKey:   cfgString(cfg, "apiKey"),
		logger:   slog.Default().With(slog.String("provider", "cartesia")),
	}
	if c.model == "" {
		c.model = "sonic-3"
	}
	if c.baseURL == "" {
		c.baseURL = cartesiaURL
	}
	return c, nil
}

func (c *Cartesia) Model() string { return c.model }
func (c *Cartesia) Voice() string { return c.voice }

func (c *Cartesia) Capabilities() tts.Capabilities {
	return tts.Capabilities{Streaming: true, SampleRate: cartesiaSampleRate}
}

type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	ContextID    string               `json:"context_id"`
	Continue     bool                 `json:"continue"`
	Language     string               `json:"language,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaResponse struct {
	Type       string `json:"type"`
	ContextID  string `json:"context_id"`
	StatusCode int    `json:"status_code"`
	Done       bool   `json:"done"`
	Data       string `json:"data"`
	Error      string `json:"error"`
}

func (c *Cartesia) dialURL(key string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api_key", key)
	q.Set("cartesia_version", cartesiaAPIVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Synthesize opens one websocket per utterance and streams 10 ms frames at 24 kHz.
func (c *Cartesia) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	key, err := apiKey(c.apiKey, "CARTESIA_API_KEY")
	if err != nil {
		return nil, ai.NewFatalError(err, "cartesia")
	}
	wsURL, err := c.dialURL(key)
	if err != nil {
		return nil, ai.NewFatalError(err, "cartesia: invalid URL")
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, ai.ClassifyHTTPStatus(resp.StatusCode, err)
		}
		return nil, ai.NewRecoverableError(err, "cartesia: dial")
	}

	voice := req.Voice
	if voice == "" {
		voice = c.voice
	}
	lang := req.Language
	if lang == "" {
		lang = c.language
	}
	contextID := uuid.NewString()

	payload, err := sonic.Marshal(cartesiaRequest{
		ModelID:      c.model,
		Transcript:   req.Text,
		Voice:        cartesiaVoice{Mode: "id", ID: voice},
		OutputFormat: cartesiaOutputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: cartesiaSampleRate},
		ContextID:    contextID,
		Language:     lang,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return nil, ai.NewRecoverableError(err, "cartesia: send request")
	}

	out := make(chan rtc.AudioFrame, 50)
	go c.receive(ctx, conn, contextID, req, out)
	return out, nil
}

func (c *Cartesia) receive(ctx context.Context, conn *websocket.Conn, contextID string, req tts.SynthesizeRequest, out chan<- rtc.AudioFrame) {
	defer close(out)
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		if msg, err := sonic.Marshal(map[string]any{"context_id": contextID, "cancel": true}); err == nil {
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			conn.WriteMessage(websocket.TextMessage, msg)
		}
		conn.Close()
	})
	defer stop()

	framer := rtc.NewFramer(cartesiaSampleRate, 1)
	send := func(frames []rtc.AudioFrame) bool {
		for _, f := range frames {
			select {
			case out <- f:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Cartesia stream ended early", slog.Any("error", err))
				req.Fail(ai.NewRecoverableError(err, "cartesia: stream ended early"))
			}
			return
		}

		if msgType == websocket.BinaryMessage {
			if !send(framer.Write(msg)) {
				return
			}
			continue
		}

		var res cartesiaResponse
		if err := sonic.Unmarshal(msg, &res); err != nil {
			c.logger.Debug("Unparseable Cartesia message", slog.Any("error", err))
			continue
		}
		if res.ContextID != "" && res.ContextID != contextID {
			continue
		}

		switch res.Type {
		case "chunk":
			pcm, err := base64.StdEncoding.DecodeString(res.Data)
			if err != nil {
				c.logger.Warn("Bad Cartesia audio chunk", slog.Any("error", err))
				continue
			}
			if !send(framer.Write(pcm)) {
				return
			}
		case "done":
			if f, ok := framer.Flush(); ok {
				send([]rtc.AudioFrame{f})
			}
			return
		case "error":
			c.logger.Error("Cartesia synthesis failed",
				slog.String("error", res.Error),
				slog.Int("status", res.StatusCode),
				slog.String("context_id", contextID))
			err := fmt.Errorf("%w: %s", ErrSynthesis, res.Error)
			if res.StatusCode >= 400 {
				err = ai.ClassifyHTTPStatus(res.StatusCode, err)
			}
			req.Fail(err)
			return
		}
		if res.Done {
			if f, ok := framer.Flush(); ok {
				send([]rtc.AudioFrame{f})
			}
			return
		}
	}
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        "cartesia",
		Factory:     newCartesia,
		Description: "Cartesia websocket speech synthesis",
		Config: map[string]any{
			"model":  "sonic-3",
			"voice":  "",
			"apiKey": "$CARTESIA_API_KEY",
		},
	})
}
