package turn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

const remoteTimeout = 2 * time.Second

// RemoteDetector posts the conversation to an HTTP inference endpoint and
// falls back to a local detector when the endpoint fails.
type RemoteDetector struct {
	endpoint   string
	httpClient *http.Client
	fallback   Detector
	logger     *slog.Logger
}

// NewRemoteDetector creates a remote detector. fallback may be nil.
func NewRemoteDetector(endpoint string, fallback Detector) *RemoteDetector {
	return &RemoteDetector{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: remoteTimeout},
		fallback:   fallback,
		logger:     slog.Default().With(slog.String("component", "turn")),
	}
}

// remoteResponse is the endpoint's reply.
type remoteResponse struct {
	Probability float64 `json:"eou_probability"`
	Error       string  `json:"error,omitempty"`
}

// UnlikelyThreshold delegates to the fallback, else uses fixed defaults.
func (d *RemoteDetector) UnlikelyThreshold(language string) (float64, error) {
	if d.fallback != nil {
		return d.fallback.UnlikelyThreshold(language)
	}
	for _, key := range languageKeys(language) {
		if key == "en" {
			return 0.85, nil
		}
	}
	return 0.80, nil
}

func (d *RemoteDetector) SupportsLanguage(language string) bool {
	if d.fallback != nil {
		return d.fallback.SupportsLanguage(language)
	}
	return true
}

func (d *RemoteDetector) PredictEndOfTurn(ctx context.Context, in Input) (float64, error) {
	p, err := d.predictRemote(ctx, in)
	if err == nil {
		return p, nil
	}
	if d.fallback == nil {
		return 0, fmt.Errorf("remote turn inference failed and no fallback available: %w", err)
	}

	d.logger.Warn("Remote turn detection failed, using local model", slog.Any("error", err))
	return d.fallback.PredictEndOfTurn(ctx, in)
}

func (d *RemoteDetector) predictRemote(ctx context.Context, in Input) (float64, error) {
	body, err := sonic.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "livekit-voice-agent/turn-detector")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var out remoteResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("remote error: %s", out.Error)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return 0, fmt.Errorf("invalid probability: %f", out.Probability)
	}
	return out.Probability, nil
}
