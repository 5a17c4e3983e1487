package turn

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
)

func TestRemoteDetector(t *testing.T) {
	is := is.New(t)

	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"eou_probability": 0.92}`))
	}))
	defer server.Close()

	d := NewRemoteDetector(server.URL, nil)
	p, err := d.PredictEndOfTurn(context.Background(), Input{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello"}},
		Language: "ja",
	})
	is.NoErr(err)
	is.Equal(p, 0.92)
	is.True(strings.Contains(body, `"language":"ja"`)) // language forwarded
	is.True(strings.Contains(body, "Hello"))           // messages forwarded
}

func TestRemoteDetectorFallback(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "server error", handler: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}},
		{name: "remote error field", handler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error": "model not loaded"}`))
		}},
		{name: "out of range", handler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"eou_probability": 1.5}`))
		}},
		{name: "malformed", handler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			fallback := &stubDetector{probability: 0.33, threshold: 0.5, supported: true}
			p, err := NewRemoteDetector(server.URL, fallback).PredictEndOfTurn(context.Background(), Input{})
			if err != nil {
				t.Fatalf("expected fallback to succeed, got %v", err)
			}
			if p != 0.33 {
				t.Errorf("expected fallback probability 0.33, got %v", p)
			}

			if _, err := NewRemoteDetector(server.URL, nil).PredictEndOfTurn(context.Background(), Input{}); err == nil {
				t.Error("expected error without fallback")
			}
		})
	}
}

func TestRemoteDetectorThresholds(t *testing.T) {
	is := is.New(t)

	d := NewRemoteDetector("http://unused", nil)
	th, _ := d.UnlikelyThreshold("en-US")
	is.Equal(th, 0.85)
	th, _ = d.UnlikelyThreshold("ja")
	is.Equal(th, 0.80)
	is.True(d.SupportsLanguage("ja"))

	withFallback := NewRemoteDetector("http://unused", &stubDetector{threshold: 0.2, supported: true})
	th, _ = withFallback.UnlikelyThreshold("ja")
	is.Equal(th, 0.2) // fallback thresholds win
}
