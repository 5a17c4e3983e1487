package inference

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	_ "github.com/chriscow/livekit-voice-agent/pkg/plugin/fake"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestParseModel(t *testing.T) {
	tests := []struct {
		in           string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{in: "deepgram/nova-2", wantProvider: "deepgram", wantModel: "nova-2"},
		{in: "OpenAI/gpt-4.1-mini", wantProvider: "openai", wantModel: "gpt-4.1-mini"},
		{in: "hf/org/model", wantProvider: "hf", wantModel: "org/model"},
		{in: "nova-2", wantErr: true},
		{in: "/nova-2", wantErr: true},
		{in: "deepgram/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			provider, model, err := ParseModel(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidModel) {
					t.Fatalf("expected ErrInvalidModel, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider != tt.wantProvider || model != tt.wantModel {
				t.Errorf("got %q/%q, want %q/%q", provider, model, tt.wantProvider, tt.wantModel)
			}
		})
	}
}

func TestResolveLiteralPipeline(t *testing.T) {
	is := is.New(t)
	t.Setenv("DEEPGRAM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("CARTESIA_API_KEY", "")

	s, err := STT("deepgram/nova-2", "ja")
	is.NoErr(err) // construction does not need credentials
	is.Equal(s.Model(), "nova-2")
	is.Equal(s.Language(), "ja")
	is.Equal(s.Capabilities().SampleRate, 16000)

	l, err := LLM("openai/gpt-4.1-mini")
	is.NoErr(err)
	is.Equal(l.Model(), "gpt-4.1-mini")

	v, err := TTS("cartesia/sonic-3", "59d4fd2f-f5eb-4410-8105-58db7661144f")
	is.NoErr(err)
	is.Equal(v.Model(), "sonic-3")
	is.Equal(v.Voice(), "59d4fd2f-f5eb-4410-8105-58db7661144f")
	is.Equal(v.Capabilities().SampleRate, 24000)
}

func TestResolveUnknownProvider(t *testing.T) {
	is := is.New(t)

	_, err := STT("whisper/large", "en")
	is.True(errors.Is(err, ErrUnknownProvider))

	_, err = LLM("gpt-4")
	is.True(errors.Is(err, ErrInvalidModel))

	_, err = TTS("elevenlabs/turbo", "voice")
	is.True(errors.Is(err, ErrUnknownProvider))
}

func TestResolveFakeProvider(t *testing.T) {
	is := is.New(t)

	l, err := LLM("fake/any")
	is.NoErr(err) // the fake plugin registers under every kind
	is.Equal(l.Model(), "fake-llm")
}

func TestAPIKey(t *testing.T) {
	is := is.New(t)

	t.Setenv("TEST_PROVIDER_KEY", "from-env")
	key, err := apiKey("explicit", "TEST_PROVIDER_KEY")
	is.NoErr(err)
	is.Equal(key, "explicit")

	key, err = apiKey("", "TEST_PROVIDER_KEY")
	is.NoErr(err)
	is.Equal(key, "from-env")

	t.Setenv("TEST_PROVIDER_KEY", "")
	_, err = apiKey("", "TEST_PROVIDER_KEY")
	is.True(errors.Is(err, ErrMissingAPIKey))
}
