package fake

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	"github.com/chriscow/livekit-voice-agent/pkg/turn"
)

func TestFakePluginsRegistered(t *testing.T) {
	is := is.New(t)

	s, err := plugin.New[stt.STT](plugin.KindSTT, Name, map[string]any{"transcript": "hello"})
	is.NoErr(err)
	stream, err := s.NewStream(context.Background(), stt.StreamConfig{})
	is.NoErr(err)
	is.NoErr(stream.CloseSend())
	ev := <-stream.Events()
	is.Equal(ev.Text, "hello") // configured transcript

	l, err := plugin.New[llm.LLM](plugin.KindLLM, Name, map[string]any{"responses": []string{"hi"}})
	is.NoErr(err)
	resp, err := l.Chat(context.Background(), llm.ChatRequest{})
	is.NoErr(err)
	is.Equal(resp.Message.Content, "hi")

	_, err = plugin.New[tts.TTS](plugin.KindTTS, Name, nil)
	is.NoErr(err)
	_, err = plugin.New[vad.VAD](plugin.KindVAD, Name, nil)
	is.NoErr(err)
	_, err = plugin.New[turn.Detector](plugin.KindTurn, Name, nil)
	is.NoErr(err)
}
