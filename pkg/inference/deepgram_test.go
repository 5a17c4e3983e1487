package inference

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

func deepgramServer(t *testing.T, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		check(r)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		audio := 0
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ == websocket.BinaryMessage {
				audio++
				if audio == 2 {
					conn.WriteMessage(websocket.TextMessage, []byte(
						`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"こんに","confidence":0.5}]}}`))
				}
				continue
			}
			if string(msg) == `{"type":"CloseStream"}` {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","request_id":"r1"}`))
				conn.WriteMessage(websocket.TextMessage, []byte(
					`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"こんにちは","confidence":0.98}]}}`))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
}

func TestDeepgram_Stream(t *testing.T) {
	is := is.New(t)

	auths := make(chan string, 1)
	srv := deepgramServer(t, func(r *http.Request) {
		auths <- r.Header.Get("Authorization")
	})
	defer srv.Close()

	p, _ := newDeepgram(map[string]any{"model": "nova-2", "language": "ja", "baseURL": wsURL(srv), "apiKey": "dg-key"})
	d := p.(*Deepgram)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := d.NewStream(ctx, stt.StreamConfig{SampleRate: 16000, NumChannels: 1})
	is.NoErr(err)
	is.Equal(<-auths, "Token dg-key")

	for i := 0; i < 3; i++ {
		is.NoErr(stream.Push(rtc.Tone(16000, 200, 0.2, i)))
	}
	is.NoErr(stream.CloseSend())
	is.True(errors.Is(stream.Push(rtc.Silence(16000, 1)), ErrStreamClosed)) // no audio after CloseSend

	var got []stt.SpeechEvent
	for ev := range stream.Events() {
		got = append(got, ev)
	}
	is.Equal(len(got), 2) // one interim then one final; metadata skipped
	is.Equal(got[0].Type, stt.SpeechEventInterim)
	is.Equal(got[1].Type, stt.SpeechEventFinal)
	is.Equal(got[1].Text, "こんにちは")
	is.Equal(got[1].Language, "ja")
	is.True(got[1].IsFinal)
}

func TestDeepgram_ListenURL(t *testing.T) {
	is := is.New(t)

	p, _ := newDeepgram(map[string]any{"model": "nova-2", "language": "ja"})
	u, err := p.(*Deepgram).listenURL(stt.StreamConfig{})
	is.NoErr(err)
	for _, want := range []string{"model=nova-2", "language=ja", "encoding=linear16", "sample_rate=16000", "channels=1", "interim_results=true"} {
		if !strings.Contains(u, want) {
			t.Errorf("listen URL %q missing %q", u, want)
		}
	}

	u, _ = p.(*Deepgram).listenURL(stt.StreamConfig{Language: "en-US", SampleRate: 48000})
	is.True(strings.Contains(u, "language=en-US")) // stream language overrides
	is.True(strings.Contains(u, "sample_rate=48000"))
}

func TestDeepgram_Errors(t *testing.T) {
	is := is.New(t)
	t.Setenv("DEEPGRAM_API_KEY", "")

	p, _ := newDeepgram(map[string]any{"model": "nova-2"})
	_, err := p.(*Deepgram).NewStream(context.Background(), stt.StreamConfig{})
	is.True(errors.Is(err, ErrMissingAPIKey)) // key resolved lazily
	is.True(ai.IsFatal(err))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ = newDeepgram(map[string]any{"baseURL": wsURL(srv), "apiKey": "wrong"})
	_, err = p.(*Deepgram).NewStream(context.Background(), stt.StreamConfig{})
	is.True(ai.IsFatal(err)) // 401 is not retried
}
