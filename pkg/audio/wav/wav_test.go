package wav

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

func TestWriteThenRead(t *testing.T) {
	is := is.New(t)

	frames := []rtc.AudioFrame{
		rtc.Tone(24000, 440, 0.5, 0),
		rtc.Tone(24000, 440, 0.5, 1),
		rtc.Silence(24000, 1),
	}
	path := filepath.Join(t.TempDir(), "out.wav")
	is.NoErr(WriteFile(path, Format{SampleRate: 24000, NumChannels: 1}, frames))

	f, got, err := ReadFile(path)
	is.NoErr(err)
	is.Equal(f, Format{SampleRate: 24000, NumChannels: 1})
	is.Equal(len(got), 3)
	is.Equal(got[0].Data, frames[0].Data) // samples survive unchanged
	is.Equal(got[2].Data, frames[2].Data)
}

func TestDecode_PartialFrameIsPadded(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	h := newHeader(Format{SampleRate: 16000, NumChannels: 1}, 100)
	is.NoErr(writeHeader(&buf, h))
	buf.Write(bytes.Repeat([]byte{1, 0}, 50))

	_, frames, err := Decode(&buf)
	is.NoErr(err)
	is.Equal(len(frames), 1)
	is.Equal(frames[0].SamplesPerChannel, 160) // one full 10 ms frame
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header func() header
	}{
		{name: "8-bit", header: func() header {
			h := newHeader(Format{SampleRate: 16000, NumChannels: 1}, 0)
			h.BitsPerSample = 8
			return h
		}},
		{name: "float", header: func() header {
			h := newHeader(Format{SampleRate: 16000, NumChannels: 1}, 0)
			h.AudioFormat = 3
			return h
		}},
		{name: "odd rate", header: func() header {
			return newHeader(Format{SampleRate: 22050, NumChannels: 1}, 0)
		}},
		{name: "six channels", header: func() header {
			return newHeader(Format{SampleRate: 48000, NumChannels: 6}, 0)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := writeHeader(&buf, tt.header()); err != nil {
				t.Fatal(err)
			}
			if _, _, err := Decode(&buf); !errors.Is(err, ErrUnsupported) {
				t.Errorf("expected ErrUnsupported, got %v", err)
			}
		})
	}

	if _, _, err := Decode(bytes.NewReader([]byte("not a wav file at all"))); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported for garbage, got %v", err)
	}
}

func TestWriter_FormatMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	err := WriteFile(path, Format{SampleRate: 16000, NumChannels: 1}, []rtc.AudioFrame{rtc.Silence(48000, 1)})
	if err == nil {
		t.Fatal("expected an error for a 48 kHz frame in a 16 kHz file")
	}
}
