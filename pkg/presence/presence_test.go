package presence

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/matryer/is"
)

type recordingParticipant struct {
	identity string
	err      error
	calls    []string
}

func (p *recordingParticipant) Identity() string { return p.identity }

func (p *recordingParticipant) SetMetadata(ctx context.Context, md string) error {
	p.calls = append(p.calls, md)
	return p.err
}

func TestPayloadEncode(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    string
	}{
		{name: "presence", payload: Agent(), want: `{"agent":true}`},
		{name: "phase two", payload: AgentPhase(2), want: `{"agent":true,"phase":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.payload.Encode()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Encode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	is := is.New(t)

	p, err := Decode(`{"agent":true,"phase":2}`)
	is.NoErr(err)
	is.Equal(p, AgentPhase(2))

	_, err = Decode("not json")
	is.True(err != nil) // malformed metadata is rejected
}

func TestPublish(t *testing.T) {
	is := is.New(t)

	lp := &recordingParticipant{identity: "agent-1"}
	out := Publish(context.Background(), lp, Agent(), nil)

	is.True(out.OK())
	is.Equal(out.Metadata, `{"agent":true}`)
	is.Equal(lp.calls, []string{`{"agent":true}`}) // written exactly once
}

func TestPublish_FailureIsWarned(t *testing.T) {
	is := is.New(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	denied := errors.New("permission denied")
	lp := &recordingParticipant{err: denied}
	out := Publish(context.Background(), lp, AgentPhase(2), logger)

	is.True(!out.OK())
	is.True(errors.Is(out.Err, denied))
	is.True(strings.Contains(buf.String(), "level=WARN"))                   // logged as warning
	is.True(strings.Contains(buf.String(), "unable to set agent metadata")) // fixed message
	is.True(strings.Contains(buf.String(), "permission denied"))            // error attribute
}

func TestPublish_NilParticipant(t *testing.T) {
	is := is.New(t)

	out := Publish(context.Background(), nil, Agent(), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	is.True(!out.OK()) // no participant to write to
}
