package plugin

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/matryer/is"
)

type mockSTT struct {
	name string
}

func newMockSTT(cfg map[string]any) (any, error) {
	name := "default"
	if n, ok := cfg["name"].(string); ok {
		name = n
	}
	return &mockSTT{name: name}, nil
}

type recordingDownloader struct {
	calls *[]string
	name  string
	err   error
}

func (d recordingDownloader) Download(ctx context.Context) error {
	*d.calls = append(*d.calls, d.name)
	return d.err
}

func TestRegistry_RegisterPanics(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		plugin  string
		factory Factory
	}{
		{name: "empty kind", kind: "", plugin: "mock", factory: newMockSTT},
		{name: "empty name", kind: KindSTT, plugin: "", factory: newMockSTT},
		{name: "nil factory", kind: KindSTT, plugin: "mock", factory: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic for %s", tt.name)
				}
			}()
			r.Register(tt.kind, tt.plugin, tt.factory)
		})
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	r.Register(KindSTT, "mock", newMockSTT)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic for duplicate registration")
		}
	}()
	r.Register(KindSTT, "mock", newMockSTT)
}

func TestRegistry_GetAndBuild(t *testing.T) {
	is := is.New(t)

	r := NewRegistry()
	r.Register(KindSTT, "mock", newMockSTT)

	factory, ok := r.Get(KindSTT, "mock")
	is.True(ok)
	instance, err := factory(map[string]any{"name": "test"})
	is.NoErr(err)
	is.Equal(instance.(*mockSTT).name, "test")

	_, ok = r.Get(KindSTT, "nonexistent")
	is.True(!ok) // unknown name
	_, ok = r.Get("nonexistent", "mock")
	is.True(!ok) // unknown kind

	built, err := Build[*mockSTT](r, KindSTT, "mock", nil)
	is.NoErr(err)
	is.Equal(built.name, "default")

	_, err = Build[*mockSTT](r, KindTTS, "mock", nil)
	is.True(err != nil) // not registered

	_, err = Build[string](r, KindSTT, "mock", nil)
	is.True(err != nil) // wrong type
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	r.RegisterWithMetadata(&Plugin{Kind: KindTTS, Name: "cartesia", Factory: newMockSTT})
	r.RegisterWithMetadata(&Plugin{Kind: KindSTT, Name: "deepgram", Factory: newMockSTT})
	r.RegisterWithMetadata(&Plugin{Kind: KindSTT, Name: "fake", Factory: newMockSTT})

	all := r.List("")
	expected := []struct{ kind, name string }{
		{KindSTT, "deepgram"},
		{KindSTT, "fake"},
		{KindTTS, "cartesia"},
	}
	if len(all) != len(expected) {
		t.Fatalf("Expected %d plugins, got %d", len(expected), len(all))
	}
	for i, want := range expected {
		if all[i].Kind != want.kind || all[i].Name != want.name {
			t.Errorf("plugin %d: expected %s/%s, got %s/%s", i, want.kind, want.name, all[i].Kind, all[i].Name)
		}
	}

	if got := len(r.List(KindSTT)); got != 2 {
		t.Errorf("Expected 2 STT plugins, got %d", got)
	}
	if got := len(r.List("nonexistent")); got != 0 {
		t.Errorf("Expected 0 plugins for unknown kind, got %d", got)
	}
	if kinds := r.ListKinds(); !reflect.DeepEqual(kinds, []string{KindSTT, KindTTS}) {
		t.Errorf("unexpected kinds %v", kinds)
	}

	r.Clear()
	if len(r.List("")) != 0 {
		t.Error("Expected 0 plugins after clear")
	}
}

func TestRegistry_DownloadAll(t *testing.T) {
	is := is.New(t)

	var calls []string
	r := NewRegistry()
	r.RegisterWithMetadata(&Plugin{Kind: KindVAD, Name: "silero", Factory: newMockSTT,
		Downloader: recordingDownloader{calls: &calls, name: "silero"}})
	r.RegisterWithMetadata(&Plugin{Kind: KindTurn, Name: "multilingual", Factory: newMockSTT,
		Downloader: recordingDownloader{calls: &calls, name: "multilingual"}})
	r.RegisterWithMetadata(&Plugin{Kind: KindLLM, Name: "openai", Factory: newMockSTT})

	is.NoErr(r.DownloadAll(context.Background()))
	is.Equal(calls, []string{"multilingual", "silero"}) // kind order, plugins without downloader skipped

	boom := errors.New("offline")
	failing := NewRegistry()
	failing.RegisterWithMetadata(&Plugin{Kind: KindVAD, Name: "silero", Factory: newMockSTT,
		Downloader: recordingDownloader{calls: &calls, name: "x", err: boom}})
	is.True(errors.Is(failing.DownloadAll(context.Background()), boom))
}
