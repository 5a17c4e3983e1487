package turn

import (
	"context"

	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	"github.com/chriscow/livekit-voice-agent/pkg/turn/internal"
)

type modelDownloader struct {
	model string
}

func (d modelDownloader) Download(ctx context.Context) error {
	return NewDownloader("").Download(ctx, d.model)
}

func init() {
	for _, m := range internal.AllModels {
		name := m.Name
		plugin.RegisterWithMetadata(&plugin.Plugin{
			Kind: plugin.KindTurn,
			Name: name,
			Factory: func(cfg map[string]any) (any, error) {
				c := Config{Model: name}
				c.ModelPath, _ = cfg["modelPath"].(string)
				c.RemoteURL, _ = cfg["remoteURL"].(string)
				return NewDetector(c)
			},
			Description: "LiveKit end-of-utterance model " + m.Revision,
			Version:     m.Revision,
			Config:      map[string]any{"modelPath": "", "remoteURL": ""},
			Downloader:  modelDownloader{model: name},
		})
	}
}
