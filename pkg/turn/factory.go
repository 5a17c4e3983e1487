package turn

import (
	"fmt"
	"os"
)

// Config selects a detector.
type Config struct {
	Model     string // "english" or "multilingual"
	ModelPath string // defaults to DefaultModelPath
	RemoteURL string // defaults to LIVEKIT_REMOTE_EOT_URL
}

// NewDetector creates the local ONNX detector for cfg.Model, wrapped in a
// RemoteDetector when a remote URL is configured.
func NewDetector(cfg Config) (Detector, error) {
	if cfg.Model == "" {
		cfg.Model = "english"
	}
	switch cfg.Model {
	case "english", "multilingual":
	default:
		return nil, fmt.Errorf("invalid model name: %s (supported: english|multilingual)", cfg.Model)
	}

	local, err := NewONNXDetector(cfg.Model, cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("create ONNX detector: %w", err)
	}

	remoteURL := cfg.RemoteURL
	if remoteURL == "" {
		remoteURL = os.Getenv("LIVEKIT_REMOTE_EOT_URL")
	}
	if remoteURL != "" {
		return NewRemoteDetector(remoteURL, local), nil
	}
	return local, nil
}

// MultilingualModel returns the multilingual end-of-utterance detector.
// Model files are loaded on the first prediction.
func MultilingualModel() Detector {
	d, err := NewDetector(Config{Model: "multilingual"})
	if err != nil {
		// the model name is fixed and always valid
		panic(err)
	}
	return d
}

// EnglishModel returns the English-only detector.
func EnglishModel() Detector {
	d, err := NewDetector(Config{Model: "english"})
	if err != nil {
		panic(err)
	}
	return d
}
