// Package silero provides voice activity detection with the Silero VAD ONNX
// model. When the model or ONNX Runtime is unavailable it falls back to an
// energy detector with the same thresholds and timing.
package silero

import (
	"os"
	"path/filepath"
	"time"
)

const (
	ModelFileName = "silero_vad.onnx"
	ModelURL      = "https://github.com/snakers4/silero-vad/raw/master/src/silero_vad/data/silero_vad.onnx"

	DefaultThreshold          = 0.5
	DefaultMinSpeechDuration  = 50 * time.Millisecond
	DefaultMinSilenceDuration = 550 * time.Millisecond
	DefaultSampleRate         = 16000
)

// Options is the detection profile.
type Options struct {
	ActivationThreshold float64
	MinSpeechDuration   time.Duration
	MinSilenceDuration  time.Duration
	SampleRate          int // 8000 or 16000
	ModelPath           string
	// ForceEnergy skips the ONNX model.
	ForceEnergy bool
}

type Option func(*Options)

func WithActivationThreshold(th float64) Option {
	return func(o *Options) { o.ActivationThreshold = th }
}

func WithMinSpeechDuration(d time.Duration) Option {
	return func(o *Options) { o.MinSpeechDuration = d }
}

func WithMinSilenceDuration(d time.Duration) Option {
	return func(o *Options) { o.MinSilenceDuration = d }
}

func WithSampleRate(rate int) Option {
	return func(o *Options) { o.SampleRate = rate }
}

func WithModelPath(path string) Option {
	return func(o *Options) { o.ModelPath = path }
}

// WithModelDir loads ModelFileName from dir. An empty dir keeps the default.
func WithModelDir(dir string) Option {
	return func(o *Options) {
		if dir != "" {
			o.ModelPath = filepath.Join(dir, ModelFileName)
		}
	}
}

// WithEnergyOnly disables the ONNX model.
func WithEnergyOnly() Option {
	return func(o *Options) { o.ForceEnergy = true }
}

func defaultOptions() Options {
	return Options{
		ActivationThreshold: DefaultThreshold,
		MinSpeechDuration:   DefaultMinSpeechDuration,
		MinSilenceDuration:  DefaultMinSilenceDuration,
		SampleRate:          DefaultSampleRate,
		ModelPath:           defaultModelPath(),
	}
}

// deactivationThreshold is where an active segment starts counting silence.
func (o Options) deactivationThreshold() float64 {
	return max(o.ActivationThreshold-0.15, 0.01)
}

// windowSamples is the model's input size at the configured rate.
func (o Options) windowSamples() int {
	if o.SampleRate == 8000 {
		return 256
	}
	return 512
}

func (o Options) windowDuration() time.Duration {
	return time.Duration(o.windowSamples()) * time.Second / time.Duration(o.SampleRate)
}

func defaultModelPath() string {
	dir := os.Getenv("LK_MODEL_PATH")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		dir = filepath.Join(home, ".livekit", "models")
	}
	return filepath.Join(dir, ModelFileName)
}
