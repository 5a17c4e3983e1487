package silero

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// VAD implements vad.VAD. The ONNX model is loaded on the first Detect.
type VAD struct {
	opts   Options
	logger *slog.Logger

	loadOnce sync.Once
	model    *onnxModel
}

// Load returns a VAD with the default profile adjusted by opts.
func Load(opts ...Option) *VAD {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.SampleRate != 8000 {
		o.SampleRate = DefaultSampleRate
	}
	return &VAD{
		opts:   o,
		logger: slog.Default().With(slog.String("component", "silero")),
	}
}

// Options returns the detection profile.
func (v *VAD) Options() Options {
	return v.opts
}

func (v *VAD) Capabilities() vad.Capabilities {
	return vad.Capabilities{
		SampleRate:          v.opts.SampleRate,
		MinSpeechDuration:   v.opts.MinSpeechDuration,
		MinSilenceDuration:  v.opts.MinSilenceDuration,
		ActivationThreshold: v.opts.ActivationThreshold,
	}
}

func (v *VAD) newScorer() scorer {
	if v.opts.ForceEnergy {
		return energyScorer{}
	}
	v.loadOnce.Do(func() {
		m, err := loadModel(v.opts.ModelPath)
		if err != nil {
			v.logger.Warn("Silero model unavailable, using energy detection",
				slog.String("model_path", v.opts.ModelPath),
				slog.Any("error", err))
			return
		}
		v.model = m
	})
	if v.model == nil {
		return energyScorer{}
	}
	return v.model.newStream(v.opts.SampleRate)
}

// Detect reads frames until the channel closes or ctx ends. Frames at other
// rates are resampled; stereo frames are downmixed.
func (v *VAD) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan vad.Event, error) {
	events := make(chan vad.Event, 10)
	sc := v.newScorer()

	go func() {
		defer close(events)
		defer sc.close()

		st := newSegmenter(v.opts)
		window := make([]float32, 0, v.opts.windowSamples())

		emit := func(ev vad.Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					if ev, ok := st.flush(); ok {
						emit(ev)
					}
					return
				}

				for _, s := range v.normalize(frame) {
					window = append(window, s)
					if len(window) < cap(window) {
						continue
					}
					p, err := sc.score(window)
					window = window[:0]
					if err != nil {
						if !emit(vad.Event{Type: vad.EventError, Timestamp: time.Now(), Error: err}) {
							return
						}
						continue
					}
					if ev, ok := st.push(p); ok {
						if !emit(ev) {
							return
						}
					}
				}
			}
		}
	}()

	return events, nil
}

// normalize returns the frame as mono float samples in [-1, 1] at the model rate.
func (v *VAD) normalize(f rtc.AudioFrame) []float32 {
	samples := f.Samples()
	if f.NumChannels > 1 {
		mono := make([]int16, len(samples)/f.NumChannels)
		for i := range mono {
			var sum int32
			for c := 0; c < f.NumChannels; c++ {
				sum += int32(samples[i*f.NumChannels+c])
			}
			mono[i] = int16(sum / int32(f.NumChannels))
		}
		samples = mono
	}
	samples = rtc.Resample(samples, f.SampleRate, v.opts.SampleRate)

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / math.MaxInt16
	}
	return out
}

// segmenter applies the speech and silence durations to per-window probabilities.
type segmenter struct {
	opts     Options
	window   time.Duration
	speaking bool
	speech   time.Duration // accumulated above threshold
	silence  time.Duration // accumulated below deactivation threshold
	started  time.Time
	segment  time.Duration
}

func newSegmenter(opts Options) *segmenter {
	return &segmenter{opts: opts, window: opts.windowDuration()}
}

func (s *segmenter) push(p float64) (vad.Event, bool) {
	if s.speaking {
		s.segment += s.window
		if p < s.opts.deactivationThreshold() {
			s.silence += s.window
		} else {
			s.silence = 0
		}
		if s.silence >= s.opts.MinSilenceDuration {
			s.speaking = false
			s.speech = 0
			return vad.Event{
				Type:           vad.EventSpeechEnd,
				Timestamp:      time.Now(),
				SpeechDuration: s.segment - s.silence,
				Probability:    p,
			}, true
		}
		return vad.Event{}, false
	}

	if p >= s.opts.ActivationThreshold {
		s.speech += s.window
	} else {
		s.speech = 0
	}
	if s.speech >= s.opts.MinSpeechDuration {
		s.speaking = true
		s.silence = 0
		s.segment = s.speech
		s.started = time.Now()
		return vad.Event{Type: vad.EventSpeechStart, Timestamp: s.started, Probability: p}, true
	}
	return vad.Event{}, false
}

// flush closes an open segment when the input ends.
func (s *segmenter) flush() (vad.Event, bool) {
	if !s.speaking {
		return vad.Event{}, false
	}
	s.speaking = false
	return vad.Event{Type: vad.EventSpeechEnd, Timestamp: time.Now(), SpeechDuration: s.segment - s.silence}, true
}
