package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/audio/wav"
	"github.com/chriscow/livekit-voice-agent/pkg/inference"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin/silero"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

var vadCmd = &cobra.Command{
	Use:   "vad <file.wav>",
	Short: "Print the speech segments the VAD finds in a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger("console", os.Getenv("LK_LOG_LEVEL"))

		format, frames, err := wav.ReadFile(args[0])
		if err != nil {
			return err
		}
		logger.Debug("Loaded audio",
			slog.String("file", args[0]),
			slog.Int("sample_rate", format.SampleRate),
			slog.Int("channels", format.NumChannels),
			slog.Int("frames", len(frames)))

		n, err := printSegments(cmd.Context(), silero.Load(silero.WithModelDir(cfg.ModelPath)), frames, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		logger.Info("VAD finished", slog.Int("segments", n))
		return nil
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Synthesize text with the dialogue voice into a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger("console", os.Getenv("LK_LOG_LEVEL"))
		out, _ := cmd.Flags().GetString("out")

		p := dialoguePipeline(cfg)
		synth, err := inference.TTS(p.TTSModel, p.Voice)
		if err != nil {
			return err
		}
		n, err := synthesizeToFile(cmd.Context(), synth, tts.SynthesizeRequest{
			Text:     args[0],
			Voice:    p.Voice,
			Language: p.Language,
		}, out)
		if err != nil {
			return err
		}
		logger.Info("Wrote speech",
			slog.String("file", out),
			slog.String("model", synth.Model()),
			slog.Duration("duration", rtc.FrameDuration*time.Duration(n)))
		return nil
	},
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins [kind]",
	Short: "List registered providers",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kind := ""
		if len(args) > 0 {
			kind = args[0]
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-6s %-12s %-8s %s\n", "KIND", "NAME", "VERSION", "DESCRIPTION")
		for _, p := range plugin.List(kind) {
			fmt.Fprintf(w, "%-6s %-12s %-8s %s\n", p.Kind, p.Name, p.Version, p.Description)
		}
	},
}

// printSegments runs v over frames and writes one line per speech segment.
func printSegments(ctx context.Context, v vad.VAD, frames []rtc.AudioFrame, out io.Writer) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan rtc.AudioFrame)
	events, err := v.Detect(ctx, in)
	if err != nil {
		return 0, fmt.Errorf("start VAD: %w", err)
	}

	go func() {
		defer close(in)
		for _, f := range frames {
			select {
			case in <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	segments := 0
	for ev := range events {
		switch ev.Type {
		case vad.EventSpeechEnd:
			segments++
			fmt.Fprintf(out, "segment %d: %s\n", segments, ev.SpeechDuration.Round(rtc.FrameDuration))
		case vad.EventError:
			return segments, ev.Error
		}
	}
	return segments, ctx.Err()
}

// synthesizeToFile writes the synthesized frames to path and returns how many
// were written.
func synthesizeToFile(ctx context.Context, synth tts.TTS, req tts.SynthesizeRequest, path string) (int, error) {
	frames, err := synth.Synthesize(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("synthesize: %w", err)
	}

	var collected []rtc.AudioFrame
	for f := range frames {
		collected = append(collected, f)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(collected) == 0 {
		return 0, fmt.Errorf("synthesize: no audio returned")
	}

	format := wav.Format{SampleRate: collected[0].SampleRate, NumChannels: collected[0].NumChannels}
	if err := wav.WriteFile(path, format, collected); err != nil {
		return 0, err
	}
	return len(collected), nil
}

func init() {
	sayCmd.Flags().String("out", "say.wav", "Output WAV file")
	rootCmd.AddCommand(vadCmd, sayCmd, pluginsCmd)
}
