package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chriscow/livekit-voice-agent/agents"
	"github.com/chriscow/livekit-voice-agent/internal/config"
	"github.com/chriscow/livekit-voice-agent/internal/worker"
	"github.com/chriscow/livekit-voice-agent/pkg/job"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	"github.com/chriscow/livekit-voice-agent/pkg/version"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "LiveKit voice agent worker",
	Long: `agent registers with a LiveKit server and joins rooms as a voice agent.
The presence entrypoint advertises the agent in the room; the dialogue
entrypoint runs a Japanese speech-to-speech conversation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(config.EnvFile); err != nil {
			return err
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = applyFlags(cmd, loaded)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the worker in production mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger(os.Getenv("LK_LOG_FORMAT"), os.Getenv("LK_LOG_LEVEL"))
		return runWorker(cmd.Context(), logger)
	},
}

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Run the worker with console logs at debug level",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger("console", "debug")
		return runWorker(cmd.Context(), logger)
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Run one job directly in a room, without dispatch",
	RunE: func(cmd *cobra.Command, args []string) error {
		room, _ := cmd.Flags().GetString("room")
		identity, _ := cmd.Flags().GetString("identity")
		if room == "" {
			return fmt.Errorf("--room is required")
		}

		logger := setupLogger("console", os.Getenv("LK_LOG_LEVEL"))
		return runConnect(cmd.Context(), room, identity, logger)
	},
}

var downloadFilesCmd = &cobra.Command{
	Use:   "download-files",
	Short: "Download the VAD and turn detector model files",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger(os.Getenv("LK_LOG_FORMAT"), os.Getenv("LK_LOG_LEVEL"))
		if cfg.ModelPath != "" {
			os.Setenv("LK_MODEL_PATH", cfg.ModelPath)
		}

		start := time.Now()
		logger.Info("Downloading model files", slog.Int("plugins", len(plugin.List(""))))
		if err := plugin.Default().DownloadAll(cmd.Context()); err != nil {
			return err
		}
		logger.Info("Model files ready", slog.Duration("elapsed", time.Since(start)))
		return nil
	},
}

func runWorker(ctx context.Context, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	entry, err := agents.Lookup(agents.Entrypoints(dialoguePipeline(cfg)), cfg.Entrypoint)
	if err != nil {
		return err
	}

	logger.Info("Starting agent",
		slog.String("version", version.Version),
		slog.String("commit", version.GitCommit),
		slog.String("entrypoint", entryName()),
		slog.String("url", cfg.URL))

	w, err := worker.New(worker.Config{
		URL:        cfg.URL,
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		AgentName:  cfg.AgentName,
		Version:    version.AgentVersion(),
		MaxJobs:    cfg.MaxJobs,
		Entrypoint: worker.JobFunc(entry),
		Connector:  job.LiveKitConnector{URL: cfg.URL, Logger: logger},
	}, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.ServeHealth(ctx, cfg.HealthAddr) })
	g.Go(func() error { return w.Run(ctx) })
	return g.Wait()
}

func runConnect(ctx context.Context, room, identity string, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	entry, err := agents.Lookup(agents.Entrypoints(dialoguePipeline(cfg)), cfg.Entrypoint)
	if err != nil {
		return err
	}
	if identity == "" {
		identity = "agent-" + uuid.NewString()[:8]
	}

	token, err := auth.NewAccessToken(cfg.APIKey, cfg.APISecret).
		SetIdentity(identity).
		SetName(cfg.AgentName).
		SetValidFor(24 * time.Hour).
		SetVideoGrant(&auth.VideoGrant{RoomJoin: true, Room: room, Agent: true}).
		ToJWT()
	if err != nil {
		return fmt.Errorf("create room token: %w", err)
	}

	info := job.Info{
		ID:            "connect-" + uuid.NewString()[:8],
		RoomName:      room,
		AgentIdentity: &identity,
		URL:           cfg.URL,
		Token:         token,
	}
	jc := job.NewContext(context.WithoutCancel(ctx), info, job.LiveKitConnector{Logger: logger}, logger)
	stop := context.AfterFunc(ctx, func() { jc.Shutdown("worker shutdown") })
	defer stop()

	logger.Info("Running job directly",
		slog.String("room", room),
		slog.String("identity", identity),
		slog.String("entrypoint", entryName()))
	return worker.RunJob(jc, worker.JobFunc(entry))
}

// dialoguePipeline is the default pipeline with the configured model directory.
func dialoguePipeline(c config.Config) agents.Pipeline {
	p := agents.DefaultPipeline()
	p.ModelPath = c.ModelPath
	return p
}

func entryName() string {
	if cfg.Entrypoint == "" {
		return agents.DefaultEntrypoint
	}
	return cfg.Entrypoint
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("entrypoint", "", "Job entrypoint: presence|dialogue (env AGENT_ENTRYPOINT)")
	pf.String("url", "", "LiveKit server URL (env LIVEKIT_URL)")
	pf.String("api-key", "", "LiveKit API key (env LIVEKIT_API_KEY)")
	pf.String("api-secret", "", "LiveKit API secret (env LIVEKIT_API_SECRET)")
	pf.String("agent-name", "", "Agent name used for explicit dispatch (env AGENT_NAME)")
	pf.Int("max-jobs", 0, "Concurrent jobs per worker (env AGENT_MAX_JOBS)")
	pf.String("health-addr", "", "Health endpoint address (env LK_HEALTH_ADDR)")
	pf.String("model-path", "", "Model file directory (env LK_MODEL_PATH)")

	connectCmd.Flags().String("room", "", "Room name to join")
	connectCmd.Flags().String("identity", "", "Participant identity for the agent")

	rootCmd.AddCommand(versionCmd, startCmd, devCmd, connectCmd, downloadFilesCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
