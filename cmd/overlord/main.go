package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeminion/overlord/pkg/chat"
	"github.com/codeminion/overlord/pkg/config"
	"github.com/codeminion/overlord/pkg/log"
	"github.com/codeminion/overlord/pkg/notify"
	"github.com/codeminion/overlord/pkg/overlord"
	"github.com/codeminion/overlord/pkg/queue"
	"github.com/codeminion/overlord/pkg/questions"
	"github.com/codeminion/overlord/pkg/runtime"
	"github.com/codeminion/overlord/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "overlord",
	Short: "Overlord - autonomous issue-to-PR orchestrator",
	Long: `Overlord watches GitHub issue queues and dispatches sandboxed
minion containers to work them, one issue per minion. It tracks liveness,
collects results over a local reporter endpoint, and takes its orders from
chat.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Overlord version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the orchestrator daemon",
	Long: `Start the Overlord: reconcile persisted state against the container
runtime, bring up the reporter endpoint, the watchdog and the cron
scheduler, connect to chat, and dispatch until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := initLogging(cfg); err != nil {
			return err
		}
		logger := log.WithComponent("main")

		store, err := storage.NewBoltStore(cfg.StateDB)
		if err != nil {
			return fmt.Errorf("open state db: %w", err)
		}
		defer store.Close()

		rt, err := buildRuntime(cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		scanner := buildScanner(cfg)
		if scanner == nil {
			logger.Warn().Msg("No GitHub token configured, queue scanning disabled")
		}

		platform, err := buildPlatform(cfg)
		if err != nil {
			return err
		}
		if platform == nil {
			logger.Warn().Msg("Slack tokens not configured, chat disabled")
		}

		var poster notify.Poster
		if platform != nil {
			poster = platform
		}
		notifier := notify.NewManager(poster, cfg.UrgentEnabled, cfg.DigestEnabled)

		orch := overlord.New(cfg, store, rt, scanner, platform,
			questions.NewRegistry(), notifier)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return orch.Run(ctx)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running orchestrator's status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://localhost:%d/status", cfg.HealthPort))
		if err != nil {
			return fmt.Errorf("overlord not reachable on port %d: %w", cfg.HealthPort, err)
		}
		defer resp.Body.Close()

		var pretty map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&pretty); err != nil {
			return err
		}
		out, err := json.MarshalIndent(pretty, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func initLogging(cfg *config.Config) error {
	lc := log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.JSONLogs()}
	if cfg.LogFile != "" {
		out, err := log.OpenFile(cfg.LogFile)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		lc.Output = out
	}
	log.Init(lc)
	return nil
}

func buildRuntime(cfg *config.Config) (runtime.Runtime, error) {
	if cfg.StubMode {
		return runtime.NewStubRuntime(), nil
	}
	// the wall-clock budget is advisory; minions wind down on their own
	env := append([]string{fmt.Sprintf("TIMEOUT_MINUTES=%d", cfg.TimeoutMinutes)}, cfg.MinionEnv...)
	return runtime.NewDockerRuntime(cfg.MinionImage, cfg.NetworkName, cfg.CallbackURL, env)
}

func buildScanner(cfg *config.Config) queue.Scanner {
	if cfg.GitHubToken == "" {
		return nil
	}
	return queue.NewGitHubScanner(cfg.GitHubToken, cfg.WatchedRepos, queue.Labels{
		Ready:      cfg.ReadyLabel,
		InProgress: cfg.ProgressLabel,
		InReview:   cfg.ReviewLabel,
		Attention:  cfg.AttentionLabel,
	})
}

func buildPlatform(cfg *config.Config) (chat.Platform, error) {
	if cfg.SlackBotToken == "" || cfg.SlackAppToken == "" {
		return nil, nil
	}
	return chat.NewSlack(cfg.SlackBotToken, cfg.SlackAppToken, cfg.SlackChannel)
}
