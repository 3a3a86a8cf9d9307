package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the immutable configuration snapshot for one process lifetime.
// Values come from an optional YAML file overlaid by environment variables;
// environment wins.
type Config struct {
	// Dispatch
	MaxConcurrent  int           `env:"MAX_CONCURRENT" yaml:"max_concurrent" envDefault:"3" validate:"gte=1,lte=64"`
	TimeoutMinutes int           `env:"TIMEOUT_MINUTES" yaml:"timeout_minutes" envDefault:"60" validate:"gte=1"`
	WatchedRepos   []string      `env:"WATCHED_REPOS" yaml:"watched_repos" envSeparator:"," validate:"min=1,dive,repo"`
	DefaultRepo    string        `env:"DEFAULT_REPO" yaml:"default_repo" validate:"omitempty,repo"`
	MinionImage    string        `env:"MINION_IMAGE" yaml:"minion_image" envDefault:"overlord/minion:latest" validate:"required"`
	MinionEnv      []string      `env:"MINION_ENV" yaml:"minion_env" envSeparator:","`
	NetworkName    string        `env:"NETWORK_NAME" yaml:"network_name" envDefault:"overlord-net" validate:"required"`
	CallbackURL    string        `env:"CALLBACK_URL" yaml:"callback_url" envDefault:"http://overlord:8490" validate:"url"`
	StubMode       bool          `env:"STUB_MODE" yaml:"stub_mode"`
	HeartbeatTTL   time.Duration `env:"HEARTBEAT_TIMEOUT" yaml:"heartbeat_timeout" envDefault:"5m" validate:"gte=30s"`

	// Loops
	WatchdogInterval time.Duration `env:"WATCHDOG_INTERVAL" yaml:"watchdog_interval" envDefault:"60s" validate:"gte=5s"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" yaml:"cleanup_interval" envDefault:"30m" validate:"gte=1m"`
	QuestionTTL      time.Duration `env:"QUESTION_TTL" yaml:"question_ttl" envDefault:"24h" validate:"gte=1m"`
	CronEnabled      bool          `env:"CRON_ENABLED" yaml:"cron_enabled" envDefault:"true"`
	CronSchedule     string        `env:"CRON_SCHEDULE" yaml:"cron_schedule" envDefault:"0 2 * * *" validate:"required"`

	// HTTP
	HealthPort int `env:"HEALTH_PORT" yaml:"health_port" envDefault:"8490" validate:"gte=1,lte=65535"`

	// State
	StateDB string `env:"STATE_DB" yaml:"state_db" envDefault:"overlord-state.db" validate:"required"`

	// Queue source
	GitHubToken    string `env:"GITHUB_TOKEN" yaml:"github_token"`
	ReadyLabel     string `env:"READY_LABEL" yaml:"ready_label" envDefault:"minion-ready" validate:"required"`
	ProgressLabel  string `env:"IN_PROGRESS_LABEL" yaml:"in_progress_label" envDefault:"minion-working" validate:"required"`
	ReviewLabel    string `env:"IN_REVIEW_LABEL" yaml:"in_review_label" envDefault:"minion-review" validate:"required"`
	AttentionLabel string `env:"NEEDS_ATTENTION_LABEL" yaml:"needs_attention_label" envDefault:"minion-attention" validate:"required"`

	// Chat
	SlackBotToken  string        `env:"SLACK_BOT_TOKEN" yaml:"slack_bot_token"`
	SlackAppToken  string        `env:"SLACK_APP_TOKEN" yaml:"slack_app_token"`
	SlackChannel   string        `env:"SLACK_CHANNEL" yaml:"slack_channel"`
	UrgentEnabled  bool          `env:"URGENT_ENABLED" yaml:"urgent_enabled" envDefault:"true"`
	DigestEnabled  bool          `env:"DIGEST_ENABLED" yaml:"digest_enabled" envDefault:"true"`
	DigestInterval time.Duration `env:"DIGEST_INTERVAL" yaml:"digest_interval" envDefault:"6h" validate:"gte=1m"`

	// LLM warm-up (optional; empty URL disables it)
	LLMWarmupURL    string        `env:"LLM_WARMUP_URL" yaml:"llm_warmup_url" validate:"omitempty,url"`
	LLMAPIKey       string        `env:"LLM_API_KEY" yaml:"llm_api_key"`
	LLMWarmupBudget time.Duration `env:"LLM_WARMUP_TIMEOUT" yaml:"llm_warmup_timeout" envDefault:"30s" validate:"gte=1s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" yaml:"log_level" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" yaml:"log_format" envDefault:"console" validate:"oneof=console json"`
	LogFile   string `env:"LOG_FILE" yaml:"log_file"`
}

// HeartbeatTimeout returns the staleness threshold the watchdog enforces.
func (c *Config) HeartbeatTimeout() time.Duration { return c.HeartbeatTTL }

// JSONLogs reports whether log output should be JSON.
func (c *Config) JSONLogs() bool { return strings.EqualFold(c.LogFormat, "json") }

// Watches reports whether repo is one of the configured queue targets.
func (c *Config) Watches(repo string) bool {
	for _, r := range c.WatchedRepos {
		if strings.EqualFold(r, repo) {
			return true
		}
	}
	return false
}

// Load builds a Config from the optional YAML file at path plus the
// environment. An empty path skips the file. Precedence is defaults,
// then file, then environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	// Tag defaults first, against an empty environment so real variables
	// do not leak in before the file overlay.
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment pass with defaults disarmed, so unset variables leave
	// the file values alone.
	if err := env.ParseWithOptions(cfg, env.Options{DefaultValueTagName: "envNoDefault"}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.DefaultRepo == "" && len(cfg.WatchedRepos) > 0 {
		cfg.DefaultRepo = cfg.WatchedRepos[0]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the snapshot. Invalid configuration is fatal at start.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("repo", validRepo); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// validRepo accepts the "owner/name" form GitHub uses.
func validRepo(fl validator.FieldLevel) bool {
	parts := strings.Split(fl.Field().String(), "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}
