package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all static settings for one fleet-monitor process. Values are
// read from an optional YAML file (FLEET_CONFIG_FILE) with environment
// variables layered on top, and are fixed for the process lifetime.
type Config struct {
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`

	// Provider API.
	APIBaseURL string `yaml:"api_base_url" validate:"required,url"`
	APIToken   string `yaml:"api_token" validate:"required"`

	// Downstream registry. Empty URL disables reconciliation entirely.
	RegistryURL   string `yaml:"registry_url" validate:"omitempty,url"`
	RegistryToken string `yaml:"registry_token"`
	RegistryTag   string `yaml:"registry_tag"`

	// Telegram notification channel. Both empty disables reporting delivery.
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`

	// Monitoring pass.
	TrafficThreshold    float64       `yaml:"traffic_threshold" validate:"gte=0,lte=1"`
	CheckInterval       time.Duration `yaml:"check_interval" validate:"gte=1s"`
	ErrorCooldown       time.Duration `yaml:"error_cooldown" validate:"gte=1s"`
	MaxRebuildsPerCycle int           `yaml:"max_rebuilds_per_cycle" validate:"gte=1"`
	DryRun              bool          `yaml:"dry_run"`

	// Rebuild workflow.
	ClassPriority    []int64          `yaml:"class_priority" validate:"min=1"`
	ClassNames       map[int64]string `yaml:"class_names"`
	SSHKeyIDs        []int64          `yaml:"ssh_key_ids"`
	Location         string           `yaml:"location" validate:"required"`
	BaseImage        string           `yaml:"base_image" validate:"required"`
	PreserveAddress  bool             `yaml:"preserve_address"`
	InitialFleetSize int              `yaml:"initial_fleet_size" validate:"gte=0"`

	// Bounded waits.
	CreateAttemptsPerClass int           `yaml:"create_attempts_per_class" validate:"gte=1"`
	TransientBackoff       time.Duration `yaml:"transient_backoff" validate:"gte=1s"`
	DeletePollInterval     time.Duration `yaml:"delete_poll_interval" validate:"gte=1s"`
	DeletePollMax          int           `yaml:"delete_poll_max" validate:"gte=1"`
	ReleasePollInterval    time.Duration `yaml:"release_poll_interval" validate:"gte=1s"`
	ReleasePollMax         int           `yaml:"release_poll_max" validate:"gte=1"`
	ProvisionPause         time.Duration `yaml:"provision_pause" validate:"gte=0"`

	// Retiring rebuild variant: snapshot the running instance and recreate
	// from that fresh image instead of requiring an existing snapshot.
	SnapshotBeforeDelete bool          `yaml:"snapshot_before_delete"`
	SnapshotPollInterval time.Duration `yaml:"snapshot_poll_interval" validate:"gte=1s"`
	SnapshotPollMax      int           `yaml:"snapshot_poll_max" validate:"gte=1"`

	// Time window scheduler. Disabled unless both bounds are set.
	SchedulerEnabled bool   `yaml:"scheduler_enabled"`
	WindowStart      string `yaml:"window_start" validate:"omitempty,hhmm"`
	WindowEnd        string `yaml:"window_end" validate:"omitempty,hhmm"`

	// Status/metrics HTTP surface.
	HTTPListenAddr string `yaml:"http_listen_addr"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

var validate = validator.New()

var hhmmRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

func init() {
	validate.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return hhmmRegex.MatchString(fl.Field().String())
	})
}

// Load builds the config: defaults, then the YAML file named by
// FLEET_CONFIG_FILE (if any), then environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("FLEET_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServiceName:         "fleet-monitor",
		LogLevel:            "info",
		APIBaseURL:          "https://api.hetzner.cloud/v1",
		TrafficThreshold:    0.8,
		CheckInterval:       1800 * time.Second,
		ErrorCooldown:       60 * time.Second,
		MaxRebuildsPerCycle: 3,
		ClassPriority:       []int64{116, 110, 117},
		ClassNames: map[int64]string{
			116: "cx43",
			110: "cpx22",
			117: "cx53",
			109: "cpx32",
		},
		Location:               "nbg1",
		BaseImage:              "ubuntu-20.04",
		PreserveAddress:        true,
		InitialFleetSize:       1,
		CreateAttemptsPerClass: 3,
		TransientBackoff:       10 * time.Second,
		DeletePollInterval:     5 * time.Second,
		DeletePollMax:          24,
		ReleasePollInterval:    5 * time.Second,
		ReleasePollMax:         12,
		ProvisionPause:         3 * time.Second,
		SnapshotPollInterval:   5 * time.Second,
		SnapshotPollMax:        36,
		HTTPListenAddr:         ":8080",
	}
}

func applyEnv(cfg *Config) {
	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.APIBaseURL = getEnv("FLEET_API_BASE_URL", cfg.APIBaseURL)
	cfg.APIToken = getEnv("FLEET_API_TOKEN", cfg.APIToken)
	cfg.RegistryURL = getEnv("REGISTRY_URL", cfg.RegistryURL)
	cfg.RegistryToken = getEnv("REGISTRY_TOKEN", cfg.RegistryToken)
	cfg.RegistryTag = getEnv("REGISTRY_TAG", cfg.RegistryTag)
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", cfg.TelegramChatID)
	cfg.TrafficThreshold = getEnvFloat("TRAFFIC_THRESHOLD", cfg.TrafficThreshold)
	cfg.CheckInterval = getEnvSeconds("CHECK_INTERVAL", cfg.CheckInterval)
	cfg.ErrorCooldown = getEnvSeconds("ERROR_COOLDOWN", cfg.ErrorCooldown)
	cfg.MaxRebuildsPerCycle = getEnvInt("MAX_REBUILDS_PER_CYCLE", cfg.MaxRebuildsPerCycle)
	cfg.DryRun = getEnvBool("DRY_RUN", cfg.DryRun)
	cfg.ClassPriority = getEnvInt64List("SERVER_CLASSES", cfg.ClassPriority)
	cfg.SSHKeyIDs = getEnvInt64List("SSH_KEY_IDS", cfg.SSHKeyIDs)
	cfg.Location = getEnv("LOCATION", cfg.Location)
	cfg.BaseImage = getEnv("BASE_IMAGE", cfg.BaseImage)
	cfg.PreserveAddress = getEnvBool("PRESERVE_ADDRESS", cfg.PreserveAddress)
	cfg.SnapshotBeforeDelete = getEnvBool("SNAPSHOT_BEFORE_DELETE", cfg.SnapshotBeforeDelete)
	cfg.InitialFleetSize = getEnvInt("INITIAL_FLEET_SIZE", cfg.InitialFleetSize)
	cfg.SchedulerEnabled = getEnvBool("SCHEDULER_ENABLED", cfg.SchedulerEnabled)
	cfg.WindowStart = getEnv("WINDOW_START", cfg.WindowStart)
	cfg.WindowEnd = getEnv("WINDOW_END", cfg.WindowEnd)
	cfg.HTTPListenAddr = getEnv("HTTP_LISTEN_ADDR", cfg.HTTPListenAddr)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
}

// Validate checks the assembled config. Called once at startup; a failure
// here is the only fatal error class in the system.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if c.SchedulerEnabled && (c.WindowStart == "" || c.WindowEnd == "") {
		return fmt.Errorf("scheduler enabled but window_start/window_end not set")
	}
	return nil
}

// ClassName returns the human-readable name for a class ID, falling back to
// a numeric placeholder for unknown classes.
func (c *Config) ClassName(id int64) string {
	if name, ok := c.ClassNames[id]; ok {
		return name
	}
	return fmt.Sprintf("type_%d", id)
}

// ClassPriorityNames renders the fallback order with human-readable class
// names, for startup logging and reports.
func (c *Config) ClassPriorityNames() []string {
	out := make([]string, 0, len(c.ClassPriority))
	for _, id := range c.ClassPriority {
		out = append(out, fmt.Sprintf("%d (%s)", id, c.ClassName(id)))
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvSeconds reads an integer number of seconds, matching the units the
// original deployment used for its interval settings.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnvInt64List(key string, fallback []int64) []int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
