package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken    string             `yaml:"discord_token"`
	DatabasePath    string             `yaml:"database_path"`
	LogLevel        string             `yaml:"log_level"`
	OperatorChannel string             `yaml:"operator_channel"`
	Health          HealthConfig       `yaml:"health"`
	Lists           ListsConfig        `yaml:"lists"`
	Safebrowsing    SafebrowsingConfig `yaml:"safebrowsing"`
	Automod         AutomodConfig      `yaml:"automod"`
	Notifications   NotifyConfig       `yaml:"notifications"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type ListsConfig struct {
	AllowFile string `yaml:"allow_file"`
	DenyFile  string `yaml:"deny_file"`
}

type SafebrowsingConfig struct {
	APIKey                string  `yaml:"api_key"`
	ClientID              string  `yaml:"client_id"`
	ClientVersion         string  `yaml:"client_version"`
	BatchSize             int     `yaml:"batch_size"`
	SafeTTLMinutes        int     `yaml:"safe_ttl_minutes"`
	ResolveTimeoutSeconds float64 `yaml:"resolve_timeout_seconds"`
	Retries               int     `yaml:"retries"`
}

// RatePolicy is one named rate-limit rule: occurrences per window, plus an
// optional bound on how many recent message ids the rule keeps for purging.
type RatePolicy struct {
	WindowSeconds float64 `yaml:"window_seconds"`
	Quota         int     `yaml:"quota"`
	TrackedItems  int     `yaml:"tracked_items"`
}

type AutomodConfig struct {
	MessageRate    RatePolicy `yaml:"message_rate"`
	DuplicateRate  RatePolicy `yaml:"duplicate_rate"`
	InviteRate     RatePolicy `yaml:"invite_rate"`
	LinkRate       RatePolicy `yaml:"link_rate"`
	AttachmentRate RatePolicy `yaml:"attachment_rate"`
	MentionRate    RatePolicy `yaml:"mention_rate"`

	// MentionLimit blocks any single message naming more than this many
	// distinct non-author, non-bot users.
	MentionLimit int `yaml:"mention_limit"`
	// DuplicateDistance is the edit-distance threshold below which two
	// consecutive messages count as duplicates.
	DuplicateDistance   int  `yaml:"duplicate_distance"`
	BlockInvites        bool `yaml:"block_invites"`
	BlockFakeHyperlinks bool `yaml:"block_fake_hyperlinks"`
	// FailClosed blocks messages whose links could not be verified against
	// the reputation service. Default is to fail open.
	FailClosed bool `yaml:"fail_closed"`
	// MaxTrackedKeys caps limiter state per rule; least recently active
	// keys are evicted.
	MaxTrackedKeys int `yaml:"max_tracked_keys"`
}

type NotifyConfig struct {
	AuditToChannel bool `yaml:"audit_to_channel"`
	DMNotice       bool `yaml:"dm_notice"`
	DailySummary   bool `yaml:"daily_summary"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath: "/data/warden.db",
		LogLevel:     "info",
		Health:       HealthConfig{Enabled: false, Addr: ":8080"},
		Safebrowsing: SafebrowsingConfig{
			ClientID:              "wardenbot",
			ClientVersion:         "1.0.0",
			BatchSize:             5,
			SafeTTLMinutes:        30,
			ResolveTimeoutSeconds: 10,
			Retries:               2,
		},
		Automod: AutomodConfig{
			MessageRate:         RatePolicy{WindowSeconds: 5, Quota: 5},
			DuplicateRate:       RatePolicy{WindowSeconds: 10, Quota: 4, TrackedItems: 4},
			InviteRate:          RatePolicy{WindowSeconds: 30, Quota: 2},
			LinkRate:            RatePolicy{WindowSeconds: 30, Quota: 3},
			AttachmentRate:      RatePolicy{WindowSeconds: 30, Quota: 2},
			MentionRate:         RatePolicy{WindowSeconds: 30, Quota: 3, TrackedItems: 2},
			MentionLimit:        9,
			DuplicateDistance:   5,
			BlockInvites:        true,
			BlockFakeHyperlinks: true,
			FailClosed:          false,
			MaxTrackedKeys:      4096,
		},
		Notifications: NotifyConfig{
			AuditToChannel: true,
			DMNotice:       true,
			DailySummary:   true,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.OperatorChannel = envString("OPERATOR_CHANNEL", cfg.OperatorChannel)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Lists.AllowFile = envString("DOMAIN_ALLOW_FILE", cfg.Lists.AllowFile)
	cfg.Lists.DenyFile = envString("DOMAIN_DENY_FILE", cfg.Lists.DenyFile)
	cfg.Safebrowsing.APIKey = envString("SAFEBROWSING_API_KEY", cfg.Safebrowsing.APIKey)
	cfg.Safebrowsing.BatchSize = envInt("SAFEBROWSING_BATCH_SIZE", cfg.Safebrowsing.BatchSize)
	cfg.Automod.MentionLimit = envInt("MENTION_LIMIT", cfg.Automod.MentionLimit)
	cfg.Automod.BlockInvites = envBool("BLOCK_INVITES", cfg.Automod.BlockInvites)
	cfg.Automod.BlockFakeHyperlinks = envBool("BLOCK_FAKE_HYPERLINKS", cfg.Automod.BlockFakeHyperlinks)
	cfg.Automod.FailClosed = envBool("AUTOMOD_FAIL_CLOSED", cfg.Automod.FailClosed)
	cfg.Notifications.AuditToChannel = envBool("AUDIT_TO_CHANNEL", cfg.Notifications.AuditToChannel)
	cfg.Notifications.DMNotice = envBool("DM_NOTICE", cfg.Notifications.DMNotice)
	cfg.Notifications.DailySummary = envBool("DAILY_SUMMARY", cfg.Notifications.DailySummary)
}

func validate(cfg Config) error {
	policies := []struct {
		name   string
		policy RatePolicy
	}{
		{"message_rate", cfg.Automod.MessageRate},
		{"duplicate_rate", cfg.Automod.DuplicateRate},
		{"invite_rate", cfg.Automod.InviteRate},
		{"link_rate", cfg.Automod.LinkRate},
		{"attachment_rate", cfg.Automod.AttachmentRate},
		{"mention_rate", cfg.Automod.MentionRate},
	}
	for _, entry := range policies {
		if entry.policy.WindowSeconds <= 0 {
			return errors.New("automod." + entry.name + ".window_seconds must be positive")
		}
		if entry.policy.Quota < 0 {
			return errors.New("automod." + entry.name + ".quota must not be negative")
		}
		if entry.policy.TrackedItems < 0 {
			return errors.New("automod." + entry.name + ".tracked_items must not be negative")
		}
	}
	if cfg.Automod.MentionLimit <= 0 {
		return errors.New("automod.mention_limit must be positive")
	}
	if cfg.Automod.DuplicateDistance <= 0 {
		return errors.New("automod.duplicate_distance must be positive")
	}
	return nil
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
