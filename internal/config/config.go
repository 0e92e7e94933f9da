package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type FilesConfig struct {
	RootDir  string `yaml:"root_dir"`
	FontPath string `yaml:"font_path"`
}

type ChatwootConfig struct {
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	AccountID string        `yaml:"account_id"`
	Timeout   time.Duration `yaml:"timeout"`
	// WebhookToken must be passed as ?token= by inbound webhooks.
	WebhookToken string `yaml:"webhook_token"`
}

type SyncConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BatchSize    int           `yaml:"batch_size"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type Config struct {
	Server struct {
		Port        int      `yaml:"port"`
		JWTSecret   string   `yaml:"jwt_secret"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"url"`
	} `yaml:"database"`
	Chatwoot ChatwootConfig `yaml:"chatwoot"`
	Sync     SyncConfig     `yaml:"sync"`
	Realtime struct {
		Channel string `yaml:"channel"`
	} `yaml:"realtime"`
	Log   LogConfig `yaml:"log"`
	Email struct {
		SMTPHost     string   `yaml:"smtp_host"`
		SMTPPort     int      `yaml:"smtp_port"`
		SMTPUser     string   `yaml:"smtp_user"`
		SMTPPassword string   `yaml:"smtp_password"`
		FromEmail    string   `yaml:"from_email"`
		AlertTo      []string `yaml:"alert_to"`
	} `yaml:"email"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
	Files FilesConfig `yaml:"files"`
}

// LoadConfig reads path, applies environment overrides and fills defaults.
// A missing file is not an error when path is the default one, so the
// service can run from environment variables alone.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"CRMSYNC_DATABASE_URL":       &c.Database.DSN,
		"CRMSYNC_DATABASE_DRIVER":    &c.Database.Driver,
		"CRMSYNC_JWT_SECRET":         &c.Server.JWTSecret,
		"CRMSYNC_CHATWOOT_URL":       &c.Chatwoot.URL,
		"CRMSYNC_CHATWOOT_API_KEY":   &c.Chatwoot.APIKey,
		"CRMSYNC_CHATWOOT_ACCOUNT":   &c.Chatwoot.AccountID,
		"CRMSYNC_WEBHOOK_TOKEN":      &c.Chatwoot.WebhookToken,
		"CRMSYNC_LOG_LEVEL":          &c.Log.Level,
		"CRMSYNC_TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("CRMSYNC_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CRMSYNC_PORT: %w", err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Driver == "" {
		if c.Database.DSN != "" {
			c.Database.Driver = "postgres"
		} else {
			c.Database.Driver = "memory"
		}
	}
	if c.Chatwoot.Timeout == 0 {
		c.Chatwoot.Timeout = 15 * time.Second
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 5 * time.Second
	}
	if c.Sync.BaseDelay == 0 {
		c.Sync.BaseDelay = time.Second
	}
	if c.Sync.MaxDelay == 0 {
		c.Sync.MaxDelay = 5 * time.Minute
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 8
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 50
	}
	if c.Realtime.Channel == "" {
		c.Realtime.Channel = "crm_changes"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Files.RootDir == "" {
		c.Files.RootDir = "./files"
	}
}

// Validate reports every setting the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of postgres, memory", c.Database.Driver))
	}
	if len(c.Server.JWTSecret) < 16 {
		errs = append(errs, errors.New("server.jwt_secret must be at least 16 characters"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Chatwoot.URL != "" && !strings.HasPrefix(c.Chatwoot.URL, "http://") && !strings.HasPrefix(c.Chatwoot.URL, "https://") {
		errs = append(errs, fmt.Errorf("chatwoot.url %q must be an http(s) URL", c.Chatwoot.URL))
	}
	if c.Sync.Workers < 1 {
		errs = append(errs, errors.New("sync.workers must be positive"))
	}
	if c.Sync.MaxDelay < c.Sync.BaseDelay {
		errs = append(errs, errors.New("sync.max_delay must not be below sync.base_delay"))
	}
	return errors.Join(errs...)
}

// ChatwootConfigured reports whether outbound sync can run.
func (c *Config) ChatwootConfigured() bool {
	return c.Chatwoot.URL != "" && c.Chatwoot.APIKey != "" && c.Chatwoot.AccountID != ""
}
