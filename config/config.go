package config

import (
	"context"
	"fmt"
	"time"
)

type StorageConfig struct {
	// Driver selects the key-value substrate: sqlite, postgres or memory.
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
	DSN    string `koanf:"dsn"`
}

type TelegramConfig struct {
	Token      string `koanf:"token"`
	WebhookURL string `koanf:"webhook_url"`
	OwnerID    int64  `koanf:"owner_id"`
	PartnerID  int64  `koanf:"partner_id"`
}

type APIConfig struct {
	Addr     string `koanf:"addr"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// DefaultsConfig is the planning context used until a user sets their own.
type DefaultsConfig struct {
	City        string  `koanf:"city"`
	Temperature float64 `koanf:"temperature"`
	Condition   string  `koanf:"condition"`
}

type SchedulerConfig struct {
	BriefingTime string `koanf:"briefing_time"` // HH:MM
	Reminders    bool   `koanf:"reminders"`
}

type CalDAVConfig struct {
	URL          string `koanf:"url"`
	Username     string `koanf:"username"`
	Password     string `koanf:"password"`
	CalendarPath string `koanf:"calendar_path"`
}

type ImportConfig struct {
	HorizonDays int `koanf:"horizon_days"`
	MaxPerEvent int `koanf:"max_per_event"`
}

type MetricsConfig struct {
	Namespace string `koanf:"namespace"`
}

type Config struct {
	LogLevel  string          `koanf:"log_level"`
	Timezone  string          `koanf:"timezone"`
	Storage   StorageConfig   `koanf:"storage"`
	Telegram  TelegramConfig  `koanf:"telegram"`
	API       APIConfig       `koanf:"api"`
	Defaults  DefaultsConfig  `koanf:"defaults"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	CalDAV    CalDAVConfig    `koanf:"caldav"`
	Import    ImportConfig    `koanf:"import"`
	Metrics   MetricsConfig   `koanf:"metrics"`

	location *time.Location
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel: "info",
		Timezone: "UTC",
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "./data/weatherplanner.db",
		},
		API: APIConfig{
			Addr: ":8080",
		},
		Defaults: DefaultsConfig{
			City:        "Paris",
			Temperature: 20,
			Condition:   "clear sky",
		},
		Scheduler: SchedulerConfig{
			BriefingTime: "08:00",
			Reminders:    true,
		},
		Import: ImportConfig{
			HorizonDays: 90,
			MaxPerEvent: 500,
		},
		Metrics: MetricsConfig{
			Namespace: "weatherplanner",
		},
	}
}

// Location returns the configured time zone. It is resolved by Validate.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// TelegramEnabled reports whether the chat bot should be started
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.Token != ""
}

// CalDAVEnabled reports whether events are pushed to a CalDAV server
func (c *Config) CalDAVEnabled() bool {
	return c.CalDAV.Username != "" && c.CalDAV.Password != ""
}

// IsAllowedUser reports whether a Telegram user may talk to the bot
func (c *Config) IsAllowedUser(telegramID int64) bool {
	if c.Telegram.OwnerID == 0 && c.Telegram.PartnerID == 0 {
		return true
	}
	return telegramID == c.Telegram.OwnerID || (c.Telegram.PartnerID != 0 && telegramID == c.Telegram.PartnerID)
}

// BriefingSpec converts BriefingTime into a cron expression
func (c *Config) BriefingSpec() (string, error) {
	t, err := time.Parse("15:04", c.Scheduler.BriefingTime)
	if err != nil {
		return "", fmt.Errorf("%w: briefing_time %q: %v", ErrInvalidConfig, c.Scheduler.BriefingTime, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

// Validate checks the config and resolves derived values.
func (c *Config) Validate(_ context.Context) error {
	if c.API.Addr == "" {
		return fmt.Errorf("%w: api.addr must not be empty", ErrInvalidConfig)
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage.path is required for sqlite", ErrInvalidConfig)
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for postgres", ErrInvalidConfig)
		}
	case "memory":
	default:
		return fmt.Errorf("%w: unknown storage.driver %q", ErrInvalidConfig, c.Storage.Driver)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("%w: invalid timezone: %v", ErrInvalidConfig, err)
	}
	c.location = loc

	if _, err := c.BriefingSpec(); err != nil {
		return err
	}

	if c.Import.HorizonDays <= 0 {
		c.Import.HorizonDays = 90
	}
	if c.Import.MaxPerEvent <= 0 {
		c.Import.MaxPerEvent = 500
	}
	return nil
}
