package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`

	// Scheduler controls the job queue driving publish and backup jobs.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Publish controls outbound delivery behavior.
	Publish PublishConfig `json:"publish,omitempty"`

	// Backup controls the daily week-export job.
	Backup BackupConfig `json:"backup,omitempty"`

	// DefaultTZ is the IANA timezone used for new projects and for the
	// backup cadence. Projects carry their own timezone after creation.
	DefaultTZ string `json:"default_tz,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and provided via the
	// TELEGRAM_BOT_TOKEN environment variable instead.
	Token string `json:"token"`

	// AdminIDs are bot-level operators. The backup emitter falls back to
	// the first of these when a project has neither owner nor admins.
	AdminIDs []int64 `json:"admin_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite persistence layer.
//
// Example:
//
//	"storage": { "path": "./planbot.db" }
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (e.g. "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the job queue.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout bounds a single job execution. "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

type PublishConfig struct {
	// RatePerSec caps outbound sends (Telegram flood control).
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// RetryDelay is the single-shot retry delay after a failed delivery.
	RetryDelay string `json:"retry_delay,omitempty"`
}

type BackupConfig struct {
	Enabled bool `json:"enabled"`
	// At is local wall-clock HH:MM in DefaultTZ.
	At string `json:"at,omitempty"`
}

const (
	DefaultBackupAt    = "23:59"
	DefaultRetryDelay  = 3 * time.Minute
	DefaultRatePerSec  = 20
	DefaultTimezone    = "Europe/Moscow"
	defaultBusyTimeout = 5 * time.Second
)

// ResolveToken returns the bot token from the config or the environment.
func (c *Config) ResolveToken() string {
	if t := strings.TrimSpace(c.Telegram.Token); t != "" {
		return t
	}
	return strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
}

// Timezone returns the configured default timezone name.
func (c *Config) Timezone() string {
	if tz := strings.TrimSpace(c.DefaultTZ); tz != "" {
		return tz
	}
	return DefaultTimezone
}

// Validate rejects configs that cannot possibly run. It is also installed as
// the hot-reload validation hook so a bad edit never replaces a good config.
func (c *Config) Validate() error {
	if c.ResolveToken() == "" {
		return errors.New("telegram.token is empty (set it or TELEGRAM_BOT_TOKEN)")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.default_timeout", c.Scheduler.DefaultTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("publish.retry_delay", c.Publish.RetryDelay); err != nil {
		return err
	}
	if at := strings.TrimSpace(c.Backup.At); at != "" {
		if _, _, err := ParseHHMM(at); err != nil {
			return fmt.Errorf("backup.at: %w", err)
		}
	}
	if _, err := time.LoadLocation(c.Timezone()); err != nil {
		return fmt.Errorf("default_tz: unknown timezone %q", c.Timezone())
	}
	return nil
}

// BusyTimeout returns the parsed sqlite busy timeout.
func (c *Config) BusyTimeout() time.Duration {
	d, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil || d <= 0 {
		return defaultBusyTimeout
	}
	return d
}

// RetryDelay returns the parsed publish retry delay.
func (c *Config) RetryDelay() time.Duration {
	d, err := ParseDurationField("publish.retry_delay", c.Publish.RetryDelay)
	if err != nil || d <= 0 {
		return DefaultRetryDelay
	}
	return d
}
