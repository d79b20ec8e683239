package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "cfg.json", `{
		"telegram": {"token": "123:abc", "admin_ids": [1, 2]},
		"logging": {"level": "debug", "console": true},
		"storage": {"path": "./bot.db", "busy_timeout": "10s"},
		"scheduler": {"workers": 8, "queue_size": 128, "default_timeout": "1m"},
		"publish": {"rate_per_sec": 15, "retry_delay": "5m"},
		"backup": {"enabled": true, "at": "22:30"},
		"default_tz": "Europe/Moscow"
	}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || len(cfg.Telegram.AdminIDs) != 2 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Scheduler.Workers != 8 || cfg.Scheduler.QueueSize != 128 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if got := cfg.RetryDelay(); got != 5*time.Minute {
		t.Fatalf("retry delay = %s", got)
	}
	if got := cfg.BusyTimeout(); got != 10*time.Second {
		t.Fatalf("busy timeout = %s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "cfg.yaml", `
telegram:
  token: "123:abc"
storage:
  path: ./bot.db
backup:
  enabled: true
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Storage.Path != "./bot.db" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Backup.Enabled {
		t.Fatalf("backup not enabled")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "cfg.json", `{"telegram": {"token": "x"}, "surprise": 1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("unknown field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "cfg.json", `{"telegram": {"token": "x"}}{"again": true}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("trailing data accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() Config {
		return Config{
			Telegram: TelegramConfig{Token: "123:abc"},
			Storage:  StorageConfig{Path: "./bot.db"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"minimal ok", func(c *Config) {}, false},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, true},
		{"missing storage path", func(c *Config) { c.Storage.Path = " " }, true},
		{"bad busy timeout", func(c *Config) { c.Storage.BusyTimeout = "soon" }, true},
		{"bad backup time", func(c *Config) { c.Backup.At = "24:00" }, true},
		{"good backup time", func(c *Config) { c.Backup.At = "23:59" }, false},
		{"bad default tz", func(c *Config) { c.DefaultTZ = "Nowhere/Here" }, true},
		{"bad retry delay", func(c *Config) { c.Publish.RetryDelay = "three minutes" }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("want error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestResolveTokenEnvFallback(t *testing.T) {
	cfg := Config{}
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	if got := cfg.ResolveToken(); got != "env-token" {
		t.Fatalf("token = %q", got)
	}
	cfg.Telegram.Token = "file-token"
	if got := cfg.ResolveToken(); got != "file-token" {
		t.Fatalf("file token not preferred: %q", got)
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	if got := cfg.Timezone(); got != DefaultTimezone {
		t.Fatalf("timezone = %q", got)
	}
	if got := cfg.RetryDelay(); got != DefaultRetryDelay {
		t.Fatalf("retry delay = %s", got)
	}
	if cfg.BusyTimeout() <= 0 {
		t.Fatalf("busy timeout = %s", cfg.BusyTimeout())
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		h, m    int
		wantErr bool
	}{
		{"23:59", 23, 59, false},
		{"00:00", 0, 0, false},
		{" 10:05 ", 10, 5, false},
		{"24:00", 0, 0, true},
		{"10:60", 0, 0, true},
		{"10", 0, 0, true},
		{"aa:bb", 0, 0, true},
	}
	for _, tc := range tests {
		h, m, err := ParseHHMM(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseHHMM(%q) accepted", tc.in)
			}
			continue
		}
		if err != nil || h != tc.h || m != tc.m {
			t.Fatalf("ParseHHMM(%q) = %d:%d, %v", tc.in, h, m, err)
		}
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "cfg.json", `{"telegram": {"token": "x"}, "storage": {"path": "./a.db"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{Telegram: TelegramConfig{Token: "y"}, Storage: StorageConfig{Path: "./b.db"}}
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got.Telegram.Token != "y" {
			t.Fatalf("got %+v", got.Telegram)
		}
	case <-time.After(time.Second):
		t.Fatalf("no config delivered")
	}
	if m.Get() != next {
		t.Fatalf("Get did not return committed config")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "cfg.json", `{"telegram": {"token": "x"}, "storage": {"path": "./a.db"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to attach before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"telegram": {"token": "z"}, "storage": {"path": "./a.db"}}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case got := <-ch:
		if got.Telegram.Token != "z" {
			t.Fatalf("reloaded token = %q", got.Telegram.Token)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not deliver updated config")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not stop")
	}
}
