package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Addr != ":9876" || cfg.OutboxSize != 64 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "addr: \":7000\"\nping_interval: 30s\noutbox_size: 8\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TASKCHAT_ADDR", ":7100")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7100" {
		t.Fatalf("env should override file, got %q", cfg.Addr)
	}
	if cfg.PingInterval != 30*time.Second || cfg.OutboxSize != 8 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Fatalf("default handshake timeout lost: %v", cfg.HandshakeTimeout)
	}
}

func TestUpdateFromKeepsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.RequireToken = true
	cfg.UpdateFrom(Config{Addr: ":1"})

	if cfg.Addr != ":1" {
		t.Fatalf("override not applied: %+v", cfg)
	}
	if cfg.DatabasePath != "taskchat.db" {
		t.Fatalf("zero override must not clear database path")
	}
	if !cfg.RequireToken {
		t.Fatalf("bools are not merged by UpdateFrom")
	}
}

func TestApplyOverridesBoolsBothWays(t *testing.T) {
	on, off := true, false

	cfg := Default()
	cfg.Apply(Overrides{RequireToken: &on, DatabasePath: "other.db"})
	if !cfg.RequireToken || cfg.DatabasePath != "other.db" || cfg.Addr != ":9876" {
		t.Fatalf("unexpected config after enabling: %+v", cfg)
	}

	cfg.Apply(Overrides{RequireToken: &off})
	if cfg.RequireToken {
		t.Fatalf("explicit false must disable require_token")
	}

	cfg.Apply(Overrides{})
	if cfg.RequireToken || cfg.DatabasePath != "other.db" {
		t.Fatalf("empty overrides must keep values: %+v", cfg)
	}
}
