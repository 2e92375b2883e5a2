package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"roadcheck/internal/config"
)

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roadcheck.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" || cfg.Server.BasePath != "/v1" {
		t.Fatalf("server config = %+v", cfg.Server)
	}
	if cfg.Auth.TokenTTLMinutes != 60 {
		t.Fatalf("token ttl = %d", cfg.Auth.TokenTTLMinutes)
	}
}

func TestFromFileRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roadcheck.yml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.FromFile(path); err == nil {
		t.Fatal("expected a validation error for an empty addr")
	}
}
