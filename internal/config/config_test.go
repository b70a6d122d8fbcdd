package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost/enviobox"
jwtSecret: "sekret"
redisAddr: "localhost:6379"
claimRateLimitPerMinute: 20
import:
  fallbackLayout:
    box: 12
    name: 2
    email: 6
    date: 9
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.MaxUploadBytes != 10<<20 {
		t.Fatalf("maxUploadBytes default = %d", cfg.MaxUploadBytes)
	}
	if cfg.Import.FallbackLayout == nil || cfg.Import.FallbackLayout.Box != 12 || cfg.Import.FallbackLayout.Date != 9 {
		t.Fatalf("fallbackLayout = %+v", cfg.Import.FallbackLayout)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `
port: "8080"
databaseURL: "postgres://localhost/enviobox"
jwtSecret: "from-file"
`)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("DATABASE_URL", "postgres://db/enviobox")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWTSecret != "from-env" {
		t.Fatalf("jwtSecret = %q", cfg.JWTSecret)
	}
	if cfg.DatabaseURL != "postgres://db/enviobox" {
		t.Fatalf("databaseURL = %q", cfg.DatabaseURL)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing port", "databaseURL: \"x\"\njwtSecret: \"s\"\n"},
		{"missing secret", "port: \"8080\"\ndatabaseURL: \"x\"\n"},
		{"rate limit without redis", "port: \"8080\"\ndatabaseURL: \"x\"\njwtSecret: \"s\"\nclaimRateLimitPerMinute: 10\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseTokenTTL(t *testing.T) {
	d, err := ParseTokenTTL("")
	if err != nil || d != 0 {
		t.Fatalf("empty ttl: d=%v err=%v", d, err)
	}
	d, err = ParseTokenTTL("48h")
	if err != nil || d != 48*time.Hour {
		t.Fatalf("48h ttl: d=%v err=%v", d, err)
	}
	if _, err := ParseTokenTTL("soon"); err == nil {
		t.Fatalf("expected parse error")
	}
}
