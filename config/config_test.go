package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate runs the test in an empty directory so no stray wallora.yaml or
// .env is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Listen != ":3002" || cfg.LogLevel != "info" {
		t.Errorf("listen/log level = %q/%q", cfg.Listen, cfg.LogLevel)
	}
	if cfg.Storage.Type != "memory" || cfg.Storage.MaxSnapshots != 10 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Auth.TokenTTL != 7*24*time.Hour {
		t.Errorf("token ttl = %v", cfg.Auth.TokenTTL)
	}
	if cfg.RemoveBG.BaseURL != "https://api.remove.bg/v1.0" {
		t.Errorf("removebg base url = %q", cfg.RemoveBG.BaseURL)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Errorf("cors origins = %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Thumbnail.Width != 320 {
		t.Errorf("thumbnail width = %d", cfg.Thumbnail.Width)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("WALLORA_STORAGE_TYPE", "SQLite")
	t.Setenv("WALLORA_STORAGE_DSN", "/tmp/walls.db")
	t.Setenv("WALLORA_AUTH_TOKEN_TTL", "48h")
	t.Setenv("WALLORA_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("JWT_SECRET", "legacy-secret")
	t.Setenv("REMOVE_BG_API_KEY", "rb-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.DSN != "/tmp/walls.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Auth.TokenTTL != 48*time.Hour {
		t.Errorf("token ttl = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.JWTSecret != "legacy-secret" {
		t.Errorf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.RemoveBG.APIKey != "rb-key" {
		t.Errorf("removebg key = %q", cfg.RemoveBG.APIKey)
	}
	if got := strings.Join(cfg.CORS.AllowedOrigins, " "); got != "https://a.example https://b.example" {
		t.Errorf("cors origins = %q", got)
	}
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	isolate(t)
	t.Setenv("JWT_SECRET", "legacy")
	t.Setenv("WALLORA_AUTH_JWT_SECRET", "prefixed")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "prefixed" {
		t.Errorf("jwt secret = %q, want prefixed", cfg.Auth.JWTSecret)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := isolate(t)
	yaml := `
listen: ":8080"
log_level: debug
storage:
  type: filesystem
  path: /var/lib/wallora
auth:
  github:
    client_id: gh-id
    client_secret: gh-secret
`
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.LogLevel != "debug" {
		t.Errorf("listen/log level = %q/%q", cfg.Listen, cfg.LogLevel)
	}
	if cfg.Storage.Type != "filesystem" || cfg.Storage.Path != "/var/lib/wallora" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Auth.GitHub.ClientID != "gh-id" || cfg.Auth.GitHub.ClientSecret != "gh-secret" {
		t.Errorf("github = %+v", cfg.Auth.GitHub)
	}
}

func TestLoad_DefaultConfigFileIsOptionalButExplicitIsNot(t *testing.T) {
	dir := isolate(t)

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Load() with a missing explicit config file should fail")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WALLORA_LISTEN=:9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("WALLORA_LISTEN") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("listen = %q, want :9999 from .env", cfg.Listen)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{LogLevel: "info", Storage: StorageConfig{Type: "memory"}, Thumbnail: ThumbnailConfig{Width: 320}}
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown storage", func(c *Config) { c.Storage.Type = "mongo" }, true},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }, true},
		{"s3 with bucket", func(c *Config) { c.Storage.Type = "s3"; c.Storage.Bucket = "walls" }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"zero thumbnail width", func(c *Config) { c.Thumbnail.Width = 0 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
