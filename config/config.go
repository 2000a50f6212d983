// Package config loads server settings from an optional wallora.yaml,
// a .env file and WALLORA_* environment variables, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all server configuration
type Config struct {
	Listen    string          `mapstructure:"listen"`
	LogLevel  string          `mapstructure:"log_level"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RemoveBG  RemoveBGConfig  `mapstructure:"removebg"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Thumbnail ThumbnailConfig `mapstructure:"thumbnail"`
}

// StorageConfig selects and configures the session store
type StorageConfig struct {
	Type          string `mapstructure:"type"`
	Path          string `mapstructure:"path"`
	DSN           string `mapstructure:"dsn"`
	Bucket        string `mapstructure:"bucket"`
	Endpoint      string `mapstructure:"endpoint"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	MaxSnapshots  int    `mapstructure:"max_snapshots"`
}

type AuthConfig struct {
	JWTSecret string         `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration  `mapstructure:"token_ttl"`
	GitHub    OAuthAppConfig `mapstructure:"github"`
	OIDC      OIDCAppConfig  `mapstructure:"oidc"`
}

type OAuthAppConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

type OIDCAppConfig struct {
	IssuerURL    string `mapstructure:"issuer_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// RemoveBGConfig configures the background removal proxy
type RemoveBGConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ThumbnailConfig struct {
	Width int `mapstructure:"width"`
}

var storageTypes = map[string]bool{
	"memory":     true,
	"filesystem": true,
	"sqlite":     true,
	"s3":         true,
	"redis":      true,
}

var defaults = map[string]any{
	"listen":                    ":3002",
	"log_level":                 "info",
	"storage.type":              "memory",
	"storage.path":              "./data",
	"storage.dsn":               "wallora.db",
	"storage.bucket":            "",
	"storage.endpoint":          "",
	"storage.redis_addr":        "localhost:6379",
	"storage.redis_password":    "",
	"storage.max_snapshots":     10,
	"auth.jwt_secret":           "",
	"auth.token_ttl":            7 * 24 * time.Hour,
	"auth.github.client_id":     "",
	"auth.github.client_secret": "",
	"auth.github.redirect_url":  "",
	"auth.oidc.issuer_url":      "",
	"auth.oidc.client_id":       "",
	"auth.oidc.client_secret":   "",
	"auth.oidc.redirect_url":    "",
	"removebg.api_key":          "",
	"removebg.base_url":         "https://api.remove.bg/v1.0",
	"cors.allowed_origins":      []string{"*"},
	"thumbnail.width":           320,
}

// Unprefixed variables accepted for compatibility with existing deployments.
var legacyEnv = map[string]string{
	"storage.type":              "STORAGE_TYPE",
	"storage.path":              "LOCAL_STORAGE_PATH",
	"storage.dsn":               "DATA_SOURCE_NAME",
	"storage.bucket":            "S3_BUCKET_NAME",
	"auth.jwt_secret":           "JWT_SECRET",
	"auth.github.client_id":     "GITHUB_CLIENT_ID",
	"auth.github.client_secret": "GITHUB_CLIENT_SECRET",
	"auth.github.redirect_url":  "GITHUB_REDIRECT_URL",
	"auth.oidc.issuer_url":      "OIDC_ISSUER_URL",
	"auth.oidc.client_id":       "OIDC_CLIENT_ID",
	"auth.oidc.client_secret":   "OIDC_CLIENT_SECRET",
	"auth.oidc.redirect_url":    "OIDC_REDIRECT_URL",
	"removebg.api_key":          "REMOVE_BG_API_KEY",
}

// Load reads configuration. configFile may be empty, in which case
// wallora.yaml is looked up in the working directory and is optional.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
		logrus.Debug("No .env file found")
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("wallora")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for key, env := range legacyEnv {
		_ = v.BindEnv(key, "WALLORA_"+envKey(key), env)
	}
	v.SetEnvPrefix("WALLORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail late at startup.
func (c *Config) Validate() error {
	c.Storage.Type = strings.ToLower(c.Storage.Type)
	if !storageTypes[c.Storage.Type] {
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set for s3 storage")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if c.Thumbnail.Width <= 0 {
		return fmt.Errorf("thumbnail.width must be positive, got %d", c.Thumbnail.Width)
	}
	return nil
}

func envKey(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
