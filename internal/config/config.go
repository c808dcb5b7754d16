// Package config handles loading and parsing of the storage service
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the storage service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Blob      BlobConfig      `yaml:"blob"`
	Thumbnail ThumbnailConfig `yaml:"thumbnail"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown drain window in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// MaxChunkSize is the maximum accepted chunk payload in bytes.
	MaxChunkSize int64 `yaml:"max_chunk_size"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig holds settings for the auth service collaborator.
type AuthConfig struct {
	// URL is the base URL of the Rekon auth service.
	URL string `yaml:"url"`
	// Secret is the pre-shared secret proving this is an internal caller.
	Secret string `yaml:"secret"`
	// TimeoutSeconds bounds each verifyToken call.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout returns the verifyToken timeout as a duration.
func (a AuthConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// SessionsConfig holds upload-session store settings.
type SessionsConfig struct {
	// Engine is the session store engine ("sqlite" or "memory").
	Engine string       `yaml:"engine"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig holds SQLite-specific session store settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// BlobConfig holds chunk/artifact storage settings.
type BlobConfig struct {
	// Backend is the blob backend type ("local" or "s3").
	Backend string      `yaml:"backend"`
	Local   LocalConfig `yaml:"local"`
	S3      S3Config    `yaml:"s3"`
}

// LocalConfig holds local filesystem blob settings.
type LocalConfig struct {
	// RootDir is the base directory for staged chunks and artifacts.
	RootDir string `yaml:"root_dir"`
}

// S3Config holds settings for the S3 gateway blob backend.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	// Prefix is the optional key prefix for all staged and final objects.
	Prefix string `yaml:"prefix"`
	// EndpointURL overrides the S3 endpoint (MinIO and friends).
	EndpointURL string `yaml:"endpoint_url"`
	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible servers.
	UsePathStyle bool `yaml:"use_path_style"`
	// AccessKeyID/SecretAccessKey override the default credential chain.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ThumbnailConfig holds thumbnail derivation settings.
type ThumbnailConfig struct {
	// MaxBox is the bounding box (longest side, pixels) thumbnails are
	// downscaled into before encoding.
	MaxBox int `yaml:"max_box"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config. It applies sensible defaults for unset values. If the
// primary path fails, it falls back to rekon-storage.example.yaml in the
// same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "rekon-storage.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "rekon-storage.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8237,
			ShutdownTimeout: 30,
			MaxChunkSize:    8 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			URL:            "http://127.0.0.1:8238",
			TimeoutSeconds: 5,
		},
		Sessions: SessionsConfig{
			Engine: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/sessions.db",
			},
		},
		Blob: BlobConfig{
			Backend: "local",
			Local: LocalConfig{
				RootDir: "./data/files",
			},
		},
		Thumbnail: ThumbnailConfig{
			MaxBox: 100,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8237
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Server.MaxChunkSize == 0 {
		cfg.Server.MaxChunkSize = 8 << 20
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Auth.URL == "" {
		cfg.Auth.URL = "http://127.0.0.1:8238"
	}
	if cfg.Auth.TimeoutSeconds == 0 {
		cfg.Auth.TimeoutSeconds = 5
	}
	if cfg.Sessions.Engine == "" {
		cfg.Sessions.Engine = "sqlite"
	}
	if cfg.Sessions.SQLite.Path == "" {
		cfg.Sessions.SQLite.Path = "./data/sessions.db"
	}
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "local"
	}
	if cfg.Blob.Local.RootDir == "" {
		cfg.Blob.Local.RootDir = "./data/files"
	}
	if cfg.Thumbnail.MaxBox == 0 {
		cfg.Thumbnail.MaxBox = 100
	}
}
