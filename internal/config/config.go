// Package config loads the server configuration.
//
// LAYERING:
// Values are resolved in three passes, each overriding the previous one:
//  1. built-in defaults (the embedded config.example.toml)
//  2. an optional TOML file (CONFIG_PATH or the -config path)
//  3. environment variables (PORT, DATA_ROOT, STORE_BACKEND, S3_*)
//
// The environment wins so a container can tweak one value without shipping a file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Storage backends.
const (
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Upload  UploadConfig  `toml:"upload"`
	Sync    SyncConfig    `toml:"sync"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port             int    `toml:"port"`
	PublicDir        string `toml:"public_dir"`
	CookieMaxAgeDays int    `toml:"cookie_max_age_days"`
	LogLevel         string `toml:"log_level"`
}

// StorageConfig selects and configures the frame store backend.
type StorageConfig struct {
	Backend  string   `toml:"backend"`
	DataRoot string   `toml:"data_root"`
	S3       S3Config `toml:"s3"`
}

// S3Config configures the object storage backend. Endpoint is only needed
// for S3-compatible services (MinIO and friends).
type S3Config struct {
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Prefix    string `toml:"prefix"`
}

// UploadConfig bounds a single upload request.
type UploadConfig struct {
	MaxFiles    int   `toml:"max_files"`
	MaxFileSize int64 `toml:"max_file_size"`
}

// SyncConfig configures the sync relay.
type SyncConfig struct {
	Channel string `toml:"channel"`
	Buffer  int    `toml:"buffer"`
}

// CookieMaxAge returns the identity cookie lifetime.
func (c ServerConfig) CookieMaxAge() time.Duration {
	return time.Duration(c.CookieMaxAgeDays) * 24 * time.Hour
}

// Level parses LogLevel ("debug", "info", "warn", "error").
func (c ServerConfig) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("server.log_level: %w", err)
	}
	return lvl, nil
}

// Default returns the built-in configuration parsed from the embedded example file.
func Default() *Config {
	var cfg Config
	if err := toml.Unmarshal(exampleConf, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &cfg
}

// Load resolves the configuration from defaults, the TOML file at path (if
// path is non-empty) and the environment, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v) // Atoi = ASCII to Integer
		if err != nil {
			return fmt.Errorf("invalid PORT value %q: %w", v, err)
		}
		c.Server.Port = port
	}

	strs := map[string]*string{
		"PUBLIC_DIR":    &c.Server.PublicDir,
		"LOG_LEVEL":     &c.Server.LogLevel,
		"DATA_ROOT":     &c.Storage.DataRoot,
		"STORE_BACKEND": &c.Storage.Backend,
		"S3_BUCKET":     &c.Storage.S3.Bucket,
		"S3_REGION":     &c.Storage.S3.Region,
		"S3_ENDPOINT":   &c.Storage.S3.Endpoint,
		"S3_ACCESS_KEY": &c.Storage.S3.AccessKey,
		"S3_SECRET_KEY": &c.Storage.S3.SecretKey,
		"S3_PREFIX":     &c.Storage.S3.Prefix,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := c.Server.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.Upload.MaxFiles <= 0 {
		errs = append(errs, errors.New("upload.max_files must be positive"))
	}
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, errors.New("upload.max_file_size must be positive"))
	}
	if c.Sync.Buffer <= 0 {
		errs = append(errs, errors.New("sync.buffer must be positive"))
	}

	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	switch c.Storage.Backend {
	case BackendFS:
		if c.Storage.DataRoot == "" {
			errs = append(errs, errors.New("storage.data_root is required for the fs backend"))
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required for the s3 backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	return errors.Join(errs...)
}
