// Package config assembles runtime settings from defaults, an optional YAML
// file, an optional .env file and GOWNQUEUE_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gownqueue/internal/blob"
)

const envPrefix = "GOWNQUEUE_"

// Storage drivers for the local queue store.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Remote drivers for the booking API.
const (
	RemoteMemory   = "memory"
	RemotePostgres = "postgres"
)

type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type Remote struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Replay struct {
	Concurrency       int           `yaml:"concurrency"`
	OptimisticTimeout time.Duration `yaml:"optimistic_timeout"`
}

type Network struct {
	GraceWindow time.Duration `yaml:"grace_window"`
	// StatusFile, when set, is watched for "online"/"offline".
	StatusFile  string `yaml:"status_file"`
	StartOnline bool   `yaml:"start_online"`
}

type Cache struct {
	TTL  time.Duration `yaml:"ttl"`
	Size int           `yaml:"size"`
}

// Export controls queue exports. Keep bounds the retained export runs; zero
// keeps every run.
type Export struct {
	Keep int `yaml:"keep"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the full runtime configuration.
type Config struct {
	HTTPAddr string      `yaml:"http_addr"`
	Storage  Storage     `yaml:"storage"`
	Remote   Remote      `yaml:"remote"`
	Blob     blob.Config `yaml:"blob"`
	Export   Export      `yaml:"export"`
	Replay   Replay      `yaml:"replay"`
	Network  Network     `yaml:"network"`
	Cache    Cache       `yaml:"cache"`
	Log      Log         `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Storage:  Storage{Driver: StorageSQLite, SQLitePath: "gownqueue.db"},
		Remote:   Remote{Driver: RemoteMemory},
		Blob:     blob.Config{Driver: blob.DriverFilesystem, FSRoot: "./blobdata"},
		Replay:   Replay{Concurrency: 4, OptimisticTimeout: 3 * time.Second},
		Network:  Network{GraceWindow: 5 * time.Second, StartOnline: true},
		Cache:    Cache{TTL: 30 * time.Second, Size: 4096},
		Log:      Log{Level: "info"},
	}
}

// Load builds the configuration. path names a YAML file; when empty
// GOWNQUEUE_CONFIG is consulted, and no file is read if both are empty.
// The .env file named by GOWNQUEUE_ENV_FILE (default .env) is loaded when
// present; it never overrides variables already set in the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	envFile := os.Getenv(envPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("stat %s: %w", envFile, err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers and non-positive limits.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Remote.Driver {
	case RemoteMemory:
	case RemotePostgres:
		if c.Remote.DSN == "" {
			return fmt.Errorf("remote dsn required for the postgres remote driver")
		}
	default:
		return fmt.Errorf("unknown remote driver %q", c.Remote.Driver)
	}
	switch c.Blob.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory, blob.DriverS3:
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.Replay.Concurrency <= 0 {
		return fmt.Errorf("replay concurrency must be positive")
	}
	if c.Replay.OptimisticTimeout <= 0 || c.Network.GraceWindow <= 0 || c.Cache.TTL <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.Export.Keep < 0 {
		return fmt.Errorf("export keep must not be negative")
	}
	return nil
}

type binding struct {
	name string
	set  func(string) error
}

func applyEnv(cfg *Config) error {
	bindings := []binding{
		{"HTTP_ADDR", str(&cfg.HTTPAddr)},
		{"STORAGE_DRIVER", str(&cfg.Storage.Driver)},
		{"SQLITE_PATH", str(&cfg.Storage.SQLitePath)},
		{"POSTGRES_DSN", str(&cfg.Storage.PostgresDSN)},
		{"REMOTE_DRIVER", str(&cfg.Remote.Driver)},
		{"REMOTE_DSN", str(&cfg.Remote.DSN)},
		{"BLOB_DRIVER", func(v string) error { cfg.Blob.Driver = blob.Driver(v); return nil }},
		{"BLOB_FS_ROOT", str(&cfg.Blob.FSRoot)},
		{"BLOB_S3_BUCKET", str(&cfg.Blob.S3.Bucket)},
		{"BLOB_S3_REGION", str(&cfg.Blob.S3.Region)},
		{"BLOB_S3_ENDPOINT", str(&cfg.Blob.S3.Endpoint)},
		{"BLOB_S3_PREFIX", str(&cfg.Blob.S3.Prefix)},
		{"BLOB_S3_ACCESS_KEY_ID", str(&cfg.Blob.S3.AccessKeyID)},
		{"BLOB_S3_SECRET_ACCESS_KEY", str(&cfg.Blob.S3.SecretAccessKey)},
		{"BLOB_S3_PATH_STYLE", boolean(&cfg.Blob.S3.PathStyle)},
		{"EXPORT_KEEP", integer(&cfg.Export.Keep)},
		{"REPLAY_CONCURRENCY", integer(&cfg.Replay.Concurrency)},
		{"OPTIMISTIC_TIMEOUT", duration(&cfg.Replay.OptimisticTimeout)},
		{"GRACE_WINDOW", duration(&cfg.Network.GraceWindow)},
		{"NETWORK_FILE", str(&cfg.Network.StatusFile)},
		{"START_ONLINE", boolean(&cfg.Network.StartOnline)},
		{"CACHE_TTL", duration(&cfg.Cache.TTL)},
		{"CACHE_SIZE", integer(&cfg.Cache.Size)},
		{"LOG_LEVEL", str(&cfg.Log.Level)},
		{"LOG_DEVELOPMENT", boolean(&cfg.Log.Development)},
	}
	for _, b := range bindings {
		v, ok := os.LookupEnv(envPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, b.name, err)
		}
	}
	return nil
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolean(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}
