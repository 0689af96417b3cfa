// Package config loads the pubsync daemon configuration.
//
// A config file is YAML. Unknown keys are rejected, defaults are filled in
// and the result is checked against an embedded CUE schema before any
// component sees it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pubsync/internal/engine"
	"github.com/roach88/pubsync/internal/projector"
	"github.com/roach88/pubsync/internal/remote"
	"github.com/roach88/pubsync/internal/sqldb"
)

// Defaults for fields left empty in the file.
const (
	DefaultDriver   = sqldb.DriverSQLite3
	DefaultDSN      = "pubsync.db"
	DefaultRegion   = "us-east-1"
	DefaultListen   = ":8080"
	DefaultLogLevel = "info"
	DefaultLogFmt   = "text"
)

// Config is the top-level configuration.
type Config struct {
	StoreIdentity string         `yaml:"store_identity" json:"store_identity"`
	Log           LogConfig      `yaml:"log" json:"log"`
	Database      DatabaseConfig `yaml:"database" json:"database"`
	Remote        RemoteConfig   `yaml:"remote" json:"remote"`
	HTTP          HTTPConfig     `yaml:"http" json:"http"`
	Sync          SyncConfig     `yaml:"sync" json:"sync"`
	Entities      []EntityConfig `yaml:"entities" json:"entities"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// DatabaseConfig selects the local database. Driver is one of sqlite3,
// sqlite (pure Go) or pgx.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// RemoteConfig points at the S3 bucket holding records and subscriptions.
// Credentials fall back to the default AWS chain when omitted.
type RemoteConfig struct {
	Bucket          string `yaml:"bucket" json:"bucket,omitempty"`
	Region          string `yaml:"region" json:"region"`
	Endpoint        string `yaml:"endpoint" json:"endpoint,omitempty"`
	Prefix          string `yaml:"prefix" json:"prefix,omitempty"`
	PathStyle       bool   `yaml:"path_style" json:"path_style,omitempty"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key,omitempty"`
	SessionToken    string `yaml:"session_token" json:"session_token,omitempty"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// SyncConfig holds engine tunables shared by every entity.
type SyncConfig struct {
	PageSize           int           `yaml:"page_size" json:"page_size"`
	WatermarkSeedDelay time.Duration `yaml:"watermark_seed_delay" json:"watermark_seed_delay"`
	MaxRetryAttempts   int           `yaml:"max_retry_attempts" json:"max_retry_attempts"`
}

// EntityConfig maps one local entity kind to one remote record type.
type EntityConfig struct {
	Name        string   `yaml:"name" json:"name,omitempty"`
	RecordType  string   `yaml:"record_type" json:"record_type,omitempty"`
	Predicate   string   `yaml:"predicate" json:"predicate"`
	FiresOn     []string `yaml:"fires_on" json:"fires_on"`
	DesiredKeys []string `yaml:"desired_keys" json:"desired_keys,omitempty"`
}

// Load reads, decodes, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML with strict field checking, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every empty field that has a default.
func (c *Config) ApplyDefaults() {
	if c.StoreIdentity == "" {
		c.StoreIdentity = engine.DefaultStoreIdentity
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFmt
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Database.DSN == "" && c.Database.Driver != sqldb.DriverPostgres {
		c.Database.DSN = DefaultDSN
	}
	if c.Remote.Region == "" {
		c.Remote.Region = DefaultRegion
	}
	if c.HTTP.Listen == "" {
		c.HTTP.Listen = DefaultListen
	}
	if c.Sync.WatermarkSeedDelay == 0 {
		c.Sync.WatermarkSeedDelay = engine.DefaultWatermarkSeedDelay
	}
	if c.Sync.MaxRetryAttempts == 0 {
		c.Sync.MaxRetryAttempts = engine.DefaultMaxRetryAttempts
	}
	for i := range c.Entities {
		e := &c.Entities[i]
		if e.RecordType == "" && e.Name != "" {
			e.RecordType = projector.RemoteFieldPrefix + e.Name
		}
		if e.Predicate == "" {
			e.Predicate = engine.DefaultPredicate
		}
		if len(e.FiresOn) == 0 {
			for _, k := range remote.AllEvents {
				e.FiresOn = append(e.FiresOn, string(k))
			}
		}
		if len(e.DesiredKeys) == 0 {
			e.DesiredKeys = []string{engine.DefaultDesiredKey}
		}
	}
}

// Entity returns the entity named name.
func (c *Config) Entity(name string) (EntityConfig, bool) {
	for _, e := range c.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return EntityConfig{}, false
}

// ProjectorConfig builds the projector configuration for e.
func (c *Config) ProjectorConfig(e EntityConfig) projector.Config {
	fires := make([]remote.EventKind, len(e.FiresOn))
	for i, k := range e.FiresOn {
		fires[i] = remote.EventKind(k)
	}
	return projector.Config{
		EntityName:         e.Name,
		RecordType:         e.RecordType,
		StoreIdentity:      c.StoreIdentity,
		PageSize:           c.Sync.PageSize,
		WatermarkSeedDelay: c.Sync.WatermarkSeedDelay,
		MaxRetryAttempts:   c.Sync.MaxRetryAttempts,
		Subscription: engine.SubscriptionConfig{
			Predicate:   e.Predicate,
			FiresOn:     fires,
			DesiredKeys: e.DesiredKeys,
		},
	}
}

// LogLevel maps the configured level name to a slog.Level.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
