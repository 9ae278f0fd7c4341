// Package config loads the service configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// environment variables prefixed with PAGESYNC_ (a .env file in the working
// directory is loaded first when present). A nested key maps to its
// upper-cased, underscore-joined name, e.g. sync.max_retries is read from
// PAGESYNC_SYNC_MAX_RETRIES.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/pagesync/backend/internal/db"
	"github.com/kimhsiao/pagesync/backend/internal/errors"
	"github.com/kimhsiao/pagesync/backend/internal/logging"
	pagesync "github.com/kimhsiao/pagesync/backend/internal/sync"
	"github.com/kimhsiao/pagesync/backend/internal/sync/scheduler"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PAGESYNC"

// DefaultService is the integration configured out of the box.
const DefaultService = "workspace"

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig           `yaml:"database"`
	Server   ServerConfig             `yaml:"server"`
	Log      LogConfig                `yaml:"log"`
	Services map[string]ServiceConfig `yaml:"services"`
	Sync     SyncConfig               `yaml:"sync"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

type ServerConfig struct {
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// ServiceConfig describes one rate-limited integration.
type ServiceConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Token         string        `yaml:"token"`
	RatePerSecond int           `yaml:"rate_per_second"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	MaxQueue      int           `yaml:"max_queue"`
	RejectOnStop  *bool         `yaml:"reject_on_stop"`
	Timeout       time.Duration `yaml:"timeout"`
}

type SyncConfig struct {
	Service        string        `yaml:"service"` // key into Services used for resources
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	ConflictWindow time.Duration `yaml:"conflict_window"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	HealthWindow   int           `yaml:"health_window"`
	ClaimLease     time.Duration `yaml:"claim_lease"`
	ItemCount      int           `yaml:"item_count"`
	Difficulty     string        `yaml:"difficulty"`
	ResolvedBy     string        `yaml:"resolved_by"`
}

// Default returns the built-in configuration.
func Default() *Config {
	sched := scheduler.DefaultConfig()
	mgr := pagesync.DefaultConfig()
	reject := sched.RejectOnStop

	return &Config{
		Database: DatabaseConfig{Driver: string(db.DialectSQLite), DSN: "./data/pagesync.db"},
		Server:   ServerConfig{Address: ":8080"},
		Log:      LogConfig{Level: string(logging.LevelInfo)},
		Services: map[string]ServiceConfig{
			DefaultService: {
				RatePerSecond: sched.RatePerSecond,
				MaxAttempts:   sched.MaxAttempts,
				BackoffBase:   sched.BackoffBase,
				BackoffMax:    sched.BackoffMax,
				RejectOnStop:  &reject,
				Timeout:       30 * time.Second,
			},
		},
		Sync: SyncConfig{
			Service:        DefaultService,
			MaxRetries:     mgr.MaxRetries,
			RetryDelay:     mgr.RetryDelay,
			RetryInterval:  time.Minute,
			ConflictWindow: mgr.ConflictWindow,
			DebounceWindow: mgr.DebounceWindow,
			HealthWindow:   mgr.HealthWindow,
			ClaimLease:     mgr.ClaimLease,
			ItemCount:      mgr.ItemCount,
			Difficulty:     mgr.Difficulty,
			ResolvedBy:     mgr.ResolvedBy,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalid, "read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrInvalid, fmt.Sprintf("parse config file %s", path), err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logging.Warn("Failed to load .env file", map[string]interface{}{"error": err.Error()})
	}

	applyEnv(cfg, newEnv())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnv overrides cfg with every key set in v.
func applyEnv(cfg *Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	str("database.driver", &cfg.Database.Driver)
	str("database.dsn", &cfg.Database.DSN)
	str("server.address", &cfg.Server.Address)
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = splitList(v.GetString("server.allowed_origins"))
	}
	str("log.level", &cfg.Log.Level)

	str("sync.service", &cfg.Sync.Service)
	num("sync.max_retries", &cfg.Sync.MaxRetries)
	dur("sync.retry_delay", &cfg.Sync.RetryDelay)
	dur("sync.retry_interval", &cfg.Sync.RetryInterval)
	dur("sync.conflict_window", &cfg.Sync.ConflictWindow)
	dur("sync.debounce_window", &cfg.Sync.DebounceWindow)
	num("sync.health_window", &cfg.Sync.HealthWindow)
	dur("sync.claim_lease", &cfg.Sync.ClaimLease)
	num("sync.item_count", &cfg.Sync.ItemCount)
	str("sync.difficulty", &cfg.Sync.Difficulty)
	str("sync.resolved_by", &cfg.Sync.ResolvedBy)

	// PAGESYNC_SERVICE_* configures the service sync talks to.
	svc, ok := cfg.Services[cfg.Sync.Service]
	if !ok {
		return
	}
	str("service.base_url", &svc.BaseURL)
	str("service.token", &svc.Token)
	num("service.rate_per_second", &svc.RatePerSecond)
	num("service.max_attempts", &svc.MaxAttempts)
	num("service.max_queue", &svc.MaxQueue)
	dur("service.timeout", &svc.Timeout)
	if v.IsSet("service.reject_on_stop") {
		reject := v.GetBool("service.reject_on_stop")
		svc.RejectOnStop = &reject
	}
	cfg.Services[cfg.Sync.Service] = svc
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if _, err := db.ParseDialect(c.Database.Driver); err != nil {
		return errors.Wrap(errors.ErrValidation, "database.driver", err)
	}
	if c.Database.DSN == "" {
		return errors.New(errors.ErrValidation, "database.dsn is required")
	}
	if _, ok := c.Services[c.Sync.Service]; !ok {
		return errors.New(errors.ErrValidation, fmt.Sprintf("sync.service %q is not configured", c.Sync.Service))
	}
	for name, svc := range c.Services {
		if svc.MaxAttempts < 0 || svc.MaxQueue < 0 {
			return errors.New(errors.ErrValidation, fmt.Sprintf("services.%s: negative limits", name))
		}
	}
	if c.Sync.MaxRetries < 0 {
		return errors.New(errors.ErrValidation, "sync.max_retries must not be negative")
	}
	return nil
}

// SchedulerConfig converts a service entry to a scheduler configuration.
// Unset fields keep the scheduler defaults.
func (s ServiceConfig) SchedulerConfig() *scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.RatePerSecond = s.RatePerSecond
	if s.MaxAttempts > 0 {
		cfg.MaxAttempts = s.MaxAttempts
	}
	if s.BackoffBase > 0 {
		cfg.BackoffBase = s.BackoffBase
	}
	if s.BackoffMax > 0 {
		cfg.BackoffMax = s.BackoffMax
	}
	cfg.MaxQueue = s.MaxQueue
	if s.RejectOnStop != nil {
		cfg.RejectOnStop = *s.RejectOnStop
	}
	return cfg
}

// Headers returns the headers sent on every request to the service.
func (s ServiceConfig) Headers() map[string]string {
	if s.Token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + s.Token}
}

// ManagerConfig converts the sync section to a manager configuration.
func (s SyncConfig) ManagerConfig() *pagesync.Config {
	return &pagesync.Config{
		MaxRetries:     s.MaxRetries,
		RetryDelay:     s.RetryDelay,
		ConflictWindow: s.ConflictWindow,
		DebounceWindow: s.DebounceWindow,
		HealthWindow:   s.HealthWindow,
		ClaimLease:     s.ClaimLease,
		ItemCount:      s.ItemCount,
		Difficulty:     s.Difficulty,
		ResolvedBy:     s.ResolvedBy,
	}
}
