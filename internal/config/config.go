package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// EnvMongoURL overrides db.connection when set.
const EnvMongoURL = "MONGO_URL"

var (
	ErrMissingConnection = errors.New("mongo connection string is required (set MONGO_URL or db.connection)")
	ErrMissingDatabase   = errors.New("db.database is required")
	ErrNoSources         = errors.New("at least one source must be enabled")
	ErrUnknownKind       = errors.New("unknown source kind")
	ErrUnknownSource     = errors.New("unknown source")
	ErrInvalidWriteMode  = errors.New("write_mode must be 'upsert' or 'insert'")
	ErrInvalidRetries    = errors.New("logic.max_retries must be non-negative")
)

type WriteMode string

const (
	WriteUpsert WriteMode = "upsert"
	WriteInsert WriteMode = "insert"
)

// Kinds lists the partner adapters the fetcher knows how to drive.
var Kinds = []string{"ciudad", "lanacion", "supervielle", "personal", "santander", "icbc"}

type SourceConfig struct {
	Name        string            `yaml:"name"`
	Kind        string            `yaml:"kind"`
	Collection  string            `yaml:"collection"`
	BaseURL     string            `yaml:"base_url"`
	PageSize    int               `yaml:"page_size"`
	StartPage   int               `yaml:"start_page"`
	MaxPages    int               `yaml:"max_pages"`
	WriteMode   WriteMode         `yaml:"write_mode"`
	InsecureTLS *bool             `yaml:"insecure_tls"`
	Headers     map[string]string `yaml:"headers"`
	Disabled    bool              `yaml:"disabled"`
	// Aliases are extra names the source answers to, such as legacy API paths.
	Aliases []string `yaml:"aliases"`
}

// Matches reports whether name refers to the source stored under key.
func (s SourceConfig) Matches(key, name string) bool {
	if strings.EqualFold(key, name) || strings.EqualFold(s.Name, name) {
		return true
	}
	for _, alias := range s.Aliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}

// RelaxedTLS reports whether certificate checks are skipped for the source.
func (s SourceConfig) RelaxedTLS() bool {
	return s.InsecureTLS != nil && *s.InsecureTLS
}

type DBConfig struct {
	Connection  string `yaml:"connection"`
	Database    string `yaml:"database"`
	Collections struct {
		RunHistory string `yaml:"run_history"`
	} `yaml:"collections"`
}

type LogicConfig struct {
	MaxRetries    *int   `yaml:"max_retries"`
	RetryDelayMS  int    `yaml:"retry_delay_ms"`
	TimeoutSec    int    `yaml:"timeout_sec"`
	MinIntervalMS int    `yaml:"min_interval_ms"`
	MaxPages      int    `yaml:"max_pages"`
	UserAgent     string `yaml:"user_agent"`
	DumpDir       string `yaml:"dump_dir"`
}

// DefaultMaxRetries applies when logic.max_retries is absent. An explicit 0
// disables retries.
const DefaultMaxRetries = 50

func (l LogicConfig) Retries() int {
	if l.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *l.MaxRetries
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type StatsConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
	// TTLHours expires the per-source hashes; zero keeps them.
	TTLHours int `yaml:"ttl_hours"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type FetcherConfig struct {
	DB      DBConfig                `yaml:"db"`
	Logic   LogicConfig             `yaml:"logic"`
	Logging LoggingConfig           `yaml:"logging"`
	Stats   StatsConfig             `yaml:"stats"`
	Server  ServerConfig            `yaml:"server"`
	Sources map[string]SourceConfig `yaml:"sources"`
}

// LoadConfig reads the YAML file at path, fills defaults and applies the
// MONGO_URL override. A missing file is not an error: the built-in defaults
// describe every known partner.
func LoadConfig(path string) (*FetcherConfig, error) {
	cfg := &FetcherConfig{}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	if url := os.Getenv(EnvMongoURL); url != "" {
		cfg.DB.Connection = url
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *FetcherConfig) applyDefaults() {
	if c.DB.Database == "" {
		c.DB.Database = "Benefits"
	}
	if c.DB.Collections.RunHistory == "" {
		c.DB.Collections.RunHistory = "run_history"
	}
	if c.Logic.MaxRetries == nil {
		c.Logic.MaxRetries = ptr(DefaultMaxRetries)
	}
	if c.Logic.RetryDelayMS == 0 {
		c.Logic.RetryDelayMS = 1000
	}
	if c.Logic.TimeoutSec == 0 {
		c.Logic.TimeoutSec = 30
	}
	if c.Logic.MaxPages == 0 {
		c.Logic.MaxPages = 1000
	}
	if c.Logic.UserAgent == "" {
		c.Logic.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Stats.Prefix == "" {
		c.Stats.Prefix = "benefits:stats"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}

	if len(c.Sources) == 0 {
		c.Sources = DefaultSources()
	}

	defaults := DefaultSources()
	for key, src := range c.Sources {
		if src.Kind == "" {
			src.Kind = key
		}
		if def, ok := defaults[src.Kind]; ok {
			src = mergeSource(src, def)
		}
		if src.Name == "" {
			src.Name = strings.ToUpper(key)
		}
		if src.Collection == "" {
			src.Collection = src.Name
		}
		if src.WriteMode == "" {
			src.WriteMode = WriteUpsert
		}
		if src.MaxPages == 0 {
			src.MaxPages = c.Logic.MaxPages
		}
		c.Sources[key] = src
	}
}

func ptr[T any](v T) *T { return &v }

func mergeSource(src, def SourceConfig) SourceConfig {
	if src.Name == "" {
		src.Name = def.Name
	}
	if src.Collection == "" {
		src.Collection = def.Collection
	}
	if src.BaseURL == "" {
		src.BaseURL = def.BaseURL
	}
	if src.PageSize == 0 {
		src.PageSize = def.PageSize
	}
	if src.StartPage == 0 {
		src.StartPage = def.StartPage
	}
	if src.InsecureTLS == nil {
		src.InsecureTLS = def.InsecureTLS
	}
	if src.Headers == nil {
		src.Headers = def.Headers
	}
	if src.Aliases == nil {
		src.Aliases = def.Aliases
	}
	return src
}

// Validate reports configuration errors that must abort the run before any I/O.
func (c *FetcherConfig) Validate() error {
	if c.DB.Connection == "" {
		return ErrMissingConnection
	}
	if c.DB.Database == "" {
		return ErrMissingDatabase
	}
	if c.Logic.Retries() < 0 {
		return ErrInvalidRetries
	}

	enabled := 0
	for key, src := range c.Sources {
		if !knownKind(src.Kind) {
			return fmt.Errorf("source %s: %w %q", key, ErrUnknownKind, src.Kind)
		}
		if src.WriteMode != WriteUpsert && src.WriteMode != WriteInsert {
			return fmt.Errorf("source %s: %w", key, ErrInvalidWriteMode)
		}
		if !src.Disabled {
			enabled++
		}
	}
	if enabled == 0 {
		return ErrNoSources
	}
	return nil
}

// SourceNames returns the configured source keys in a stable order.
func (c *FetcherConfig) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup finds a source by key, display name or alias, ignoring case.
func (c *FetcherConfig) Lookup(name string) (SourceConfig, bool) {
	for _, key := range c.SourceNames() {
		if src := c.Sources[key]; src.Matches(key, name) {
			return src, true
		}
	}
	return SourceConfig{}, false
}

func knownKind(kind string) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
