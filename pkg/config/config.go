// Package config loads callbind settings. Sources apply in increasing
// precedence: built-in defaults, a YAML file, CALLBIND_* environment
// variables, then command-line flags set by the caller.
package config

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ha1tch/callbind/pkg/binder"
	"github.com/ha1tch/callbind/pkg/engine"
	cberrors "github.com/ha1tch/callbind/pkg/errors"
	"github.com/ha1tch/callbind/pkg/log"
	"github.com/ha1tch/callbind/pkg/sqlexec"
	"github.com/ha1tch/callbind/pkg/sqltype"
)

// Environment variable names
const (
	EnvDriver    = "CALLBIND_DRIVER"
	EnvDSN       = "CALLBIND_DSN"
	EnvMode      = "CALLBIND_MODE"
	EnvDialect   = "CALLBIND_DIALECT"
	EnvLogLevel  = "CALLBIND_LOG_LEVEL"
	EnvLogFormat = "CALLBIND_LOG_FORMAT"
	EnvTimeout   = "CALLBIND_TIMEOUT"
)

// Config is the complete callbind configuration.
type Config struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Mode    string `yaml:"mode"`    // byref or row
	Dialect string `yaml:"dialect"` // defaults from driver

	// Per-call timeout applied by the caller
	Timeout time.Duration `yaml:"timeout"`

	Pool   PoolConfig   `yaml:"pool"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Binder BinderConfig `yaml:"binder"`
	Engine EngineConfig `yaml:"engine"`
	Log    LogConfig    `yaml:"log"`
}

// PoolConfig holds database/sql pool settings.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// SQLiteConfig holds sqlite3 DSN options.
type SQLiteConfig struct {
	JournalMode string `yaml:"journal_mode"`
	Synchronous string `yaml:"synchronous"`
	CacheSize   int    `yaml:"cache_size"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// BinderConfig holds the lengths used when a type omits them.
type BinderConfig struct {
	DefaultCharLength       int `yaml:"default_char_length"`
	DefaultVarCharLength    int `yaml:"default_varchar_length"`
	DefaultDecimalPrecision int `yaml:"default_decimal_precision"`
	DefaultDecimalScale     int `yaml:"default_decimal_scale"`
}

// EngineConfig configures the in-process engine used by --demo.
type EngineConfig struct {
	DefaultSchema  string        `yaml:"default_schema"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	ExecTimeout    time.Duration `yaml:"exec_timeout"`
	JobLogSize     int           `yaml:"job_log_size"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string            `yaml:"level"`
	Format      string            `yaml:"format"`
	Categories  map[string]string `yaml:"categories"` // category -> level
	Caller      bool              `yaml:"caller"`
	AsyncBuffer int               `yaml:"async_buffer"` // 0 logs synchronously
}

// Default returns the built-in configuration.
func Default() Config {
	sq := sqlexec.DefaultConfig()
	b := binder.DefaultConfig()
	e := engine.DefaultConfig()
	return Config{
		Mode:    sq.Mode.String(),
		Timeout: 30 * time.Second,
		Pool: PoolConfig{
			MaxOpenConns:    sq.MaxOpenConns,
			MaxIdleConns:    sq.MaxIdleConns,
			ConnMaxLifetime: sq.ConnMaxLifetime,
		},
		SQLite: SQLiteConfig{
			JournalMode: sq.SQLite.JournalMode,
			Synchronous: sq.SQLite.Synchronous,
			CacheSize:   sq.SQLite.CacheSize,
			BusyTimeout: sq.SQLite.BusyTimeout,
		},
		Binder: BinderConfig{
			DefaultCharLength:       b.DefaultCharLength,
			DefaultVarCharLength:    b.DefaultVarCharLength,
			DefaultDecimalPrecision: b.DefaultDecimalPrecision,
			DefaultDecimalScale:     b.DefaultDecimalScale,
		},
		Engine: EngineConfig{
			DefaultSchema:  e.DefaultSchema,
			MaxConcurrency: e.MaxConcurrency,
			ExecTimeout:    e.ExecTimeout,
			JobLogSize:     e.JobLogSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		code := cberrors.ErrCodeConfigInvalid
		if os.IsNotExist(err) {
			code = cberrors.ErrCodeConfigMissing
		}
		return cfg, cberrors.Wrapf(err, code, "cannot read config file %s", path).
			WithOp("config.Load").
			Err()
	}
	if err := Parse(b, &cfg); err != nil {
		return cfg, cberrors.Wrapf(err, cberrors.GetCode(err), "config file %s", path).
			WithOp("config.Load").
			Err()
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping fields the document omits.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return cberrors.Wrap(err, cberrors.ErrCodeConfigParse, "invalid YAML").Err()
	}
	return nil
}

// ApplyEnv overrides cfg from environment variables read through lookup,
// normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDriver); ok && v != "" {
		c.Driver = v
	}
	if v, ok := lookup(EnvDSN); ok && v != "" {
		c.DSN = v
	}
	if v, ok := lookup(EnvMode); ok && v != "" {
		c.Mode = v
	}
	if v, ok := lookup(EnvDialect); ok && v != "" {
		c.Dialect = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		c.Log.Format = v
	}
	if v, ok := lookup(EnvTimeout); ok && v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return cberrors.Wrapf(err, cberrors.ErrCodeConfigInvalid, "%s=%q", EnvTimeout, v).
				WithOp("config.ApplyEnv").
				Err()
		}
		c.Timeout = d
	}
	return nil
}

// parseTimeout accepts a Go duration or a bare number of seconds.
func parseTimeout(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := sqlexec.ParseMode(c.Mode); err != nil {
		return cberrors.Wrap(err, cberrors.ErrCodeConfigValidation, "mode").WithField("mode", c.Mode).Err()
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return cberrors.Wrap(err, cberrors.ErrCodeConfigValidation, "log level").WithField("level", c.Log.Level).Err()
	}
	if _, err := log.ParseFormat(c.Log.Format); err != nil {
		return cberrors.Wrap(err, cberrors.ErrCodeConfigValidation, "log format").WithField("format", c.Log.Format).Err()
	}
	for cat, lvl := range c.Log.Categories {
		if _, err := log.ParseLevel(lvl); err != nil {
			return cberrors.Wrapf(err, cberrors.ErrCodeConfigValidation, "log level for %s", cat).Err()
		}
	}
	if c.Timeout < 0 || c.Pool.MaxOpenConns < 0 || c.Pool.MaxIdleConns < 0 || c.Log.AsyncBuffer < 0 {
		return cberrors.New(cberrors.ErrCodeConfigValidation, "timeouts, pool sizes and log buffers must not be negative").Err()
	}
	b := c.Binder
	if b.DefaultCharLength < 0 || b.DefaultVarCharLength < 0 || b.DefaultDecimalPrecision < 0 ||
		b.DefaultDecimalScale < 0 || b.DefaultDecimalScale > b.DefaultDecimalPrecision ||
		b.DefaultCharLength > sqltype.MaxStringLength || b.DefaultVarCharLength > sqltype.MaxStringLength ||
		b.DefaultDecimalPrecision > sqltype.MaxDecimalPrecision {
		return cberrors.New(cberrors.ErrCodeConfigValidation, "invalid binder defaults").
			WithField("binder", b).
			Err()
	}
	return nil
}

// SQLExec returns the database/sql executor configuration.
func (c *Config) SQLExec() (sqlexec.Config, error) {
	mode, err := sqlexec.ParseMode(c.Mode)
	if err != nil {
		return sqlexec.Config{}, err
	}
	return sqlexec.Config{
		Driver:          c.Driver,
		DSN:             c.DSN,
		Mode:            mode,
		Dialect:         c.Dialect,
		MaxOpenConns:    c.Pool.MaxOpenConns,
		MaxIdleConns:    c.Pool.MaxIdleConns,
		ConnMaxLifetime: c.Pool.ConnMaxLifetime,
		SQLite: sqlexec.SQLiteOptions{
			JournalMode: c.SQLite.JournalMode,
			Synchronous: c.SQLite.Synchronous,
			CacheSize:   c.SQLite.CacheSize,
			BusyTimeout: c.SQLite.BusyTimeout,
		},
	}, nil
}

// BinderConfig returns the binder configuration.
func (c *Config) BinderConfig() binder.Config {
	return binder.Config{
		DefaultCharLength:       c.Binder.DefaultCharLength,
		DefaultVarCharLength:    c.Binder.DefaultVarCharLength,
		DefaultDecimalPrecision: c.Binder.DefaultDecimalPrecision,
		DefaultDecimalScale:     c.Binder.DefaultDecimalScale,
	}
}

// EngineConfig returns the in-process engine configuration.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		DefaultSchema:  c.Engine.DefaultSchema,
		MaxConcurrency: c.Engine.MaxConcurrency,
		ExecTimeout:    c.Engine.ExecTimeout,
		JobLogSize:     c.Engine.JobLogSize,
	}
}

// LogConfig returns the logger configuration writing to w.
func (c *Config) LogConfig(w io.Writer) (log.Config, error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.Config{}, err
	}
	format, err := log.ParseFormat(c.Log.Format)
	if err != nil {
		return log.Config{}, err
	}
	lc := log.Config{
		DefaultLevel:  level,
		Output:        w,
		Format:        format,
		IncludeCaller: c.Log.Caller,
		AsyncBuffer:   c.Log.AsyncBuffer,
	}
	if len(c.Log.Categories) > 0 {
		lc.CategoryLevels = make(map[log.Category]log.Level, len(c.Log.Categories))
		for cat, lvl := range c.Log.Categories {
			l, err := log.ParseLevel(lvl)
			if err != nil {
				return log.Config{}, err
			}
			lc.CategoryLevels[log.Category(strings.ToLower(cat))] = l
		}
	}
	return lc, nil
}
