package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/siswrap/internal/env"
	"github.com/loykin/siswrap/internal/logger"
	"github.com/spf13/viper"
)

// Keys of the [app] table that the wrappers look up.
const (
	KeyPerl          = "perl"
	KeyQCBin         = "qc_bin"
	KeyReportBin     = "report_bin"
	KeyVersionBin    = "version_bin"
	KeyRunfolderRoot = "runfolder_root"
	KeySender        = "sender"
	KeyReceiver      = "receiver"
)

// appKeys are also read from the top level so flat legacy JSON configs keep working.
var appKeys = []string{KeyPerl, KeyQCBin, KeyReportBin, KeyVersionBin, KeyRunfolderRoot, KeySender, KeyReceiver}

// ErrMissingSetting is returned by Setting when a key is absent or empty.
var ErrMissingSetting = errors.New("missing setting")

// Config is the service configuration.
//
// Example TOML:
//
//	[app]
//	perl = "/usr/bin/perl"
//	qc_bin = "/opt/sisyphus/qualityControl.pl"
//	report_bin = "/opt/sisyphus/quickReport.pl"
//	version_bin = "/opt/sisyphus/version.pl"
//	runfolder_root = "/data/runfolders"
//	sender = "sisyphus@example.org"
//	receiver = "seq-ops@example.org"
//
//	[server]
//	port = 10900
//	base_path = "/api/1.0"
type Config struct {
	App     map[string]string `mapstructure:"app"`
	Server  ServerConfig      `mapstructure:"server"`
	Log     LogConfig         `mapstructure:"log"`
	Jobs    JobsConfig        `mapstructure:"jobs"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
	History HistoryConfig     `mapstructure:"history"`

	path string
}

type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	BasePath  string `mapstructure:"base_path"`
	Framework string `mapstructure:"framework"` // gin or echo
	// ShutdownTimeout bounds graceful shutdown of in-flight HTTP requests.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// JobsConfig controls how job processes are spawned.
type JobsConfig struct {
	LogDir         string        `mapstructure:"log_dir"`
	MaxSizeMB      int           `mapstructure:"max_size_mb"`
	MaxBackups     int           `mapstructure:"max_backups"`
	MaxAgeDays     int           `mapstructure:"max_age_days"`
	Compress       bool          `mapstructure:"compress"`
	OutputLimit    int           `mapstructure:"output_limit"`
	VersionTimeout time.Duration `mapstructure:"version_timeout"`
	// Env holds extra K=V pairs for the scripts, expanded against the
	// service environment, e.g. "PERL5LIB=${SISYPHUS_HOME}/lib".
	Env []string `mapstructure:"env"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// HistoryConfig enables an append-only audit trail of job events.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	// Timeout bounds a single sink write.
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 10900)
	v.SetDefault("server.base_path", "/api/1.0")
	v.SetDefault("server.framework", "gin")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("jobs.version_timeout", "5s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.timeout", "2s")
}

// LoadConfig reads a TOML, JSON or YAML file (by extension) and applies
// SISWRAP_* environment overrides, e.g. SISWRAP_SERVER_PORT.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".config":
		v.SetConfigType("json")
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("toml")
	}
	v.SetEnvPrefix("siswrap")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if c.App == nil {
		c.App = make(map[string]string)
	}
	for _, k := range appKeys {
		if c.App[k] != "" {
			continue
		}
		if s := v.GetString(k); s != "" {
			c.App[k] = s
		}
	}
	// legacy flat configs carry the port at the top level
	if p := v.GetInt("port"); p > 0 && !v.InConfig("server.port") {
		c.Server.Port = p
	}
	c.path = path
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks settings needed to start the service. Script settings are
// looked up lazily at launch time so a missing one fails only that request.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	switch c.Server.Framework {
	case "", "gin", "echo":
	default:
		return fmt.Errorf("unknown server.framework %q (expected gin or echo)", c.Server.Framework)
	}
	if c.History.Enabled && strings.TrimSpace(c.History.DSN) == "" {
		return fmt.Errorf("history.enabled requires history.dsn")
	}
	return nil
}

// Setting returns the [app] value for key.
func (c *Config) Setting(key string) (string, error) {
	if s := strings.TrimSpace(c.App[key]); s != "" {
		return s, nil
	}
	src := c.path
	if src == "" {
		src = "configuration"
	}
	return "", fmt.Errorf("%w: couldn't lookup setting %s in %s", ErrMissingSetting, key, src)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port) }

// JobLog converts the [jobs] table into job output mirroring settings.
func (c *Config) JobLog() logger.Config {
	return logger.Config{
		Dir:        c.Jobs.LogDir,
		MaxSizeMB:  c.Jobs.MaxSizeMB,
		MaxBackups: c.Jobs.MaxBackups,
		MaxAgeDays: c.Jobs.MaxAgeDays,
		Compress:   c.Jobs.Compress,
	}
}

// JobEnv is the environment for job scripts. It is nil, meaning inherit the
// service environment, unless [jobs] env is set.
func (c *Config) JobEnv() []string {
	if len(c.Jobs.Env) == 0 {
		return nil
	}
	return env.New().Merge(c.Jobs.Env)
}

// LoggerOptions converts the [log] table into service logger options.
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Level:      c.Log.Level,
		Format:     logger.Format(c.Log.Format),
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// Static builds a Config from an [app] map with defaults for everything else.
// It is meant for embedding and tests.
func Static(app map[string]string) *Config {
	c := &Config{App: make(map[string]string, len(app))}
	for k, v := range app {
		c.App[k] = v
	}
	c.Server = ServerConfig{Port: 10900, BasePath: "/api/1.0", Framework: "gin", ShutdownTimeout: 10 * time.Second}
	c.Log = LogConfig{Level: "info", Format: "text"}
	c.Jobs.VersionTimeout = 5 * time.Second
	c.Metrics = MetricsConfig{Enabled: true, Path: "/metrics"}
	c.History.Timeout = 2 * time.Second
	return c
}
