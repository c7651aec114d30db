package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/coreupdater/pkg/coreupdater/logging"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. COREUPDATER_API_TOKEN.
const EnvPrefix = "COREUPDATER"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// APIConfig configures the release API client.
type APIConfig struct {
	Server  string        `mapstructure:"server"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig configures schema comparison and migration. An empty DSN
// disables database steps.
type DatabaseConfig struct {
	Driver             string   `mapstructure:"driver"`
	DSN                string   `mapstructure:"dsn"`
	Replicas           []string `mapstructure:"replicas"`
	Prefix             string   `mapstructure:"prefix"`
	Definitions        []string `mapstructure:"definitions"`
	IgnoreTables       []string `mapstructure:"ignore_tables"`
	CheckAutoIncrement bool     `mapstructure:"check_auto_increment"`
	CheckCharset       bool     `mapstructure:"check_charset"`
}

// Enabled reports whether a database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.DSN != ""
}

// Config represents the application configuration.
type Config struct {
	Root              string `mapstructure:"root"`
	AdminDir          string `mapstructure:"admin_dir"`
	UpdateMode        string `mapstructure:"update_mode"`
	ServerPerformance string `mapstructure:"server_performance"`
	SyncThemes        bool   `mapstructure:"sync_themes"`

	API APIConfig `mapstructure:"api"`

	Filters struct {
		Release []string `mapstructure:"release"`
		Keep    []string `mapstructure:"keep"`
	} `mapstructure:"filters"`

	Cache struct {
		Files []string `mapstructure:"files"`
		Dirs  []string `mapstructure:"dirs"`
	} `mapstructure:"cache"`

	Database DatabaseConfig `mapstructure:"database"`

	// InitCommand runs in the installation root after the files changed.
	InitCommand []string `mapstructure:"init_command"`

	Requirements struct {
		MinFreeSpace string `mapstructure:"min_free_space"`
	} `mapstructure:"requirements"`

	Storage struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"storage"`

	History struct {
		Enabled       bool   `mapstructure:"enabled"`
		Path          string `mapstructure:"path"`
		RetentionDays int    `mapstructure:"retention_days"`
	} `mapstructure:"history"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// Load loads configuration from file and environment variables.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/coreupdater/config.yaml
//   - $HOME/.config/coreupdater/config.yaml
func Load() (*Config, error) {
	return LoadWith(viper.New(), "")
}

// LoadWith loads configuration into v, which may already carry bound
// command line flags. A non-empty file replaces the search path.
func LoadWith(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		if _, err := os.Stat(file); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		dir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.Root, &cfg.Storage.Path, &cfg.History.Path, &cfg.Logging.Path} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	if cfg.Database.DSN != "" && cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDatabaseDriver
	}
	return &cfg, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("root", DefaultRoot)
	v.SetDefault("admin_dir", DefaultAdminDir)
	v.SetDefault("update_mode", DefaultUpdateMode)
	v.SetDefault("server_performance", DefaultServerPerformance)
	v.SetDefault("sync_themes", false)

	v.SetDefault("api.server", DefaultServer)
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", DefaultTimeout)

	v.SetDefault("cache.files", DefaultCacheFiles)
	v.SetDefault("cache.dirs", DefaultCacheDirs)

	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.prefix", DefaultTablePrefix)
	v.SetDefault("database.ignore_tables", DefaultIgnoreTables)
	v.SetDefault("database.check_auto_increment", true)
	v.SetDefault("database.check_charset", false)

	v.SetDefault("requirements.min_free_space", DefaultMinFreeSpace)

	v.SetDefault("storage.path", DefaultStoragePath())

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", DefaultHistoryPath())
	v.SetDefault("history.retention_days", DefaultHistoryRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"api":      "info",
		"compare":  "info",
		"process":  "info",
		"scanner":  "info",
		"schema":   "info",
		"updater":  "info",
		"progress": "warn",
	})
}

// LoggingSettings converts the logging section for logging.Init.
func (c *Config) LoggingSettings() (logging.Config, error) {
	out := logging.Config{
		Level:      c.Logging.Level,
		Path:       c.Logging.Path,
		Components: c.Logging.Components,
		Rotation: logging.RotationConfig{
			MaxAge:     c.Logging.Rotation.MaxAge,
			MaxBackups: c.Logging.Rotation.MaxBackups,
			Daily:      c.Logging.Rotation.Daily,
		},
	}
	if out.Path == "" {
		out.Path = logging.DefaultLogPath()
	}
	if c.Logging.Rotation.MaxSize != "" {
		size, err := humanize.ParseBytes(c.Logging.Rotation.MaxSize)
		if err != nil {
			return out, fmt.Errorf("invalid logging.rotation.max_size: %w", err)
		}
		out.Rotation.MaxSize = int64(size)
	}
	return out, nil
}

// MinFreeSpaceBytes parses requirements.min_free_space.
func (c *Config) MinFreeSpaceBytes() (uint64, error) {
	if c.Requirements.MinFreeSpace == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Requirements.MinFreeSpace)
	if err != nil {
		return 0, fmt.Errorf("invalid requirements.min_free_space: %w", err)
	}
	return n, nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "coreupdater"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "coreupdater"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// WriteDefault writes a default config file if none exists and returns
// its path.
func WriteDefault() (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# coreupdater configuration

# Installation root and the local name of its admin directory
root: %s
admin_dir: %s

# STABLE follows the newest release, BLEEDING_EDGE the development branch
update_mode: %s

# LOW, NORMAL or HIGH: how much work one invocation may do
server_performance: %s

# Also update files of the default theme
sync_themes: false

api:
  server: %s
  token: ""
  timeout: %s

# Glob patterns excluded from comparison (empty uses built-in defaults)
# filters:
#   release: ["install/**", "docs/**"]
#   keep: ["img/logo.jpg"]

cache:
  files:
    - cache/class_index.php
  dirs:
    - cache/smarty/compile
    - cache/smarty/cache

# Database schema migration (an empty dsn disables it)
database:
  driver: %s
  dsn: ""
  replicas: []
  prefix: %s
  definitions: []
  check_auto_increment: true
  check_charset: false

# Command run in the installation root after an update
init_command: []

requirements:
  min_free_space: %s

storage:
  path: %s

history:
  enabled: true
  path: %s
  retention_days: %d

logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/coreupdater/coreupdater.log)
  path: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
`, DefaultRoot, DefaultAdminDir, DefaultUpdateMode, DefaultServerPerformance,
		DefaultServer, DefaultTimeout, DefaultDatabaseDriver, DefaultTablePrefix,
		DefaultMinFreeSpace, DefaultStoragePath(), DefaultHistoryPath(), DefaultHistoryRetentionDays)

	if err := os.WriteFile(path, []byte(defaultConfig), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/coreupdater/ for persisted state.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "coreupdater")
}

// DefaultStoragePath returns the default state database directory.
func DefaultStoragePath() string {
	return filepath.Join(DataDir(), "state")
}

// DefaultHistoryPath returns the default history directory.
func DefaultHistoryPath() string {
	return filepath.Join(DataDir(), "history")
}
