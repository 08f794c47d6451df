package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
	File   string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// RedisConfig holds the optional event publisher settings.
type RedisConfig struct {
	URL     string
	Channel string
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark  BarkConfig
	Redis RedisConfig
}

// DatabaseConfig holds connection pool and cleanup settings.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	PoolSize        int
	MaxOverflow     int
	ConnMaxLifetime time.Duration
	CleanupInterval time.Duration
	MemoryThreshold float64
	RunRetention    int
}

// WorkerConfig holds polling loop settings.
type WorkerConfig struct {
	TickInterval time.Duration
	RetryDelay   time.Duration
	UseUTC       bool
	AutoStart    bool
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig
	Database     DatabaseConfig
	Worker       WorkerConfig

	StateDir       string
	SettingsPath   string
	TaskConfigPath string
	ShutdownGrace  time.Duration
}

const (
	defaultAddr            = "127.0.0.1:5000"
	defaultLogLevel        = "info"
	defaultShutdownGrace   = 5 * time.Second
	defaultRedisChannel    = "autopinner:events"
	defaultDriver          = "sqlite"
	defaultPoolSize        = 20
	defaultMaxOverflow     = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultCleanupInterval = 5 * time.Minute
	defaultMemoryThreshold = 80
	defaultRunRetention    = 200
	defaultTickInterval    = time.Second
	defaultRetryDelay      = 5 * time.Second
)

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// RegisterFlags adds the flags Parse understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", "", "HTTP listen address (overrides env)")
	fs.String("state-dir", "", "Directory for the database, settings and task configs")
	fs.String("settings", "", "Path to the settings JSON file")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("log-format", "", "Log format (text, json)")
	fs.String("log-file", "", "Also append logs to this file")
	fs.String("db-driver", "", "Database driver (sqlite, postgres)")
	fs.String("db-dsn", "", "Database DSN")
	fs.Bool("use-utc", false, "Evaluate weekday schedules in UTC instead of local time")
	fs.Bool("auto-start", true, "Start the worker loop when the daemon starts")
	fs.Duration("shutdown-grace", 0, "Grace period when shutting down")
}

// Parse builds the Config from flags, environment and defaults.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse(fs *pflag.FlagSet) (*Config, error) {
	// The .env file is optional; look in the working directory, then the config directory.
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "autopinner", ".env"))
	}
	_ = godotenv.Load(envFiles...)

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("AUTOPINNER_ADDR", defaultAddr),
			AuthToken: getEnvString("AUTOPINNER_AUTH_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnvString("AUTOPINNER_LOG_LEVEL", defaultLogLevel),
			Format: getEnvString("AUTOPINNER_LOG_FORMAT", "text"),
			File:   getEnvString("AUTOPINNER_LOG_FILE", ""),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("AUTOPINNER_BARK_URL", ""),
				Enabled: getEnvBool("AUTOPINNER_BARK_ENABLED", false),
			},
			Redis: RedisConfig{
				URL:     getEnvString("AUTOPINNER_REDIS_URL", ""),
				Channel: getEnvString("AUTOPINNER_REDIS_CHANNEL", defaultRedisChannel),
			},
		},
		Database: DatabaseConfig{
			Driver:          getEnvString("AUTOPINNER_DB_DRIVER", defaultDriver),
			DSN:             getEnvString("AUTOPINNER_DB_DSN", ""),
			PoolSize:        getEnvInt("AUTOPINNER_DB_POOL_SIZE", defaultPoolSize),
			MaxOverflow:     getEnvInt("AUTOPINNER_DB_MAX_OVERFLOW", defaultMaxOverflow),
			ConnMaxLifetime: getEnvDuration("AUTOPINNER_DB_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
			CleanupInterval: getEnvDuration("AUTOPINNER_DB_CLEANUP_INTERVAL", defaultCleanupInterval),
			MemoryThreshold: getEnvFloat("AUTOPINNER_MEMORY_THRESHOLD", defaultMemoryThreshold),
			RunRetention:    getEnvInt("AUTOPINNER_RUN_RETENTION", defaultRunRetention),
		},
		Worker: WorkerConfig{
			TickInterval: getEnvDuration("AUTOPINNER_TICK_INTERVAL", defaultTickInterval),
			RetryDelay:   getEnvDuration("AUTOPINNER_RETRY_DELAY", defaultRetryDelay),
			UseUTC:       getEnvBool("AUTOPINNER_USE_UTC", false),
			AutoStart:    getEnvBool("AUTOPINNER_AUTO_START", true),
		},
		StateDir:      getEnvString("AUTOPINNER_STATE_DIR", ""),
		SettingsPath:  getEnvString("AUTOPINNER_SETTINGS", ""),
		ShutdownGrace: getEnvDuration("AUTOPINNER_SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	if fs != nil {
		applyFlags(cfg, fs)
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.SettingsPath == "" {
		cfg.SettingsPath = filepath.Join(cfg.StateDir, "settings.json")
	}
	cfg.TaskConfigPath = filepath.Join(cfg.StateDir, "task_configs.json")

	if cfg.Database.RunRetention < 1 {
		cfg.Database.RunRetention = defaultRunRetention
	}
	if cfg.Worker.TickInterval <= 0 {
		cfg.Worker.TickInterval = defaultTickInterval
	}
	if cfg.Worker.RetryDelay < 0 {
		cfg.Worker.RetryDelay = defaultRetryDelay
	}
	return cfg, nil
}

// applyFlags copies flags that were set explicitly over the env values.
func applyFlags(cfg *Config, fs *pflag.FlagSet) {
	str := func(name string, dst *string) {
		if !fs.Changed(name) {
			return
		}
		if v, err := fs.GetString(name); err == nil && v != "" {
			*dst = v
		}
	}
	str("addr", &cfg.Server.Addr)
	str("state-dir", &cfg.StateDir)
	str("settings", &cfg.SettingsPath)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("log-file", &cfg.Log.File)
	str("db-driver", &cfg.Database.Driver)
	str("db-dsn", &cfg.Database.DSN)

	if fs.Changed("use-utc") {
		cfg.Worker.UseUTC, _ = fs.GetBool("use-utc")
	}
	if fs.Changed("auto-start") {
		cfg.Worker.AutoStart, _ = fs.GetBool("auto-start")
	}
	if fs.Changed("shutdown-grace") {
		cfg.ShutdownGrace, _ = fs.GetDuration("shutdown-grace")
	}
}

// Location returns the zone used for weekday schedules.
func (c *Config) Location() *time.Location {
	if c.Worker.UseUTC {
		return time.UTC
	}
	return time.Local
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "autopinner")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
