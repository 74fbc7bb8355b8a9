package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
	"github.com/datallboy/nzbfetch/internal/store"
)

type Config struct {
	Servers  []ServerConfig `mapstructure:"servers" yaml:"servers"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
}

type ServerConfig struct {
	ID                    string `mapstructure:"id" yaml:"id"`
	Host                  string `mapstructure:"host" yaml:"host"`
	Port                  int    `mapstructure:"port" yaml:"port"`
	Username              string `mapstructure:"username" yaml:"username"`
	Password              string `mapstructure:"password" yaml:"password"`
	TLS                   bool   `mapstructure:"tls" yaml:"tls"`
	TLSSkipVerify         bool   `mapstructure:"tls_skip_verify" yaml:"tls_skip_verify"`
	MaxConnection         int    `mapstructure:"max_connections" yaml:"max_connections"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	MaxRetries            *int   `mapstructure:"max_retries" yaml:"max_retries"` // nil means the default of 3
	Priority              int    `mapstructure:"priority" yaml:"priority"`
}

const defaultMaxRetries = 3

func (s ServerConfig) retries() int {
	if s.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *s.MaxRetries
}

type DownloadConfig struct {
	OutDir           string        `mapstructure:"out_dir" yaml:"out_dir"`
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`
	SuccessThreshold float64       `mapstructure:"success_threshold" yaml:"success_threshold"`
	PartialPolicy    string        `mapstructure:"partial_policy" yaml:"partial_policy"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
	StrictCRC        bool          `mapstructure:"strict_crc" yaml:"strict_crc"`
	AcquireTimeout   time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
	IdleCheckAfter   time.Duration `mapstructure:"idle_check_after" yaml:"idle_check_after"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
	MaxSizeMB     int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups    int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays    int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress      bool   `mapstructure:"compress" yaml:"compress"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	// 1. Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// FALLBACK: If we are in Docker (or similar) and didn't provide a flag, check /config/config.yaml
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else if _, errEx := os.Stat("config.yaml.example"); errEx == nil {
				// If config.yaml is missing but example exists, give a helpful error
				return nil, fmt.Errorf("configuration file 'config.yaml' not found\n\n" +
					"To fix this, run:\n" +
					"  cp config.yaml.example config.yaml\n" +
					"Then edit it with your Usenet credentials.")
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()
	setDefaults(v)

	// Read config File
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	// Support Environment Variables
	v.SetEnvPrefix("NZBFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.concurrency", 0)
	v.SetDefault("download.success_threshold", 0.8)
	v.SetDefault("download.partial_policy", string(domain.PartialSave))
	v.SetDefault("download.retry_base_delay", time.Second)
	v.SetDefault("download.retry_max_delay", 30*time.Second)
	v.SetDefault("download.strict_crc", false)
	v.SetDefault("download.acquire_timeout", 60*time.Second)
	v.SetDefault("download.idle_check_after", 30*time.Second)

	v.SetDefault("log.path", "nzbfetch.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("store.driver", store.DriverSQLite)
	v.SetDefault("store.sqlite_path", "./data/nzbfetch.db")
	v.SetDefault("store.postgres_dsn", "")
}

func (c *Config) validate() error {
	if len(c.Servers) == 0 {
		return errors.New("at least one server must be configured")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("server[%d] requires a unique ID", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("server %s: duplicate ID", s.ID)
		}
		seen[s.ID] = true

		if s.Host == "" {
			return fmt.Errorf("server %s: host is required", s.ID)
		}

		if s.Port == 0 {
			return fmt.Errorf("server %s: port is required", s.ID)
		}

		if s.TLS && s.Port == 119 {
			fmt.Println("Warning: TLS is enabled but port is set to 119 (standard non-TLS)")
		}

		if s.MaxConnection <= 0 {
			// Default to a sane value
			c.Servers[i].MaxConnection = 10
		}

		if s.ConnectTimeoutSeconds <= 0 {
			c.Servers[i].ConnectTimeoutSeconds = 30
		}

		if s.MaxRetries == nil {
			retries := defaultMaxRetries
			c.Servers[i].MaxRetries = &retries
		} else if *s.MaxRetries < 0 {
			return fmt.Errorf("server %s: max_retries must not be negative", s.ID)
		}
	}

	if c.Download.OutDir == "" {
		c.Download.OutDir = "./downloads"
	}

	if t := c.Download.SuccessThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("download.success_threshold must be in (0, 1], got %v", t)
	}

	switch domain.PartialPolicy(c.Download.PartialPolicy) {
	case domain.PartialSave, domain.PartialDiscard:
	default:
		return fmt.Errorf("download.partial_policy must be %q or %q, got %q",
			domain.PartialSave, domain.PartialDiscard, c.Download.PartialPolicy)
	}

	if c.Download.RetryMaxDelay < c.Download.RetryBaseDelay {
		return errors.New("download.retry_max_delay must not be shorter than retry_base_delay")
	}

	switch c.Store.Driver {
	case store.DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case store.DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}

	return nil
}

// DomainServers converts the configured servers into the values the connection pools take.
func (c *Config) DomainServers() []domain.ServerConfig {
	out := make([]domain.ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, domain.ServerConfig{
			ID:                    s.ID,
			Host:                  s.Host,
			Port:                  s.Port,
			TLS:                   s.TLS,
			TLSSkipVerify:         s.TLSSkipVerify,
			Username:              s.Username,
			Password:              s.Password,
			MaxConnections:        s.MaxConnection,
			ConnectTimeoutSeconds: s.ConnectTimeoutSeconds,
			MaxRetries:            s.retries(),
			Priority:              s.Priority,
		})
	}
	return out
}

func (l LogConfig) LoggerOptions() logger.Options {
	return logger.Options{
		Path:          l.Path,
		Level:         logger.ParseLevel(l.Level),
		IncludeStdout: l.IncludeStdout,
		MaxSizeMB:     l.MaxSizeMB,
		MaxBackups:    l.MaxBackups,
		MaxAgeDays:    l.MaxAgeDays,
		Compress:      l.Compress,
	}
}

func (s StoreConfig) StoreOptions() store.Options {
	return store.Options{
		Driver:      s.Driver,
		SQLitePath:  s.SQLitePath,
		PostgresDSN: s.PostgresDSN,
	}
}
