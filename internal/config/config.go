package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Source     SourceConfig     `mapstructure:"source"`
	Store      StoreConfig      `mapstructure:"store"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type SourceConfig struct {
	Kind           string        `mapstructure:"kind"`
	URL            string        `mapstructure:"url"`
	AuthToken      string        `mapstructure:"auth_token"`
	Subject        string        `mapstructure:"subject"`
	File           string        `mapstructure:"file"`
	Encoding       string        `mapstructure:"encoding"`
	Compression    string        `mapstructure:"compression"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	ReplayInterval time.Duration `mapstructure:"replay_interval"`
}

type StoreConfig struct {
	Kind     string         `mapstructure:"kind"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type BatchConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

type SupervisorConfig struct {
	RestartRate  float64 `mapstructure:"restart_rate"`
	RestartBurst int     `mapstructure:"restart_burst"`
}

type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type NotifyConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Server           string `mapstructure:"server"`
	Topic            string `mapstructure:"topic"`
	Priority         string `mapstructure:"priority"`
	Tags             string `mapstructure:"tags"`
	Token            string `mapstructure:"token"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("source.kind", SourceWebSocket)
	v.SetDefault("source.url", "")
	v.SetDefault("source.subject", "units")
	v.SetDefault("source.encoding", "json")
	v.SetDefault("source.compression", "none")
	v.SetDefault("source.dial_timeout", 10*time.Second)
	v.SetDefault("source.replay_interval", 10*time.Millisecond)
	v.SetDefault("store.kind", StorePostgres)
	v.SetDefault("store.postgres.table", "units")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key", "units")
	v.SetDefault("batch.flush_interval", 2*time.Second)
	v.SetDefault("batch.poll_interval", 5*time.Millisecond)
	v.SetDefault("supervisor.restart_rate", 1.0)
	v.SetDefault("supervisor.restart_burst", 3)
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.addr", ":9090")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "satellite")
	v.SetDefault("notify.failure_threshold", 5)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("UNITSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Secrets have no defaults, so bind them explicitly
	_ = v.BindEnv("source.auth_token", "UNITSYNC_SOURCE_AUTH_TOKEN")
	_ = v.BindEnv("store.redis.password", "UNITSYNC_STORE_REDIS_PASSWORD")
	_ = v.BindEnv("store.postgres.dsn", "UNITSYNC_STORE_POSTGRES_DSN")
	_ = v.BindEnv("notify.topic", "UNITSYNC_NOTIFY_TOPIC")
	_ = v.BindEnv("notify.token", "UNITSYNC_NOTIFY_TOKEN")
	_ = v.BindEnv("source.file", "UNITSYNC_SOURCE_FILE")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
