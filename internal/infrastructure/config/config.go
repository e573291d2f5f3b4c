// Package config loads process configuration from a config file and
// HYPERLOCAL_-prefixed environment variables, env taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
}

// ServerConfig is the HTTP listener setup.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig is the Postgres connection.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig is the pub/sub broker connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// JobsConfig holds the periodic pass intervals and retention horizons.
type JobsConfig struct {
	RankingInterval   time.Duration `mapstructure:"ranking_interval"`
	HeatInterval      time.Duration `mapstructure:"heat_interval"`
	MatchInterval     time.Duration `mapstructure:"match_interval"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	EventRetention    time.Duration `mapstructure:"event_retention"`
	ActivityRetention time.Duration `mapstructure:"activity_retention"`
}

// Load reads config.yaml (if present), .env (if present) and the
// environment. A malformed configuration halts startup.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("HYPERLOCAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.dsn", "host=localhost user=hyperlocal password=hyperlocal dbname=hyperlocal port=5432 sslmode=disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("jobs.ranking_interval", 5*time.Minute)
	v.SetDefault("jobs.heat_interval", 10*time.Minute)
	v.SetDefault("jobs.match_interval", 15*time.Minute)
	v.SetDefault("jobs.cleanup_interval", time.Hour)
	v.SetDefault("jobs.event_retention", 7*24*time.Hour)
	v.SetDefault("jobs.activity_retention", 7*24*time.Hour)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return &cfg, nil
}
