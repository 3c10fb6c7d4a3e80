// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ad-tracker/video-aggregator-go/internal/db"
)

// Config holds all configuration for the application.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Logging   LoggingConfig
	Scheduler SchedulerConfig
	Scraper   ScraperConfig
	AI        AIConfig
	Cache     CacheConfig
	Auth      AuthConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int `validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration
}

// DatabaseConfig contains database connection configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type DatabaseConfig struct {
	Host           string `validate:"required"`
	Name           string `validate:"required"`
	User           string `validate:"required"`
	Password       string
	SSLMode        string `validate:"oneof=disable require verify-ca verify-full prefer allow"`
	Port           int    `validate:"min=1,max=65535"`
	MaxConnections int    `validate:"min=1"`
	MinConnections int    `validate:"min=0"`
	MaxIdleTime    time.Duration
	MaxLifetime    time.Duration
}

// Pool converts the settings into the shape expected by db.NewPool.
func (d DatabaseConfig) Pool() *db.Config {
	return &db.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Name,
		SSLMode:         d.SSLMode,
		MaxConns:        int32(d.MaxConnections),
		MinConns:        int32(d.MinConnections),
		MaxConnLifetime: d.MaxLifetime,
		MaxConnIdleTime: d.MaxIdleTime,
	}
}

// RedisConfig configures the shared Redis used by the classification queue
// and the cross-process AI rate window. An empty URL disables both.
type RedisConfig struct {
	URL string
}

// RabbitMQConfig contains RabbitMQ connection and exchange configuration.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type RabbitMQConfig struct {
	Enabled    bool
	Host       string
	User       string
	Password   string
	Exchange   string
	Queue      string
	RoutingKey string
	Port       int
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level string `validate:"oneof=debug info warn error"`
	File  string
}

// SchedulerConfig controls the recurring scrape run.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type SchedulerConfig struct {
	Enabled         bool
	IntervalHours   int    `validate:"min=1,max=168"`
	Timezone        string `validate:"required,timezone"`
	BatchSize       int    `validate:"min=1"`
	BaseDelay       time.Duration
	MaxDelay        time.Duration `validate:"gtefield=BaseDelay"`
	ChannelAttempts int           `validate:"min=1,max=10"`
	AutoClassify    bool
	StaleJobAfter   time.Duration
}

// ScraperConfig controls listing page fetches.
type ScraperConfig struct {
	Timeout          time.Duration
	KnownStreakLimit int `validate:"min=1"`
	UserAgent        string
	AcceptLanguage   string
	MaxBodyBytes     int64 `validate:"min=1024"`
}

// AIConfig configures the classification provider.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type AIConfig struct {
	Enabled              bool
	BaseURL              string `validate:"omitempty,url"`
	Model                string `validate:"required_if=Enabled true"`
	APIKey               string
	Timeout              time.Duration
	Concurrency          int `validate:"min=1"`
	BatchConcurrency     int `validate:"min=1"`
	RequestsPerWindow    int `validate:"min=1"`
	Window               time.Duration
	MaxAttempts          int `validate:"min=1"`
	RateLimitMaxAttempts int `validate:"min=1"`
}

// CacheConfig configures the in-process read cache.
type CacheConfig struct {
	Enabled       bool
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// AuthConfig holds admin API keys.
type AuthConfig struct {
	APIKeys []string
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct-level constraints on a loaded configuration.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults() {
	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.shutdowntimeout", 30*time.Second)

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "aggregator")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxconnections", 10)
	viper.SetDefault("database.minconnections", 2)
	viper.SetDefault("database.maxidletime", 10*time.Minute)
	viper.SetDefault("database.maxlifetime", 1*time.Hour)

	// Redis
	viper.SetDefault("redis.url", "")

	// RabbitMQ
	viper.SetDefault("rabbitmq.enabled", false)
	viper.SetDefault("rabbitmq.host", "localhost")
	viper.SetDefault("rabbitmq.port", 5672)
	viper.SetDefault("rabbitmq.user", "guest")
	viper.SetDefault("rabbitmq.password", "guest")
	viper.SetDefault("rabbitmq.exchange", "video-aggregator.events")
	viper.SetDefault("rabbitmq.queue", "video-aggregator.videos")
	viper.SetDefault("rabbitmq.routingkey", "videos.ingested")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.file", "")

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.intervalhours", 6)
	viper.SetDefault("scheduler.timezone", "UTC")
	viper.SetDefault("scheduler.batchsize", 50)
	viper.SetDefault("scheduler.basedelay", 3*time.Second)
	viper.SetDefault("scheduler.maxdelay", 30*time.Second)
	viper.SetDefault("scheduler.channelattempts", 3)
	viper.SetDefault("scheduler.autoclassify", false)
	viper.SetDefault("scheduler.stalejobafter", 2*time.Hour)

	// Scraper
	viper.SetDefault("scraper.timeout", 20*time.Second)
	viper.SetDefault("scraper.knownstreaklimit", 12)
	viper.SetDefault("scraper.useragent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	viper.SetDefault("scraper.acceptlanguage", "en-US,en;q=0.9")
	viper.SetDefault("scraper.maxbodybytes", 8<<20)

	// AI
	viper.SetDefault("ai.enabled", false)
	viper.SetDefault("ai.baseurl", "http://localhost:11434")
	viper.SetDefault("ai.model", "llama3:8b")
	viper.SetDefault("ai.apikey", "")
	viper.SetDefault("ai.timeout", 60*time.Second)
	viper.SetDefault("ai.concurrency", 1)
	viper.SetDefault("ai.batchconcurrency", 2)
	viper.SetDefault("ai.requestsperwindow", 30)
	viper.SetDefault("ai.window", time.Minute)
	viper.SetDefault("ai.maxattempts", 3)
	viper.SetDefault("ai.ratelimitmaxattempts", 6)

	// Cache
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.defaultttl", 5*time.Minute)
	viper.SetDefault("cache.sweepinterval", time.Minute)

	// Auth
	viper.SetDefault("auth.apikeys", []string{})
}
