package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"
)

// Config holds the main configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Storage  Storage  `mapstructure:"storage"`
	Cache    Cache    `mapstructure:"cache"`
	Rabbit   Rabbit   `mapstructure:"rabbit"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Retry    Retry    `mapstructure:"retry"`
	Pipeline Pipeline `mapstructure:"pipeline"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort string `mapstructure:"http_port"` // HTTP port to listen on
}

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Storage selects and configures the blob storage backend.
type Storage struct {
	Backend string `mapstructure:"backend"`  // "s3" or "file"
	BaseDir string `mapstructure:"base_dir"` // base directory for the file backend
	S3      S3     `mapstructure:"s3"`
}

// S3 holds connection parameters for the MinIO backend.
type S3 struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// Cache selects and configures the result cache backend.
type Cache struct {
	Backend  string        `mapstructure:"backend"`   // "memory" or "redis"
	Capacity int           `mapstructure:"capacity"`  // max cached results
	TTL      time.Duration `mapstructure:"ttl"`       // per-entry lifetime
	RedisURL string        `mapstructure:"redis_url"` // redis backend only
}

// Rabbit holds configuration for the transformation job queue.
type Rabbit struct {
	URL             string        `mapstructure:"url"`
	Queue           string        `mapstructure:"queue"`
	DeadLetterQueue string        `mapstructure:"dead_letter_queue"`
	MaxRetries      int           `mapstructure:"max_retries"`     // redeliveries before dead-lettering
	Workers         int           `mapstructure:"workers"`         // consumer goroutines
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"` // delay between connection attempts
}

// Kafka holds configuration for the completion event topic.
type Kafka struct {
	Topic   string   `mapstructure:"topic"`   // Kafka topic name
	Brokers []string `mapstructure:"brokers"` // List of Kafka broker addresses
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Pipeline bounds the in-process transformation work.
type Pipeline struct {
	MaxConcurrent int `mapstructure:"max_concurrent"` // simultaneous synchronous pipelines
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// mustBindEnv binds critical environment variables to Viper keys.
//
// It panics if any environment variable cannot be bound.
func mustBindEnv() {
	bindings := map[string]string{
		"database.master.host":  "DB_HOST",
		"database.master.port":  "DB_PORT",
		"database.master.user":  "DB_USER",
		"database.master.pass":  "DB_PASSWORD",
		"database.master.name":  "DB_NAME",
		"storage.s3.access_key": "S3_ACCESS_KEY",
		"storage.s3.secret_key": "S3_SECRET_KEY",
		"cache.redis_url":       "REDIS_URL",
		"rabbit.url":            "RABBIT_URL",
	}

	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			zlog.Logger.Panic().Err(err).Msgf("failed to bind env %s", env)
		}
	}
}

// MustLoad loads the configuration from the specified directory.
// It panics if the configuration file cannot be loaded or unmarshaled.
func MustLoad(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		zlog.Logger.Panic().Err(err).Msg("failed to read config")
	}

	mustBindEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		zlog.Logger.Panic().Err(err).Msgf("failed to unmarshal config: %v", err)
	}

	return &cfg
}
