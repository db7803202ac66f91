package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ridesync/internal/fare"
)

// EnvPrefix is prepended to every environment override, e.g.
// RIDESYNC_DATABASE_HOST for database.host.
const EnvPrefix = "RIDESYNC"

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Auth     AuthConfig
	Maps     MapsConfig
	Fare     FareConfig
	Store    StoreConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	AuthCacheTTL time.Duration
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	JWTSecret string
}

// MapsConfig holds routing provider settings.
type MapsConfig struct {
	APIKey string
}

// FareConfig holds the waiting and cancellation billing parameters.
type FareConfig struct {
	GracePeriod              time.Duration
	WaitFeePerMinute         float64
	PassengerCancellationFee float64
	DriverCancellationFee    float64
}

// Policy converts the config into a fare policy.
func (c FareConfig) Policy() fare.Policy {
	return fare.Policy{
		GracePeriod:              c.GracePeriod,
		WaitFeePerMinute:         c.WaitFeePerMinute,
		PassengerCancellationFee: c.PassengerCancellationFee,
		DriverCancellationFee:    c.DriverCancellationFee,
	}
}

// StoreConfig tunes the per-session ride stores.
type StoreConfig struct {
	PollInterval   time.Duration
	DedupeWindow   time.Duration
	RequestLockTTL time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// NewViper creates a viper instance with defaults, the optional config file
// and environment overrides.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	policy := fare.DefaultPolicy()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "ride_hailing")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.auth_cache_ttl", 6*time.Hour)

	v.SetDefault("newrelic.app_name", "ridesync")
	v.SetDefault("newrelic.license_key", "")
	v.SetDefault("newrelic.enabled", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("maps.api_key", "")

	v.SetDefault("fare.grace_period", policy.GracePeriod)
	v.SetDefault("fare.wait_fee_per_minute", policy.WaitFeePerMinute)
	v.SetDefault("fare.passenger_cancellation_fee", policy.PassengerCancellationFee)
	v.SetDefault("fare.driver_cancellation_fee", policy.DriverCancellationFee)

	v.SetDefault("store.poll_interval", 45*time.Second)
	v.SetDefault("store.dedupe_window", 2*time.Second)
	v.SetDefault("store.request_lock_ttl", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load loads configuration from defaults, the optional config file and
// RIDESYNC_* environment variables.
func Load(configFile string) (*Config, error) {
	v, err := NewViper(configFile)
	if err != nil {
		return nil, err
	}
	return FromViper(v), nil
}

// FromViper builds a Config from an initialized viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("database.host"),
			Port:     v.GetString("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.name"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Redis: RedisConfig{
			Addr:         v.GetString("redis.addr"),
			Password:     v.GetString("redis.password"),
			DB:           v.GetInt("redis.db"),
			AuthCacheTTL: v.GetDuration("redis.auth_cache_ttl"),
		},
		NewRelic: NewRelicConfig{
			AppName:    v.GetString("newrelic.app_name"),
			LicenseKey: v.GetString("newrelic.license_key"),
			Enabled:    v.GetBool("newrelic.enabled"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
		},
		Maps: MapsConfig{
			APIKey: v.GetString("maps.api_key"),
		},
		Fare: FareConfig{
			GracePeriod:              v.GetDuration("fare.grace_period"),
			WaitFeePerMinute:         v.GetFloat64("fare.wait_fee_per_minute"),
			PassengerCancellationFee: v.GetFloat64("fare.passenger_cancellation_fee"),
			DriverCancellationFee:    v.GetFloat64("fare.driver_cancellation_fee"),
		},
		Store: StoreConfig{
			PollInterval:   v.GetDuration("store.poll_interval"),
			DedupeWindow:   v.GetDuration("store.dedupe_window"),
			RequestLockTTL: v.GetDuration("store.request_lock_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
}
