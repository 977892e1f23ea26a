package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	AdminPort     int    `mapstructure:"admin_port" validate:"required,gt=0"`
	AuthorizePort int    `mapstructure:"authorize_port" validate:"required,gt=0"`
	Host          string `mapstructure:"host"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,gt=0"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"required,gt=0"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EngineConfig holds engine tunables
type EngineConfig struct {
	// SnapshotTTLSeconds bounds how stale a tier/policy snapshot may be.
	SnapshotTTLSeconds int `mapstructure:"snapshot_ttl_seconds" validate:"gte=0"`
	// CounterTimeoutMillis bounds every counter store operation; a timeout
	// rejects the request.
	CounterTimeoutMillis int `mapstructure:"counter_timeout_millis" validate:"gte=0"`
}

var (
	// Global configuration
	globalConfig Config

	validate = validator.New()
)

// Load loads the configuration from config files
func Load() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		viper.AddConfigPath(path)
	}

	// Set defaults
	setDefaults()

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal the config
	if err := viper.Unmarshal(&globalConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate.Struct(&globalConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// setDefaults sets default values for configuration
func setDefaults() {
	viper.SetDefault("server.admin_port", 8080)
	viper.SetDefault("server.authorize_port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("engine.snapshot_ttl_seconds", 30)
	viper.SetDefault("engine.counter_timeout_millis", 2000)
}

// GetConfig returns the global configuration
func GetConfig() *Config {
	return &globalConfig
}

// GetServerConfig returns the server configuration
func GetServerConfig() ServerConfig {
	return globalConfig.Server
}

// GetDatabaseConfig returns the database configuration
func GetDatabaseConfig() DatabaseConfig {
	return globalConfig.Database
}

// GetRedisConfig returns the redis configuration
func GetRedisConfig() RedisConfig {
	return globalConfig.Redis
}

// GetEngineConfig returns the engine configuration
func GetEngineConfig() EngineConfig {
	return globalConfig.Engine
}
