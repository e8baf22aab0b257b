// Package config loads and validates service configuration from environment
// variables (prefix XASDB) and an optional xasdb.yaml file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Database holds the postgres connection parameters.
type Database struct {
	Host     string `mapstructure:"host"     validate:"required"`
	Port     int    `mapstructure:"port"     validate:"required,min=1,max=65535"`
	Username string `mapstructure:"username" validate:"required"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database" validate:"required"`
	SSLMode  string `mapstructure:"sslmode"  validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

// S3 holds the object-storage parameters for the s3 blob backend.
type S3 struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	KeyID     string `mapstructure:"key_id"`
	AccessKey string `mapstructure:"access_key"`
	Bucket    string `mapstructure:"bucket"`
	Timeout   string `mapstructure:"timeout"`
}

// Blob selects and configures the blob backend for uploaded files.
type Blob struct {
	Type string `mapstructure:"type" validate:"oneof=filesystem s3 memory"`
	Dir  string `mapstructure:"dir"`
	S3   S3     `mapstructure:"s3"`
}

// AppConfig is the full service configuration.
type AppConfig struct {
	Port     int      `mapstructure:"port"      validate:"required,min=1,max=65535"`
	LogLevel string   `mapstructure:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	Database Database `mapstructure:"database"`
	Blob     Blob     `mapstructure:"blob"`
}

// Load reads, unmarshals and validates the configuration.
func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "xasdb")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "xasdb")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("blob.type", "filesystem")
	v.SetDefault("blob.dir", "./blobs")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.region", "")
	v.SetDefault("blob.s3.key_id", "")
	v.SetDefault("blob.s3.access_key", "")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.timeout", "30s")

	v.SetEnvPrefix("XASDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("xasdb")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ZerologLevel maps the configured log level onto zerolog's scale.
func (c *AppConfig) ZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}

	return level
}
