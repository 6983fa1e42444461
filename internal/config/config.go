package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Compression CompressionConfig `mapstructure:"compression"`
	Export      ExportConfig      `mapstructure:"export"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains compression settings
type CompressionConfig struct {
	DefaultQuality int `mapstructure:"default_quality"`
	Workers        int `mapstructure:"workers"` // 0 selects a CPU-based default
}

// ExportConfig contains export settings
type ExportConfig struct {
	Target    string        `mapstructure:"target"` // dir, s3
	Directory string        `mapstructure:"directory"`
	Prefix    string        `mapstructure:"prefix"`
	Stride    time.Duration `mapstructure:"stride"`
	S3        S3Config      `mapstructure:"s3"`
}

// S3Config contains the bucket used when export.target is s3
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MaxUploadSize int64         `mapstructure:"max_upload_size"` // bytes
	Metrics       bool          `mapstructure:"metrics"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// Quality bounds accepted for compression.default_quality.
const (
	minQuality = 10
	maxQuality = 95
)

// Export targets.
const (
	ExportTargetDir = "dir"
	ExportTargetS3  = "s3"
)

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Compression: CompressionConfig{
			DefaultQuality: 80,
			Workers:        0,
		},
		Export: ExportConfig{
			Target:    ExportTargetDir,
			Directory: "compressed",
			Prefix:    "compressed_",
			Stride:    100 * time.Millisecond,
		},
		Server: ServerConfig{
			Port:          8080,
			ReadTimeout:   60 * time.Second,
			WriteTimeout:  60 * time.Second,
			MaxUploadSize: 256 << 20,
			Metrics:       true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			FilePath:   "photo-compressor.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, DefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.photo-compressor")
		v.AddConfigPath("/etc/photo-compressor")
	}

	// Enable environment variable support
	v.SetEnvPrefix("PHOTO_COMPRESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults registers every key so that environment overrides reach
// Unmarshal even when no config file sets them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("compression.default_quality", d.Compression.DefaultQuality)
	v.SetDefault("compression.workers", d.Compression.Workers)

	v.SetDefault("export.target", d.Export.Target)
	v.SetDefault("export.directory", d.Export.Directory)
	v.SetDefault("export.prefix", d.Export.Prefix)
	v.SetDefault("export.stride", d.Export.Stride)
	v.SetDefault("export.s3.bucket", d.Export.S3.Bucket)
	v.SetDefault("export.s3.region", d.Export.S3.Region)
	v.SetDefault("export.s3.endpoint", d.Export.S3.Endpoint)
	v.SetDefault("export.s3.key_prefix", d.Export.S3.KeyPrefix)
	v.SetDefault("export.s3.access_key_id", d.Export.S3.AccessKeyID)
	v.SetDefault("export.s3.secret_access_key", d.Export.S3.SecretAccessKey)
	v.SetDefault("export.s3.use_path_style", d.Export.S3.UsePathStyle)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.max_upload_size", d.Server.MaxUploadSize)
	v.SetDefault("server.metrics", d.Server.Metrics)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	defaults := DefaultConfig()

	// Validate compression settings
	q := c.Compression.DefaultQuality
	if q < minQuality || q > maxQuality {
		return fmt.Errorf("invalid compression.default_quality: %d (valid: %d-%d)", q, minQuality, maxQuality)
	}
	if c.Compression.Workers < 0 {
		return fmt.Errorf("invalid compression.workers: %d", c.Compression.Workers)
	}

	// Validate export settings
	c.Export.Target = strings.ToLower(strings.TrimSpace(c.Export.Target))
	switch c.Export.Target {
	case "":
		c.Export.Target = defaults.Export.Target
	case ExportTargetDir:
	case ExportTargetS3:
		if strings.TrimSpace(c.Export.S3.Bucket) == "" {
			return fmt.Errorf("export.s3.bucket is required when export.target is s3")
		}
	default:
		return fmt.Errorf("invalid export.target: %s (valid: dir, s3)", c.Export.Target)
	}
	if strings.TrimSpace(c.Export.Directory) == "" {
		c.Export.Directory = defaults.Export.Directory
	}
	if strings.ContainsAny(c.Export.Prefix, `/\`) {
		return fmt.Errorf("invalid export.prefix: %q must not contain path separators", c.Export.Prefix)
	}
	if c.Export.Stride < 0 {
		return fmt.Errorf("invalid export.stride: %s", c.Export.Stride)
	}

	// Validate server settings
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = defaults.Server.ReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = defaults.Server.WriteTimeout
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = defaults.Server.MaxUploadSize
	}

	// Validate logging settings
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "":
		c.Logging.Format = defaults.Logging.Format
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format)
	}

	return nil
}

// Address returns the listen address for the HTTP server
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
