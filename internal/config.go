package internal

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Security SecurityConfig `mapstructure:"security"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
}

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	PublicURL      string   `mapstructure:"publicUrl"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"`
	DSN            string `mapstructure:"dsn"`
	MigrationsPath string `mapstructure:"migrationsPath"`
}

type StorageConfig struct {
	BaseDir            string `mapstructure:"baseDir"`
	MaxFilesPerRequest int    `mapstructure:"maxFilesPerRequest"`
	MaxRequestBytes    int64  `mapstructure:"maxRequestBytes"`
	RetentionDays      int    `mapstructure:"retentionDays"`
	ReaperIntervalMin  int    `mapstructure:"reaperIntervalMinutes"`
}

type SecurityConfig struct {
	ScanTimeoutSeconds int      `mapstructure:"scanTimeoutSeconds"`
	AllowedTypes       []string `mapstructure:"allowedTypes"`
	AllowedExtensions  []string `mapstructure:"allowedExtensions"`
	DeniedExtensions   []string `mapstructure:"deniedExtensions"`
}

type AuthConfig struct {
	Secret string `mapstructure:"secret"`
}

type MirrorConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"accessKey"`
	SecretKey string `mapstructure:"secretKey"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"useSSL"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile("files/config.yaml")

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.publicUrl", "http://localhost:8080")
	viper.SetDefault("database.driver", "sqlite3")
	viper.SetDefault("database.dsn", "files/filegate.db")
	viper.SetDefault("database.migrationsPath", "file://files/migrations")
	viper.SetDefault("storage.baseDir", "files/uploads")
	viper.SetDefault("storage.maxFilesPerRequest", 10)
	viper.SetDefault("storage.maxRequestBytes", 1024*1024*1024)
	viper.SetDefault("storage.retentionDays", 30)
	viper.SetDefault("storage.reaperIntervalMinutes", 24*60)
	viper.SetDefault("security.scanTimeoutSeconds", 30)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if config.Auth.Secret == "" {
		return nil, fmt.Errorf("auth.secret must be configured")
	}
	return &config, nil
}

func (c *StorageConfig) ReaperInterval() time.Duration {
	return time.Duration(c.ReaperIntervalMin) * time.Minute
}

func (c *SecurityConfig) ScanTimeout() time.Duration {
	return time.Duration(c.ScanTimeoutSeconds) * time.Second
}
