package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	APIPort int `yaml:"apiPort"`
	Service struct {
		BaseURL     string `yaml:"baseURL"`
		AdminSecret string `yaml:"adminSecret"`
	} `yaml:"service"`
	Database struct {
		Type     string `yaml:"type"`
		Path     string `yaml:"path"`
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Name     string `yaml:"name"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslMode"`
		MaxConns int    `yaml:"maxConns"`
		MaxIdle  int    `yaml:"maxIdle"`
	} `yaml:"database"`
	Tokens struct {
		Backend                     string `yaml:"backend"`
		ByteLength                  int    `yaml:"byteLength"`
		PasswordResetTTLMinutes     int    `yaml:"passwordResetTTLMinutes"`
		EmailVerificationTTLMinutes int    `yaml:"emailVerificationTTLMinutes"`
		StoreTimeoutSeconds         int    `yaml:"storeTimeoutSeconds"`
		SweepIntervalMinutes        int    `yaml:"sweepIntervalMinutes"`
		ConsumedRetentionHours      int    `yaml:"consumedRetentionHours"`
	} `yaml:"tokens"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	SMTP struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	} `yaml:"smtp"`
}

// LoadConfig loads the configuration from file and environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv() // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// If the file doesn't exist or is invalid, return an error
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Printf("Warning: Could not read config file: %s. Using defaults or environment variables.", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Set default port if not specified
	if cfg.APIPort == 0 {
		cfg.APIPort = 8081
	}

	// Set default database settings
	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/data/tokengate.db"
		log.Println("Database path not specified, using default /data/tokengate.db")
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}

	// Set default token settings
	if cfg.Tokens.Backend == "" {
		cfg.Tokens.Backend = "sql"
	}
	if cfg.Tokens.ByteLength == 0 {
		cfg.Tokens.ByteLength = 32
	}
	if cfg.Tokens.PasswordResetTTLMinutes == 0 {
		cfg.Tokens.PasswordResetTTLMinutes = 60
	}
	if cfg.Tokens.EmailVerificationTTLMinutes == 0 {
		cfg.Tokens.EmailVerificationTTLMinutes = 24 * 60
	}
	if cfg.Tokens.StoreTimeoutSeconds == 0 {
		cfg.Tokens.StoreTimeoutSeconds = 5
	}
	if cfg.Tokens.SweepIntervalMinutes == 0 {
		cfg.Tokens.SweepIntervalMinutes = 15
	}
	if cfg.Tokens.ConsumedRetentionHours == 0 {
		cfg.Tokens.ConsumedRetentionHours = 24
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	// Set default service settings
	if cfg.Service.BaseURL == "" {
		cfg.Service.BaseURL = "http://localhost:8081"
		log.Println("Service base URL not specified, using default http://localhost:8081")
	}

	return &cfg, nil
}

// PasswordResetTTL returns the configured password reset token lifetime.
func (c *Config) PasswordResetTTL() time.Duration {
	return time.Duration(c.Tokens.PasswordResetTTLMinutes) * time.Minute
}

// EmailVerificationTTL returns the configured email verification token lifetime.
func (c *Config) EmailVerificationTTL() time.Duration {
	return time.Duration(c.Tokens.EmailVerificationTTLMinutes) * time.Minute
}

// StoreTimeout returns the bound on durable-store calls.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Tokens.StoreTimeoutSeconds) * time.Second
}

// SweepInterval returns how often the expiry sweep runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Tokens.SweepIntervalMinutes) * time.Minute
}

// ConsumedRetention returns how long consumed tokens are kept for replay
// classification.
func (c *Config) ConsumedRetention() time.Duration {
	return time.Duration(c.Tokens.ConsumedRetentionHours) * time.Hour
}

// SMTPConfigured reports whether an SMTP host is set; without one the
// service falls back to the logging notifier.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}
