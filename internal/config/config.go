package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Redis       RedisConfig        `mapstructure:"redis"`
	RateLimit   RateLimitConfig    `mapstructure:"rate_limit"`
	Registry    RegistryConfig     `mapstructure:"registry"`
	PromptStore PromptStoreConfig  `mapstructure:"prompt_store"`
	Credentials []CredentialConfig `mapstructure:"credentials"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
	// APIKeys are the platform bearer tokens clients authenticate with.
	APIKeys []APIKeyConfig `mapstructure:"api_keys"`
}

type APIKeyConfig struct {
	Key   string `mapstructure:"key" validate:"required"`
	OrgID string `mapstructure:"org_id" validate:"required"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type RegistryConfig struct {
	// Path to the model table; empty means the embedded default.
	Path string `mapstructure:"path"`
}

type PromptStoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// CredentialConfig is one platform-managed upstream credential. Secret fields
// support "ENV:VAR_NAME" indirection so the config file never holds secrets.
type CredentialConfig struct {
	Provider  string            `mapstructure:"provider" validate:"required"`
	APIKey    string            `mapstructure:"api_key"`
	SecretKey string            `mapstructure:"secret_key"`
	Region    string            `mapstructure:"region"`
	ProjectID string            `mapstructure:"project_id"`
	Location  string            `mapstructure:"location"`
	Headers   map[string]string `mapstructure:"headers"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig() (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("./internal/config")
	}

	// Default Values
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("prompt_store.dsn", "gateway.db")

	// Environment Variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Resolve secret indirection
	for i, c := range cfg.Credentials {
		cfg.Credentials[i].APIKey = resolveSecret(v, c.APIKey)
		cfg.Credentials[i].SecretKey = resolveSecret(v, c.SecretKey)
	}

	validate := validator.New()
	for _, k := range cfg.Server.APIKeys {
		if err := validate.Struct(&k); err != nil {
			return nil, fmt.Errorf("invalid api key entry: %w", err)
		}
	}

	return &cfg, nil
}

// resolveSecret expands "ENV:VAR_NAME" values. The process environment wins
// over viper's view so explicit overrides always apply.
func resolveSecret(v *viper.Viper, raw string) string {
	if !strings.HasPrefix(raw, "ENV:") {
		return raw
	}
	envVar := strings.TrimPrefix(raw, "ENV:")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return v.GetString(envVar)
}
