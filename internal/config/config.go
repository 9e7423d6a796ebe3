package config

import (
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"purchases/internal/types"
)

// Config carries every tunable the SDK and its server wiring read at startup.
// Values come from the environment, optionally overridden by a YAML file
// pointed to by PURCHASES_CONFIG_FILE.
type Config struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Platform   string `yaml:"platform"`
	SDKVersion string `yaml:"sdk_version"`

	ObserverMode       bool `yaml:"observer_mode"`
	FinishTransactions bool `yaml:"finish_transactions"`

	HTTPTimeoutSeconds           int `yaml:"http_timeout_seconds"`
	ProductRequestTimeoutSeconds int `yaml:"product_request_timeout_seconds"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	StoreGatewayURL  string `yaml:"store_gateway_url"`
	StorePollSeconds int    `yaml:"store_poll_seconds"`

	JournalEnabled bool `yaml:"journal_enabled"`
	EventsEnabled  bool `yaml:"events_enabled"`

	ListenAddr string `yaml:"listen_addr"`
}

// GetEnvOrDefault gets environment variable or returns default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		glog.Warningf("invalid bool for %s: %q", key, v)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		glog.Warningf("invalid int for %s: %q", key, v)
		return defaultValue
	}
	return parsed
}

// Load builds the config from the environment, then overlays the YAML file
// named by PURCHASES_CONFIG_FILE when present.
func Load() (*Config, error) {
	cfg := &Config{
		APIKey:     os.Getenv("PURCHASES_API_KEY"),
		BaseURL:    GetEnvOrDefault("PURCHASES_BASE_URL", "https://api.purchases.local"),
		Platform:   GetEnvOrDefault("PURCHASES_PLATFORM", "ios"),
		SDKVersion: GetEnvOrDefault("PURCHASES_SDK_VERSION", "0.1.0"),

		ObserverMode:       getEnvBool("PURCHASES_OBSERVER_MODE", false),
		FinishTransactions: getEnvBool("PURCHASES_FINISH_TRANSACTIONS", true),

		HTTPTimeoutSeconds:           getEnvInt("PURCHASES_HTTP_TIMEOUT_SECONDS", 30),
		ProductRequestTimeoutSeconds: getEnvInt("PURCHASES_PRODUCT_TIMEOUT_SECONDS", 30),

		RedisAddr:     GetEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		StoreGatewayURL:  GetEnvOrDefault("STORE_GATEWAY_URL", "http://localhost:8082"),
		StorePollSeconds: getEnvInt("STORE_POLL_SECONDS", 2),

		JournalEnabled: getEnvBool("PURCHASES_JOURNAL_ENABLED", false),
		EventsEnabled:  getEnvBool("PURCHASES_EVENTS_ENABLED", false),

		ListenAddr: GetEnvOrDefault("PURCHASES_LISTEN_ADDR", ":8081"),
	}

	if file := os.Getenv("PURCHASES_CONFIG_FILE"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, types.WrapError(types.ErrConfiguration, err, "could not read config file %s", file)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, types.WrapError(types.ErrConfiguration, err, "could not parse config file %s", file)
		}
		glog.Infof("loaded config overrides from %s", file)
	}

	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "PURCHASES_API_KEY is required")
	}

	return cfg, nil
}

// HTTPTimeout returns the backend client timeout.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// ProductRequestTimeout returns the store products request timeout.
func (c *Config) ProductRequestTimeout() time.Duration {
	return time.Duration(c.ProductRequestTimeoutSeconds) * time.Second
}

// StorePollInterval returns how often the store gateway is polled for
// transaction updates.
func (c *Config) StorePollInterval() time.Duration {
	return time.Duration(c.StorePollSeconds) * time.Second
}
