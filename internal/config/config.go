package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultUserAgent is presented to the upstream when none is configured.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:102.0) Gecko/20100101 Firefox/102.0"

// DefaultBaseURL is the production service endpoint.
const DefaultBaseURL = "https://pro.p-on.ru"

// Polling cadence bounds.
const (
	DefaultPollingInterval = 60 * time.Second
	MinPollingInterval     = 10 * time.Second
	MaxPollingInterval     = time.Hour
)

// DefaultCommandTimeout bounds how long a submitted command may wait for its
// reply frame.
const DefaultCommandTimeout = 30 * time.Second

// Config represents the daemon configuration
type Config struct {
	Log      LogConfig       `yaml:"log"`
	Accounts []AccountConfig `yaml:"accounts"`
	NATS     NATSConfig      `yaml:"nats"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	API      APIConfig       `yaml:"api"`
	Database DatabaseConfig  `yaml:"database"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AccountConfig represents one upstream credential scope
type AccountConfig struct {
	Name            string                    `yaml:"name"`
	Username        string                    `yaml:"username"`
	Password        string                    `yaml:"password"`
	UserAgent       string                    `yaml:"user_agent"`
	BaseURL         string                    `yaml:"base_url"`
	PollingInterval time.Duration             `yaml:"polling_interval"`
	CommandTimeout  time.Duration             `yaml:"command_timeout"`
	Devices         map[string]DeviceSettings `yaml:"devices"`
}

// DeviceSettings is the per-device enable map, keyed by device id.
type DeviceSettings struct {
	Enabled *bool `yaml:"enabled"`
}

// DeviceEnabled reports whether commands and publishing are allowed for the
// device. Devices missing from the map are enabled.
func (a *AccountConfig) DeviceEnabled(deviceID int64) bool {
	s, ok := a.Devices[fmt.Sprintf("%d", deviceID)]
	if !ok || s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// NATSConfig represents the downstream event bus configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	Name              string        `yaml:"name"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents the optional MQTT mirror configuration
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	TLS         bool   `yaml:"tls"`
}

// APIConfig represents the local REST API configuration
type APIConfig struct {
	Enabled      bool      `yaml:"enabled"`
	Host         string    `yaml:"host"`
	Port         int       `yaml:"port"`
	PasswordHash string    `yaml:"password_hash"`
	JWT          JWTConfig `yaml:"jwt"`
}

// JWTConfig represents local API token configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// DatabaseConfig represents the optional warm-start store configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if username := os.Getenv("PANDORA_USERNAME"); username != "" && len(c.Accounts) > 0 {
		c.Accounts[0].Username = username
	}

	if password := os.Getenv("PANDORA_PASSWORD"); password != "" && len(c.Accounts) > 0 {
		c.Accounts[0].Password = password
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if jwtSecret := os.Getenv("API_JWT_SECRET"); jwtSecret != "" {
		c.API.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}
}

// ValidateAndSetDefaults checks required fields and fills in defaults.
func (c *Config) ValidateAndSetDefaults() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Name == "" {
			a.Name = fmt.Sprintf("account-%d", i+1)
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate account name: %s", a.Name)
		}
		seen[a.Name] = true

		if a.Username == "" {
			return fmt.Errorf("account %s: username is required", a.Name)
		}
		if a.Password == "" {
			return fmt.Errorf("account %s: password is required", a.Name)
		}
		if a.UserAgent == "" {
			a.UserAgent = DefaultUserAgent
		}
		if a.BaseURL == "" {
			a.BaseURL = DefaultBaseURL
		}
		if a.PollingInterval == 0 {
			a.PollingInterval = DefaultPollingInterval
		}
		if a.PollingInterval < MinPollingInterval {
			a.PollingInterval = MinPollingInterval
		}
		if a.PollingInterval > MaxPollingInterval {
			a.PollingInterval = MaxPollingInterval
		}
		if a.CommandTimeout == 0 {
			a.CommandTimeout = DefaultCommandTimeout
		}
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.NATS.Name == "" {
		c.NATS.Name = "pandora-client"
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}

	if c.MQTT.Enabled {
		if c.MQTT.BrokerURL == "" {
			return fmt.Errorf("mqtt enabled but broker_url is empty")
		}
		if c.MQTT.TopicPrefix == "" {
			c.MQTT.TopicPrefix = "pandora"
		}
		if c.MQTT.ClientID == "" {
			c.MQTT.ClientID = "pandora-client"
		}
	}

	if c.API.Enabled {
		if c.API.Host == "" {
			c.API.Host = "127.0.0.1"
		}
		if c.API.Port == 0 {
			c.API.Port = 8045
		}
		if c.API.JWT.Secret == "" {
			return fmt.Errorf("api enabled but jwt secret is empty")
		}
		if c.API.PasswordHash == "" {
			return fmt.Errorf("api enabled but password_hash is empty")
		}
		if c.API.JWT.AccessTokenTTL == 0 {
			c.API.JWT.AccessTokenTTL = 15 * time.Minute
		}
		if c.API.JWT.RefreshTokenTTL == 0 {
			c.API.JWT.RefreshTokenTTL = 30 * 24 * time.Hour
		}
	}

	if c.Database.DSN != "" {
		if c.Database.MaxOpenConns == 0 {
			c.Database.MaxOpenConns = 5
		}
		if c.Database.MaxIdleConns == 0 {
			c.Database.MaxIdleConns = 2
		}
		if c.Database.ConnMaxLifetime == 0 {
			c.Database.ConnMaxLifetime = time.Hour
		}
	}

	return nil
}
