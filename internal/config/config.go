package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

// Config holds the client settings.
// Priority: environment > YAML file > defaults.
type Config struct {
	// Transport
	ServerURL         string        `envconfig:"SERVER_URL" validate:"required,url"`
	ReconnectAttempts int           `envconfig:"RECONNECT_ATTEMPTS" validate:"gte=0"`
	ReconnectDelay    time.Duration `envconfig:"RECONNECT_DELAY" validate:"gt=0"`
	ReconnectMaxDelay time.Duration `envconfig:"RECONNECT_MAX_DELAY" validate:"gtefield=ReconnectDelay"`
	SendBuffer        int           `envconfig:"SEND_BUFFER" validate:"gt=0"`

	// Store collaborator
	APIURL      string        `envconfig:"API_URL" validate:"required,url"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" validate:"gt=0"`

	// Identity, issued by the host application
	UserID   string `envconfig:"USER_ID" validate:"required"`
	UserName string `envconfig:"USER_NAME"`
	IsAgent  bool   `envconfig:"IS_AGENT"`
	Token    string `envconfig:"TOKEN"`

	// Messaging behaviour
	TypingIdle     time.Duration `envconfig:"TYPING_IDLE" validate:"gt=0"`
	TypingExpiry   time.Duration `envconfig:"TYPING_EXPIRY" validate:"gtefield=TypingIdle"`
	AckTimeout     time.Duration `envconfig:"ACK_TIMEOUT" validate:"gt=0"`
	SendRetries    int           `envconfig:"SEND_RETRIES" validate:"gte=0,lte=5"`
	RequireJoinAck bool          `envconfig:"REQUIRE_JOIN_ACK"`
	Optimistic     bool          `envconfig:"OPTIMISTIC_SEND"`
	DirectoryPoll  time.Duration `envconfig:"DIRECTORY_POLL" validate:"gte=0"`

	// Ledger snapshots; empty means in-memory only.
	RedisURL string `envconfig:"REDIS_URL" validate:"omitempty,url"`

	// MetricsAddr serves /metrics and /health when set.
	MetricsAddr   string `envconfig:"METRICS_ADDR"`
	MetricsSecret string `envconfig:"METRICS_SECRET"`

	LogLevel string `envconfig:"LOG_LEVEL" validate:"omitempty,oneof=debug trace info warn warning error"`
}

// Identity returns the caller identity carried by the config.
func (c *Config) Identity() model.Identity {
	name := c.UserName
	if name == "" {
		name = c.UserID
	}
	return model.Identity{UserID: c.UserID, Name: name, IsAgent: c.IsAgent, Token: c.Token}
}

// yamlConfig is the on-disk shape. Durations are in milliseconds.
type yamlConfig struct {
	ServerURL           string `yaml:"server_url"`
	ReconnectAttempts   int    `yaml:"reconnect_attempts"`
	ReconnectDelayMS    int    `yaml:"reconnect_delay_ms"`
	ReconnectMaxDelayMS int    `yaml:"reconnect_max_delay_ms"`
	SendBuffer          int    `yaml:"send_buffer"`
	APIURL              string `yaml:"api_url"`
	HTTPTimeoutMS       int    `yaml:"http_timeout_ms"`
	UserID              string `yaml:"user_id"`
	UserName            string `yaml:"user_name"`
	IsAgent             bool   `yaml:"is_agent"`
	TypingIdleMS        int    `yaml:"typing_idle_ms"`
	TypingExpiryMS      int    `yaml:"typing_expiry_ms"`
	AckTimeoutMS        int    `yaml:"ack_timeout_ms"`
	SendRetries         int    `yaml:"send_retries"`
	RequireJoinAck      bool   `yaml:"require_join_ack"`
	Optimistic          bool   `yaml:"optimistic_send"`
	DirectoryPollMS     int    `yaml:"directory_poll_ms"`
	RedisURL            string `yaml:"redis_url"`
	MetricsAddr         string `yaml:"metrics_addr"`
	LogLevel            string `yaml:"log_level"`
}

func defaults() yamlConfig {
	return yamlConfig{
		ServerURL:           "ws://localhost:8080/ws",
		ReconnectAttempts:   10,
		ReconnectDelayMS:    1000,
		ReconnectMaxDelayMS: 30000,
		SendBuffer:          256,
		APIURL:              "http://localhost:8080",
		HTTPTimeoutMS:       10000,
		TypingIdleMS:        3000,
		TypingExpiryMS:      6000,
		AckTimeoutMS:        10000,
		LogLevel:            "info",
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (y yamlConfig) toConfig() Config {
	return Config{
		ServerURL:         y.ServerURL,
		ReconnectAttempts: y.ReconnectAttempts,
		ReconnectDelay:    ms(y.ReconnectDelayMS),
		ReconnectMaxDelay: ms(y.ReconnectMaxDelayMS),
		SendBuffer:        y.SendBuffer,
		APIURL:            y.APIURL,
		HTTPTimeout:       ms(y.HTTPTimeoutMS),
		UserID:            y.UserID,
		UserName:          y.UserName,
		IsAgent:           y.IsAgent,
		TypingIdle:        ms(y.TypingIdleMS),
		TypingExpiry:      ms(y.TypingExpiryMS),
		AckTimeout:        ms(y.AckTimeoutMS),
		SendRetries:       y.SendRetries,
		RequireJoinAck:    y.RequireJoinAck,
		Optimistic:        y.Optimistic,
		DirectoryPoll:     ms(y.DirectoryPollMS),
		RedisURL:          y.RedisURL,
		MetricsAddr:       y.MetricsAddr,
		LogLevel:          y.LogLevel,
	}
}

// Load reads .env (outside production), the first YAML file found among path,
// CONFIG_PATH and defaultPaths, then environment overrides, and validates the result.
func Load(path string, defaultPaths ...string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Errorf("config: .env: %v", err)
		}
	}

	yc := defaults()
	paths := append([]string{path, os.Getenv("CONFIG_PATH")}, defaultPaths...)
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", p, err)
		}
		logger.Infof("config: loaded %s", p)
		break
	}

	cfg := yc.toConfig()
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
