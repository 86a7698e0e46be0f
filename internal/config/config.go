package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the risk-monitor service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Rules     RulesConfig     `yaml:"rules"`
	Store     StoreConfig     `yaml:"store"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Kafka     KafkaConfig     `yaml:"kafka"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig points at the threshold rule pack.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig selects the snapshot store backend. Backend is "memory" or
// "valkey"; the Valkey settings are ignored for the memory backend.
type StoreConfig struct {
	Backend      string        `yaml:"backend"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	KeyPrefix    string        `yaml:"keyPrefix"`
}

// WebSocketConfig tunes observer connection handling.
type WebSocketConfig struct {
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	PongWait     time.Duration `yaml:"pongWait"`
	PingInterval time.Duration `yaml:"pingInterval"`
	SendBuffer   int           `yaml:"sendBuffer"`
}

// KafkaConfig controls the optional downstream alert topic.
type KafkaConfig struct {
	Enabled bool   `yaml:"enabled"`
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("RISK_MONITOR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Rules: RulesConfig{
			Path: "",
		},
		Store: StoreConfig{
			Backend:      "memory",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			KeyPrefix:    "riskmon",
		},
		WebSocket: WebSocketConfig{
			WriteTimeout: 5 * time.Second,
			PongWait:     60 * time.Second,
			PingInterval: 25 * time.Second,
			SendBuffer:   32,
		},
		Kafka: KafkaConfig{
			Topic: "risk.alerts",
		},
	}
}

func validate(cfg Config) error {
	switch cfg.Store.Backend {
	case "memory":
	case "valkey":
		if cfg.Store.Addr == "" {
			return fmt.Errorf("store.addr is required for the valkey backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if cfg.Kafka.Enabled && cfg.Kafka.Brokers == "" {
		return fmt.Errorf("kafka.brokers is required when the kafka sink is enabled")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RISK_MONITOR_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("RISK_MONITOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("RISK_MONITOR_GRACEFUL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.GracefulTimeout = d
		}
	}
	if v := os.Getenv("RISK_MONITOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RISK_MONITOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("RISK_MONITOR_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("RISK_MONITOR_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("RISK_MONITOR_STORE_ADDR"); v != "" {
		cfg.Store.Addr = v
	}
	if v := os.Getenv("RISK_MONITOR_STORE_USERNAME"); v != "" {
		cfg.Store.Username = v
	}
	if v := os.Getenv("RISK_MONITOR_STORE_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("RISK_MONITOR_STORE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Store.DB = db
		}
	}
	if v := os.Getenv("RISK_MONITOR_STORE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Store.TLS = true
	}
	if v := os.Getenv("RISK_MONITOR_STORE_KEY_PREFIX"); v != "" {
		cfg.Store.KeyPrefix = v
	}
	if v := os.Getenv("RISK_MONITOR_WS_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.WriteTimeout = d
		}
	}
	if v := os.Getenv("RISK_MONITOR_WS_PONG_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.PongWait = d
		}
	}
	if v := os.Getenv("RISK_MONITOR_WS_PING_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.PingInterval = d
		}
	}
	if v := os.Getenv("RISK_MONITOR_WS_SEND_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WebSocket.SendBuffer = n
		}
	}
	if v := os.Getenv("RISK_MONITOR_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("RISK_MONITOR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = v
	}
	if v := os.Getenv("RISK_MONITOR_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
}
