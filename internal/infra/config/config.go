// Package config loads and validates the application configuration from
// a YAML file with environment-variable overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TelegramConfig carries the transport credentials for the Telegram Bot API
// adapter.
type TelegramConfig struct {
	BotToken      string `yaml:"bot_token" json:"botToken"`
	SessionString string `yaml:"session_string" json:"sessionString"`
}

// TelemetryConfig controls optional OTLP/HTTP metric export. A blank
// endpoint leaves every instrument on the no-op meter.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlpEndpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure" json:"otlpInsecure"`
}

// Config is the unified application configuration, sourced from a YAML file.
// The string settings are overridable by VIVBLISS_-prefixed environment
// variables (e.g. VIVBLISS_MONGO_URI, VIVBLISS_OTLP_ENDPOINT; see
// applyEnvOverrides); the sizing fields and OTLPInsecure have no
// environment override.
type Config struct {
	BrokerURL       string         `yaml:"broker_url" json:"brokerUrl"`
	MongoURI        string         `yaml:"mongo_uri" json:"mongoUri"`
	MongoDatabase   string         `yaml:"mongo_database" json:"mongoDatabase"`
	DataDir         string         `yaml:"data_dir" json:"dataDir"`
	ExtractorName   string         `yaml:"extractor_name" json:"extractorName"`
	MessageStrategy string         `yaml:"message_strategy" json:"messageStrategy"`
	TargetChat      string         `yaml:"target_chat" json:"targetChat"`
	Telegram        TelegramConfig `yaml:"telegram" json:"telegram"`

	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	DispatchBatchSize  int `yaml:"dispatch_batch_size" json:"dispatchBatchSize"`
	WorkerPoolSize     int `yaml:"worker_pool_size" json:"workerPoolSize"`
	WorkerPoolQueueCap int `yaml:"worker_pool_queue_cap" json:"workerPoolQueueCap"`
}

// Default returns the baseline configuration applied before the YAML file
// and environment overrides are layered on top.
func Default() Config {
	return Config{
		DataDir:            "./data",
		MessageStrategy:    "S1",
		DispatchBatchSize:  20,
		WorkerPoolSize:     4,
		WorkerPoolQueueCap: 64,
	}
}

// Load reads configPath (if non-empty and present), applies VIVBLISS_*
// environment overrides, normalizes, and validates the result.
func Load(configPath string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(configPath) != "" {
		if err := mergeFile(&cfg, configPath); err != nil {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	clean := filepath.Clean(strings.TrimSpace(path))
	file, err := os.Open(clean) // #nosec G304 -- operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.BrokerURL, "VIVBLISS_BROKER_URL")
	overrideString(&cfg.MongoURI, "VIVBLISS_MONGO_URI")
	overrideString(&cfg.MongoDatabase, "VIVBLISS_MONGO_DATABASE")
	overrideString(&cfg.DataDir, "VIVBLISS_DATA_DIR")
	overrideString(&cfg.ExtractorName, "VIVBLISS_EXTRACTOR_NAME")
	overrideString(&cfg.MessageStrategy, "VIVBLISS_MESSAGE_STRATEGY")
	overrideString(&cfg.TargetChat, "VIVBLISS_TARGET_CHAT")
	overrideString(&cfg.Telegram.BotToken, "VIVBLISS_TELEGRAM_BOT_TOKEN")
	overrideString(&cfg.Telegram.SessionString, "VIVBLISS_TELEGRAM_SESSION_STRING")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VIVBLISS_OTLP_ENDPOINT")
}

func overrideString(field *string, envKey string) {
	if v, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(v) != "" {
		*field = v
	}
}

func (c *Config) normalize() {
	c.BrokerURL = strings.TrimSpace(c.BrokerURL)
	c.MongoURI = strings.TrimSpace(c.MongoURI)
	c.MongoDatabase = strings.TrimSpace(c.MongoDatabase)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.ExtractorName = strings.TrimSpace(c.ExtractorName)
	c.MessageStrategy = strings.ToUpper(strings.TrimSpace(c.MessageStrategy))
	c.TargetChat = strings.TrimSpace(c.TargetChat)
	c.Telegram.BotToken = strings.TrimSpace(c.Telegram.BotToken)
	c.Telegram.SessionString = strings.TrimSpace(c.Telegram.SessionString)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)

	if c.DispatchBatchSize <= 0 {
		c.DispatchBatchSize = 20
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 4
	}
	if c.WorkerPoolQueueCap <= 0 {
		c.WorkerPoolQueueCap = 64
	}
}

// Validate performs semantic validation on the loaded configuration.
func (c Config) Validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("mongo_uri required")
	}
	if c.MongoDatabase == "" {
		return fmt.Errorf("mongo_database required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir required")
	}
	if c.ExtractorName == "" {
		return fmt.Errorf("extractor_name required")
	}
	if c.TargetChat == "" {
		return fmt.Errorf("target_chat required")
	}
	switch c.MessageStrategy {
	case "S1", "S2", "S3":
	default:
		return fmt.Errorf("message_strategy must be one of S1, S2, S3")
	}
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token required")
	}
	if c.DispatchBatchSize <= 0 {
		return fmt.Errorf("dispatch_batch_size must be > 0")
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker_pool_size must be > 0")
	}
	if c.WorkerPoolQueueCap <= 0 {
		return fmt.Errorf("worker_pool_queue_cap must be > 0")
	}
	return nil
}
