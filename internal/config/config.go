package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TWIN_STORAGE_BACKEND overrides storage.backend.
const EnvPrefix = "TWIN"

type Backend string

const (
	BackendFile      Backend = "file"
	BackendGCS       Backend = "gcs"
	BackendFirestore Backend = "firestore"
	BackendBolt      Backend = "bolt"
	BackendMemory    Backend = "memory"
)

type Provider string

const (
	ProviderMock      Provider = "mock"
	ProviderVertex    Provider = "vertex"
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Storage      StorageConfig      `mapstructure:"storage"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Persona      PersonaConfig      `mapstructure:"persona"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Log          LogConfig          `mapstructure:"log"`
}

type StorageConfig struct {
	Backend         Backend     `mapstructure:"backend"`
	Root            string      `mapstructure:"root"`       // file backend directory
	Bucket          string      `mapstructure:"bucket"`     // gcs bucket
	Prefix          string      `mapstructure:"prefix"`     // gcs object prefix
	Project         string      `mapstructure:"project"`    // firestore project
	Collection      string      `mapstructure:"collection"` // firestore collection
	BoltPath        string      `mapstructure:"bolt_path"`
	AllowStaleReads bool        `mapstructure:"allow_stale_reads"`
	Retry           RetryConfig `mapstructure:"retry"`
}

// RetryConfig enables the optional retry decorator when MaxRetries > 0.
type RetryConfig struct {
	MaxRetries uint64        `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
}

type ConversationConfig struct {
	ContextWindow     int  `mapstructure:"context_window"`
	SerializeSessions bool `mapstructure:"serialize_sessions"`
}

type LLMConfig struct {
	Provider    Provider `mapstructure:"provider"`
	Model       string   `mapstructure:"model"`
	Project     string   `mapstructure:"project"`
	Location    string   `mapstructure:"location"`
	APIKey      string   `mapstructure:"api_key"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	Temperature float32  `mapstructure:"temperature"`
}

type PersonaConfig struct {
	Dir string `mapstructure:"dir"`
}

type HTTPConfig struct {
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", string(BackendFile))
	v.SetDefault("storage.root", "./memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.project", "")
	v.SetDefault("storage.collection", "conversations")
	v.SetDefault("storage.bolt_path", "./memory/conversations.bolt")
	v.SetDefault("storage.allow_stale_reads", false)
	v.SetDefault("storage.retry.max_retries", 0)
	v.SetDefault("storage.retry.base_delay", "100ms")

	v.SetDefault("conversation.context_window", 10)
	v.SetDefault("conversation.serialize_sessions", true)

	v.SetDefault("llm.provider", string(ProviderMock))
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.project", "")
	v.SetDefault("llm.location", "us-central1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("persona.dir", "./data")

	v.SetDefault("http.port", "8000")
	v.SetDefault("http.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads configuration from an optional YAML file and TWIN_* environment
// variables, then validates it. An empty configPath searches ./config.yaml.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// no file, defaults and env only
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected backend and provider have what they need.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.Root == "" {
			return errors.New("storage.root is required for the file backend")
		}
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required for the gcs backend")
		}
	case BackendFirestore:
		if c.Storage.Project == "" {
			return errors.New("storage.project is required for the firestore backend")
		}
		if c.Storage.Collection == "" {
			return errors.New("storage.collection must not be empty")
		}
	case BackendBolt:
		if c.Storage.BoltPath == "" {
			return errors.New("storage.bolt_path is required for the bolt backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	if c.Conversation.ContextWindow <= 0 {
		return fmt.Errorf("conversation.context_window must be positive, got %d", c.Conversation.ContextWindow)
	}

	switch c.LLM.Provider {
	case ProviderMock:
	case ProviderVertex:
		if c.LLM.Project == "" || c.LLM.Location == "" {
			return errors.New("llm.project and llm.location are required for the vertex provider")
		}
	case ProviderGemini, ProviderAnthropic:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for the %s provider", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}

	if c.HTTP.Port == "" {
		return errors.New("http.port must not be empty")
	}
	return nil
}
