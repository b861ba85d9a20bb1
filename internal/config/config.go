package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Host        HostConfig                `json:"host"`
	Engine      EngineConfig              `json:"engine"`
	Renderer    RendererConfig            `json:"renderer"`
	VLM         VLMConfig                 `json:"vlm"`
	Redis       RedisConfig               `json:"redis"`
	Databases   map[string]DatabaseConfig `json:"databases"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	Environment   string `json:"environment"`
	// APIKey guards the HTTP surface when set; empty disables the check.
	APIKey string `json:"api_key"`
	// SessionIdleMinutes enables the memory store janitor when > 0.
	SessionIdleMinutes int `json:"session_idle_minutes"`
	// JournalRetentionDays bounds how long extraction records are kept.
	JournalRetentionDays int `json:"journal_retention_days"`
	// SessionBackend selects "memory" (default) or "redis".
	SessionBackend string `json:"session_backend"`
}

// HostConfig points at the chat host that serves raw file content.
type HostConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// EngineConfig configures the primary OCR extraction engine. An empty
// BaseURL means no engine is configured and every batch goes straight to
// the renderer.
type EngineConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RendererConfig configures the page-image rasterizer fallback.
type RendererConfig struct {
	BaseURL        string `json:"base_url"`
	DPI            int    `json:"dpi"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type VLMConfig struct {
	Provider     string `json:"provider"`
	BaseURL      string `json:"base_url"`
	Model        string `json:"model"`
	APIKey       string `json:"api_key"`
	SystemPrompt string `json:"system_prompt"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// SessionTTLMinutes bounds session keys in the redis store.
	SessionTTLMinutes int `json:"session_ttl_minutes"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

// envOverrides mirrors the valve-style environment variables that take
// precedence over the config file.
type envOverrides struct {
	HostBaseURL   string `envconfig:"DOCPIPE_HOST_BASE_URL"`
	HostAPIKey    string `envconfig:"DOCPIPE_HOST_API_KEY"`
	EngineBaseURL string `envconfig:"DOCPIPE_ENGINE_BASE_URL"`
	EngineAPIKey  string `envconfig:"DOCPIPE_ENGINE_API_KEY"`
	VLMBaseURL    string `envconfig:"DOCPIPE_VLM_BASE_URL"`
	VLMAPIKey     string `envconfig:"DOCPIPE_VLM_API_KEY"`
	VLMModel      string `envconfig:"DOCPIPE_VLM_MODEL"`
	APIKey        string `envconfig:"DOCPIPE_API_KEY"`
	DPI           int    `envconfig:"DOCPIPE_DPI"`
	Environment   string `envconfig:"DOCPIPE_ENV"`
}

// Load reads configuration from the provided path (defaults to config.json)
// and applies environment overrides on top.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("process env overrides: %w", err)
	}
	cfg.apply(env)

	if cfg.Host.BaseURL == "" {
		return nil, fmt.Errorf("host base_url must be configured")
	}
	if cfg.Renderer.BaseURL == "" {
		return nil, fmt.Errorf("renderer base_url must be configured")
	}
	if cfg.Renderer.DPI <= 0 {
		cfg.Renderer.DPI = 150
	}
	if cfg.BasicConfig.ServerAddress == "" {
		cfg.BasicConfig.ServerAddress = ":9099"
	}
	return &cfg, nil
}

func (c *Config) apply(env envOverrides) {
	if env.HostBaseURL != "" {
		c.Host.BaseURL = env.HostBaseURL
	}
	if env.HostAPIKey != "" {
		c.Host.APIKey = env.HostAPIKey
	}
	if env.EngineBaseURL != "" {
		c.Engine.BaseURL = env.EngineBaseURL
	}
	if env.EngineAPIKey != "" {
		c.Engine.APIKey = env.EngineAPIKey
	}
	if env.VLMBaseURL != "" {
		c.VLM.BaseURL = env.VLMBaseURL
	}
	if env.VLMAPIKey != "" {
		c.VLM.APIKey = env.VLMAPIKey
	}
	if env.VLMModel != "" {
		c.VLM.Model = env.VLMModel
	}
	if env.APIKey != "" {
		c.BasicConfig.APIKey = env.APIKey
	}
	if env.DPI > 0 {
		c.Renderer.DPI = env.DPI
	}
	if env.Environment != "" {
		c.BasicConfig.Environment = env.Environment
	}
}
