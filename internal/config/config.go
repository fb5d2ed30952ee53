package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all OllamaPy configuration.
type Config struct {
	// Gateway configuration (the LLM backend)
	Gateway GatewayConfig `yaml:"gateway"`

	// Skill registry configuration
	Skills SkillsConfig `yaml:"skills"`

	// Selection/execution engine settings
	Engine EngineConfig `yaml:"engine"`

	// Execution sandbox settings
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Vibe test harness settings
	Vibe VibeConfig `yaml:"vibe"`

	// Skill editor API server
	Editor EditorConfig `yaml:"editor"`

	// Ollama-compatible proxy server
	Proxy ProxyConfig `yaml:"proxy"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig configures the language model backend.
type GatewayConfig struct {
	Provider      string `yaml:"provider"` // ollama, gemini
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	AnalysisModel string `yaml:"analysis_model"` // smaller model for activation votes
	APIKey        string `yaml:"api_key"`
	Timeout       string `yaml:"timeout"`
	MaxRetries    int    `yaml:"max_retries"`
}

// SkillsConfig configures the skill registry and its backing store.
type SkillsConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// EngineConfig configures the selection/execution engine.
type EngineConfig struct {
	Workers     int    `yaml:"workers"`
	CallTimeout string `yaml:"call_timeout"`
}

// SandboxConfig configures skill execution.
type SandboxConfig struct {
	ExecTimeout string `yaml:"exec_timeout"`
}

// VibeConfig configures the consistency/timing harness.
type VibeConfig struct {
	Iterations    int     `yaml:"iterations"`
	PassThreshold float64 `yaml:"pass_threshold"`
	HistoryPath   string  `yaml:"history_path"`
}

// EditorConfig configures the skill editor API server.
type EditorConfig struct {
	Port int `yaml:"port"`
}

// ProxyConfig configures the Ollama-compatible proxy.
type ProxyConfig struct {
	Port     int    `yaml:"port"`
	Upstream string `yaml:"upstream"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
}

// ValidProviders lists all supported gateway providers.
var ValidProviders = []string{"ollama", "gemini"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Provider:      "ollama",
			BaseURL:       "http://localhost:11434",
			Model:         "gemma3:4b",
			AnalysisModel: "gemma3:4b",
			Timeout:       "60s",
			MaxRetries:    3,
		},
		Skills: SkillsConfig{
			Dir:   ".ollamapy/skills",
			Watch: true,
		},
		Engine: EngineConfig{
			Workers:     4,
			CallTimeout: "60s",
		},
		Sandbox: SandboxConfig{
			ExecTimeout: "10s",
		},
		Vibe: VibeConfig{
			Iterations:    5,
			PassThreshold: 0.60,
			HistoryPath:   ".ollamapy/vibe_history.db",
		},
		Editor: EditorConfig{
			Port: 5000,
		},
		Proxy: ProxyConfig{
			Port:     11435,
			Upstream: "http://localhost:11434",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Gateway.BaseURL = normalizeHost(host)
	}
	if model := os.Getenv("OLLAMAPY_MODEL"); model != "" {
		c.Gateway.Model = model
	}
	if model := os.Getenv("OLLAMAPY_ANALYSIS_MODEL"); model != "" {
		c.Gateway.AnalysisModel = model
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}
	if dir := os.Getenv("OLLAMAPY_SKILLS_DIR"); dir != "" {
		c.Skills.Dir = dir
	}
}

// normalizeHost accepts "host:port" or a full URL and returns a base URL.
func normalizeHost(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/")
	}
	return "http://" + strings.TrimRight(host, "/")
}

// GetGatewayTimeout returns the gateway call timeout as a duration.
func (c *Config) GetGatewayTimeout() time.Duration {
	d, err := time.ParseDuration(c.Gateway.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetCallTimeout returns the engine per-call timeout as a duration.
func (c *Config) GetCallTimeout() time.Duration {
	d, err := time.ParseDuration(c.Engine.CallTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetExecTimeout returns the sandbox execution timeout as a duration.
func (c *Config) GetExecTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.ExecTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validProvider := false
	for _, p := range ValidProviders {
		if c.Gateway.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid gateway provider: %s (valid: %v)", c.Gateway.Provider, ValidProviders)
	}

	if c.Gateway.Provider == "gemini" && c.Gateway.APIKey == "" {
		return fmt.Errorf("gemini provider requires an API key (set GEMINI_API_KEY)")
	}

	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine workers must be at least 1, got %d", c.Engine.Workers)
	}

	if c.Vibe.PassThreshold < 0 || c.Vibe.PassThreshold > 1 {
		return fmt.Errorf("vibe pass threshold must be in [0,1], got %v", c.Vibe.PassThreshold)
	}

	return nil
}

// DefaultConfigPath returns the default path to ollamapy.yaml.
func DefaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "ollamapy.yaml"
	}
	return filepath.Join(cwd, "ollamapy.yaml")
}
