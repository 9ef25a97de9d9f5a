// Package config loads the service configuration from YAML files in the
// user's home directory and the current workspace.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/components"
)

const (
	configDirName  = ".ryze"
	configFileName = "config.yaml"

	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type PipelineConfig struct {
	MaxRetries            int           `yaml:"max_retries"`
	TopK                  int           `yaml:"top_k"`
	StageTimeout          time.Duration `yaml:"stage_timeout"`
	InfraRetries          int           `yaml:"infra_retries"`
	InfraBaseDelay        time.Duration `yaml:"infra_base_delay"`
	InfraMaxDelay         time.Duration `yaml:"infra_max_delay"`
	PlanFileName          string        `yaml:"plan_file_name"`
	AllowedComponentTypes []string      `yaml:"allowed_component_types"`
	AllowedFilePatterns   []string      `yaml:"allowed_file_patterns"`
}

type ProviderConfig struct {
	Name           string  `yaml:"name"` // ollama or gemini
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	OllamaHost     string  `yaml:"ollama_host"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Temperature    float64 `yaml:"temperature"`
	RequestDumpDir string  `yaml:"request_dump_dir"`
}

type RetrievalConfig struct {
	CorpusDir  string        `yaml:"corpus_dir"`
	Include    []string      `yaml:"include"`
	IgnoreFile string        `yaml:"ignore_file"`
	ChunkSize  int           `yaml:"chunk_size"`
	Watch      bool          `yaml:"watch"`
	Debounce   time.Duration `yaml:"debounce"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type MonitorConfig struct {
	CircuitBreakerThreshold int  `yaml:"circuit_breaker_threshold"`
	AutoRepair              bool `yaml:"auto_repair"`
}

type NATSConfig struct {
	URL           string `yaml:"url"` // empty disables the bridge
	SubjectPrefix string `yaml:"subject_prefix"`
}

type LoggingConfig struct {
	File    string `yaml:"file"`
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

type EventsConfig struct {
	BufferSize int `yaml:"buffer_size"`
	MaxLog     int `yaml:"max_log"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Provider  ProviderConfig  `yaml:"provider"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Store     StoreConfig     `yaml:"store"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	NATS      NATSConfig      `yaml:"nats"`
	Logging   LoggingConfig   `yaml:"logging"`
	Events    EventsConfig    `yaml:"events"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaultValues()
	return cfg
}

func (cfg *Config) setDefaultValues() {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}

	if cfg.Pipeline.MaxRetries == 0 {
		cfg.Pipeline.MaxRetries = 3
	}
	if cfg.Pipeline.TopK == 0 {
		cfg.Pipeline.TopK = 3
	}
	if cfg.Pipeline.StageTimeout == 0 {
		cfg.Pipeline.StageTimeout = 2 * time.Minute
	}
	if cfg.Pipeline.InfraRetries == 0 {
		cfg.Pipeline.InfraRetries = 3
	}
	if cfg.Pipeline.InfraBaseDelay == 0 {
		cfg.Pipeline.InfraBaseDelay = 2 * time.Second
	}
	if cfg.Pipeline.InfraMaxDelay == 0 {
		cfg.Pipeline.InfraMaxDelay = 60 * time.Second
	}
	if cfg.Pipeline.PlanFileName == "" {
		cfg.Pipeline.PlanFileName = "ui-plan.json"
	}
	if len(cfg.Pipeline.AllowedComponentTypes) == 0 {
		cfg.Pipeline.AllowedComponentTypes = components.DefaultNames()
	}
	if len(cfg.Pipeline.AllowedFilePatterns) == 0 {
		cfg.Pipeline.AllowedFilePatterns = []string{
			"src/**/*.{ts,tsx,js,jsx,css}",
			"components/**/*.{ts,tsx,js,jsx}",
			"app/**/*.{ts,tsx,js,jsx,css}",
			"*.{ts,tsx,js,jsx,css,json,html}",
		}
	}

	if cfg.Provider.Name == "" {
		cfg.Provider.Name = ProviderOllama
	}
	if cfg.Provider.Model == "" {
		switch cfg.Provider.Name {
		case ProviderGemini:
			cfg.Provider.Model = "gemini-2.5-flash"
		default:
			cfg.Provider.Model = "qwen2.5-coder:7b"
		}
	}
	if cfg.Provider.EmbeddingModel == "" {
		switch cfg.Provider.Name {
		case ProviderGemini:
			cfg.Provider.EmbeddingModel = "gemini-embedding-001"
		default:
			cfg.Provider.EmbeddingModel = "nomic-embed-text"
		}
	}
	if cfg.Provider.OllamaHost == "" {
		cfg.Provider.OllamaHost = "http://localhost:11434"
	}
	if cfg.Provider.APIKeyEnv == "" {
		cfg.Provider.APIKeyEnv = "GEMINI_API_KEY"
	}
	if cfg.Provider.Temperature == 0 {
		cfg.Provider.Temperature = 0.1
	}

	if cfg.Retrieval.CorpusDir == "" {
		cfg.Retrieval.CorpusDir = "corpus"
	}
	if len(cfg.Retrieval.Include) == 0 {
		cfg.Retrieval.Include = []string{"**/*.md", "**/*.txt", "**/*.html", "**/*.json", "**/*.tsx"}
	}
	if cfg.Retrieval.IgnoreFile == "" {
		cfg.Retrieval.IgnoreFile = ".ryzeignore"
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = 1500
	}
	if cfg.Retrieval.Debounce == 0 {
		cfg.Retrieval.Debounce = 500 * time.Millisecond
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDirName, "ryze.db")
	}

	if cfg.Monitor.CircuitBreakerThreshold == 0 {
		cfg.Monitor.CircuitBreakerThreshold = 3
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "ryze.events"
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(configDirName, "ryze.log")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 256
	}
	if cfg.Events.MaxLog == 0 {
		cfg.Events.MaxLog = 4096
	}
}

// APIKey resolves the provider credential from the configured environment variable.
func (cfg *Config) APIKey() string {
	return os.Getenv(cfg.Provider.APIKeyEnv)
}

func getHomeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDirName, configFileName)
}

func getCurrentConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, configDirName, configFileName)
}

// overlay decodes the file at path onto cfg. A missing file is not an error.
func overlay(cfg *Config, path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

// Load reads the home config, overlays the workspace config on top, applies
// defaults and validates the result. explicitPath, when set, replaces both.
func Load(explicitPath string) (*Config, error) {
	cfg := &Config{}

	if explicitPath != "" {
		found, err := overlay(cfg, explicitPath)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("config file %s not found", explicitPath)
		}
	} else {
		for _, p := range []string{getHomeConfigPath(), getCurrentConfigPath()} {
			if _, err := overlay(cfg, p); err != nil {
				return nil, err
			}
		}
	}

	cfg.setDefaultValues()
	if res := cfg.Validate(); !res.IsValid() {
		return nil, res.CombinedError()
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
