package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all configuration for the Orakle engine
type Config struct {
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	TTS       TTSConfig       `json:"tts"`
	Orakle    OrakleConfig    `json:"orakle"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Memory    MemoryConfig    `json:"memory"`
	Storage   StorageConfig   `json:"storage"`
	Server    ServerConfig    `json:"server"`
}

// LLMConfig holds LLM API configuration (any OpenAI-compatible backend)
type LLMConfig struct {
	URL         string  `json:"url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	// ContextWindow overrides the window derived from the model name. 0 keeps
	// the derived value.
	ContextWindow int `json:"context_window,omitempty"`
	// ReasoningModels lists model-name prefixes that accept a
	// reasoning-effort parameter.
	ReasoningModels []string `json:"reasoning_models,omitempty"`
}

// EmbeddingConfig holds embedding API configuration
type EmbeddingConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// TTSConfig holds Text-to-Speech configuration
type TTSConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Voice   string `json:"voice"`
	Format  string `json:"format"`
}

// OrakleConfig lists the skill servers, in priority order.
type OrakleConfig struct {
	Servers        []string `json:"servers"`
	InvokeTimeout  int      `json:"invoke_timeout_seconds"`
	RequestTimeout int      `json:"request_timeout_seconds"`
}

// DispatchConfig tunes command detection and skill selection.
type DispatchConfig struct {
	MatchThreshold      float64 `json:"match_threshold"`
	MatchTopK           int     `json:"match_top_k"`
	MaxGuardrailRetries int     `json:"max_guardrail_retries"`
	ChatContextMessages int     `json:"chat_context_messages"`
}

// MemoryConfig tunes the GREEN memory engine. The scoring constants form a
// single immutable configuration handed to the engine at construction.
type MemoryConfig struct {
	ReinforceIncrement     float64 `json:"reinforce_increment"`
	DecayFactor            float64 `json:"decay_factor"`
	DecayIntervalTurns     int     `json:"decay_interval_turns"`
	ExtractionContextTurns int     `json:"extraction_context_turns"`
	KeyMemoryBoost         float64 `json:"key_memory_boost"`
	RelevanceWeight        float64 `json:"relevance_weight"`
	PastMemoryPenalty      float64 `json:"past_memory_penalty"`
	MaxRecencyBoost        float64 `json:"max_recency_boost"`
	RecencyDecayRate       float64 `json:"recency_decay_rate"`
	MaxReasoningLevel      float64 `json:"max_reasoning_level"`
}

// StorageConfig holds the per-context data layout.
type StorageConfig struct {
	// DataDir is the root directory; each context gets one database file and
	// one vector store directory beneath it.
	DataDir string `json:"data_dir"`
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host             string   `json:"host"`
	Port             int      `json:"port"`
	CORSOrigins      []string `json:"cors_origins"`
	TraceSampleRatio float64  `json:"trace_sample_ratio"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".orakle")

	return &Config{
		LLM: LLMConfig{
			URL:             "http://localhost:8000/v1",
			APIKey:          "",
			Model:           "gpt-4o-mini",
			MaxTokens:       4096,
			Temperature:     0.7,
			ReasoningModels: []string{"o1", "o3", "o4", "gpt-5", "deepseek-r1", "qwen3"},
		},
		Embedding: EmbeddingConfig{
			URL:        "http://localhost:8000/v1",
			APIKey:     "",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		TTS: TTSConfig{
			Enabled: false,
			URL:     "http://localhost:8880/v1",
			Model:   "kokoro",
			Voice:   "af_sarah",
			Format:  "mp3",
		},
		Orakle: OrakleConfig{
			Servers:        []string{"http://localhost:8100"},
			InvokeTimeout:  60,
			RequestTimeout: 10,
		},
		Dispatch: DispatchConfig{
			MatchThreshold:      0.30,
			MatchTopK:           5,
			MaxGuardrailRetries: 2,
			ChatContextMessages: 4,
		},
		Memory: MemoryConfig{
			ReinforceIncrement:     1.0,
			DecayFactor:            0.998,
			DecayIntervalTurns:     10,
			ExtractionContextTurns: 3,
			KeyMemoryBoost:         1.5,
			RelevanceWeight:        0.3,
			PastMemoryPenalty:      0.5,
			MaxRecencyBoost:        1.5,
			RecencyDecayRate:       0.01,
			MaxReasoningLevel:      0.6,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8015,
			CORSOrigins:      []string{"*"},
			TraceSampleRatio: 1.0,
		},
	}
}

// ConfigPath returns the path of the config file.
func ConfigPath() string {
	if p := os.Getenv("ORAKLE_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".orakle", "config.json")
}

// Load reads the config file if present and applies environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path := ConfigPath()
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes the config to its file, creating the directory if needed.
func (c *Config) Save() error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORAKLE_LLM_URL"); v != "" {
		cfg.LLM.URL = v
	}
	if v := os.Getenv("ORAKLE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("ORAKLE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ORAKLE_EMBEDDING_URL"); v != "" {
		cfg.Embedding.URL = v
	}
	if v := os.Getenv("ORAKLE_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("ORAKLE_SKILL_SERVERS"); v != "" {
		cfg.Orakle.Servers = splitAndTrim(v)
	}
	if v := os.Getenv("ORAKLE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("ORAKLE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("ORAKLE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ORAKLE_TTS_ENABLED"); v != "" {
		cfg.TTS.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ContextDBPath returns the database file of a context.
func (c *Config) ContextDBPath(contextID string) string {
	return filepath.Join(c.Storage.DataDir, contextID+".db")
}

// ContextVectorDir returns the vector store directory of a context.
func (c *Config) ContextVectorDir(contextID string) string {
	return filepath.Join(c.Storage.DataDir, contextID+".vectors")
}

// EmbeddingCachePath returns the matcher's embedding cache file.
func (c *Config) EmbeddingCachePath() string {
	return filepath.Join(c.Storage.DataDir, "matcher_embeddings.msgpack")
}
