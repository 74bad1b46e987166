package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const DefaultConfigFile = "config/config.yaml"

type Config struct {
	LLMProvider    string `koanf:"llm_provider"`
	OpenAIAPIKey   string `koanf:"openai_api_key"`
	OpenAIBaseURL  string `koanf:"openai_base_url"`
	GeminiAPIKey   string `koanf:"gemini_api_key"`
	ChatModel      string `koanf:"chat_model"`
	EmbeddingModel string `koanf:"embedding_model"`

	EmbeddingDimension int    `koanf:"embedding_dimension"`
	IndexFile          string `koanf:"index_file"`
	MetadataFile       string `koanf:"metadata_file"`
	RepoDir            string `koanf:"repo_dir"`

	AllowedExtensions []string `koanf:"allowed_extensions"`
	AnalyzeExtensions []string `koanf:"analyze_extensions"`
	KeyFiles          []string `koanf:"key_files"`

	ChunkSize           int     `koanf:"chunk_size"`
	TopK                int     `koanf:"top_k"`
	SimilarityThreshold float32 `koanf:"similarity_threshold"`
	KeepNearest         bool    `koanf:"keep_nearest"`
	SummarizeWordLimit  int     `koanf:"summarize_word_limit"`
	Temperature         float32 `koanf:"temperature"`
	MaxTokens           int     `koanf:"max_tokens"`

	CompletionRate     int           `koanf:"completion_rate"`
	CompletionPeriod   time.Duration `koanf:"completion_period"`
	EmbeddingRate      int           `koanf:"embedding_rate"`
	EmbeddingPeriod    time.Duration `koanf:"embedding_period"`
	EmbedConcurrency   int           `koanf:"embed_concurrency"`
	AnalyzeConcurrency int           `koanf:"analyze_concurrency"`

	CloneBackend        string `koanf:"clone_backend"`
	ConversationBackend string `koanf:"conversation_backend"`
	DatabaseURL         string `koanf:"database_url"`

	HTTPPort  string `koanf:"http_port"`
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// Default returns the configuration used when neither the YAML file nor the
// environment set a key.
func Default() Config {
	return Config{
		LLMProvider:         "openai",
		ChatModel:           "",
		EmbeddingModel:      "",
		EmbeddingDimension:  1536,
		IndexFile:           "vector_index.bin",
		MetadataFile:        "vector_metadata.json",
		RepoDir:             "cloned_repo",
		AllowedExtensions:   []string{".py", ".txt", ".md"},
		AnalyzeExtensions:   []string{".py", ".js", ".ts", ".java", ".c", ".cpp", ".h", ".html", ".css", ".md", ".txt"},
		KeyFiles:            []string{"README.md", "setup.py", "requirements.txt"},
		ChunkSize:           2000,
		TopK:                20,
		SimilarityThreshold: 0.5,
		SummarizeWordLimit:  1000,
		Temperature:         0.2,
		MaxTokens:           600,
		CompletionRate:      10,
		CompletionPeriod:    time.Second,
		EmbeddingRate:       25, // ~1500/min
		EmbeddingPeriod:     time.Second,
		EmbedConcurrency:    1,
		AnalyzeConcurrency:  4,
		CloneBackend:        "git",
		ConversationBackend: "memory",
		DatabaseURL:         "conversations.db",
		HTTPPort:            "8080",
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. A .env file in the working
// directory is loaded into the environment first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	if path == "" {
		path = getEnv("CONFIG_FILE", DefaultConfigFile)
	}

	k := koanf.New(".")

	if content, err := os.ReadFile(path); err == nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.CloneBackend = strings.ToLower(strings.TrimSpace(c.CloneBackend))
	c.ConversationBackend = strings.ToLower(strings.TrimSpace(c.ConversationBackend))
	c.AllowedExtensions = normalizeExtensions(c.AllowedExtensions)
	c.AnalyzeExtensions = normalizeExtensions(c.AnalyzeExtensions)
	c.KeyFiles = trimAll(c.KeyFiles)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable is required for provider %q", c.LLMProvider)
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY environment variable is required for provider %q", c.LLMProvider)
		}
	default:
		return fmt.Errorf("unknown llm_provider %q (want openai or gemini)", c.LLMProvider)
	}

	switch c.CloneBackend {
	case "git", "go-git":
	default:
		return fmt.Errorf("unknown clone_backend %q (want git or go-git)", c.CloneBackend)
	}

	switch c.ConversationBackend {
	case "memory", "sqlite", "bolt":
	default:
		return fmt.Errorf("unknown conversation_backend %q (want memory, sqlite or bolt)", c.ConversationBackend)
	}

	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding_dimension must be positive, got %d", c.EmbeddingDimension)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	if c.CompletionRate <= 0 || c.CompletionPeriod <= 0 {
		return fmt.Errorf("completion_rate and completion_period must be positive")
	}
	if c.EmbeddingRate <= 0 || c.EmbeddingPeriod <= 0 {
		return fmt.Errorf("embedding_rate and embedding_period must be positive")
	}
	if c.IndexFile == "" || c.MetadataFile == "" {
		return fmt.Errorf("index_file and metadata_file are required")
	}
	if len(c.AllowedExtensions) == 0 {
		return fmt.Errorf("allowed_extensions cannot be empty")
	}
	return nil
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range trimAll(exts) {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}

// trimAll also splits comma separated entries, which is how list values
// arrive from the environment.
func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
