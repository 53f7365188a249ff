// Package config loads the process-wide settings for mistborn.
//
// A Config is built once per run (file, then .env, then environment) and
// passed by value into every component constructor. Nothing reads the
// environment after Load returns.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration is returned when a required setting is missing or invalid.
var ErrConfiguration = errors.New("configuration error")

// Retrieval backends.
const (
	BackendFlat     = "flat"
	BackendWeaviate = "weaviate"
)

type OpenAI struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type Model struct {
	Chat      string        `yaml:"chat"`
	Embedding string        `yaml:"embedding"`
	Timeout   time.Duration `yaml:"timeout"`
	RPS       float64       `yaml:"rps"`
	Burst     int           `yaml:"burst"`
	// EmbedCache is the number of query embeddings kept in memory.
	EmbedCache int `yaml:"embed_cache"`
}

type Weaviate struct {
	URL   string `yaml:"url"`
	Class string `yaml:"class"`
}

type Retrieval struct {
	Backend       string   `yaml:"backend"`
	IndexPath     string   `yaml:"index_path"`
	TopK          int      `yaml:"top_k"`
	MaxIterations int      `yaml:"max_iterations"`
	SnippetLimit  int      `yaml:"snippet_limit"`
	Weaviate      Weaviate `yaml:"weaviate"`
}

type Patches struct {
	Dir string `yaml:"dir"`
	// Matcher picks how patched code is mapped to files: substring,
	// basename or suffix.
	Matcher string `yaml:"matcher"`
}

// Config is the full set of settings.
type Config struct {
	OpenAI    OpenAI    `yaml:"openai"`
	Model     Model     `yaml:"model"`
	Retrieval Retrieval `yaml:"retrieval"`
	Patches   Patches   `yaml:"patches"`
	Debug     bool      `yaml:"debug"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Model: Model{
			Chat:       "gpt-4o",
			Embedding:  "text-embedding-3-large",
			Timeout:    120 * time.Second,
			EmbedCache: 256,
		},
		Retrieval: Retrieval{
			Backend:       BackendFlat,
			IndexPath:     "data/patch_index.json",
			TopK:          5,
			MaxIterations: 5,
			Weaviate:      Weaviate{Class: "VulnExemplar"},
		},
		Patches: Patches{Dir: "patches", Matcher: "substring"},
	}
}

// Load builds a Config from defaults, the optional YAML file at path, a .env
// file in the working directory if present, and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	// A missing .env is normal.
	_ = godotenv.Load()

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	str("MISTBORN_MODEL", &cfg.Model.Chat)
	str("MISTBORN_EMBEDDING_MODEL", &cfg.Model.Embedding)
	str("MISTBORN_RETRIEVAL_BACKEND", &cfg.Retrieval.Backend)
	str("MISTBORN_INDEX_PATH", &cfg.Retrieval.IndexPath)
	str("WEAVIATE_SERVICE_URL", &cfg.Retrieval.Weaviate.URL)
	str("MISTBORN_PATCH_DIR", &cfg.Patches.Dir)
	str("MISTBORN_MATCHER", &cfg.Patches.Matcher)

	if v, ok := lookup("MISTBORN_MAX_ITERATIONS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MISTBORN_MAX_ITERATIONS=%q", ErrConfiguration, v)
		}
		cfg.Retrieval.MaxIterations = n
	}
	if v, ok := lookup("MISTBORN_MODEL_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: MISTBORN_MODEL_TIMEOUT=%q", ErrConfiguration, v)
		}
		cfg.Model.Timeout = d
	}
	if v, ok := lookup("MISTBORN_DEBUG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: MISTBORN_DEBUG=%q", ErrConfiguration, v)
		}
		cfg.Debug = b
	}
	return nil
}

// Validate checks the settings required before any model call is made.
func (c Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("%w: OpenAI API key not found (set OPENAI_API_KEY or openai.api_key)", ErrConfiguration)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: retrieval.top_k must be positive", ErrConfiguration)
	}
	switch c.Patches.Matcher {
	case "", "substring", "basename", "suffix":
	default:
		return fmt.Errorf("%w: unknown patches.matcher %q", ErrConfiguration, c.Patches.Matcher)
	}
	switch c.Retrieval.Backend {
	case BackendFlat:
		if c.Retrieval.IndexPath == "" {
			return fmt.Errorf("%w: retrieval.index_path is required for the flat backend", ErrConfiguration)
		}
	case BackendWeaviate:
		if c.Retrieval.Weaviate.URL == "" {
			return fmt.Errorf("%w: retrieval.weaviate.url is required for the weaviate backend", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown retrieval backend %q", ErrConfiguration, c.Retrieval.Backend)
	}
	return nil
}
