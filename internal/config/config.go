// Package config loads service configuration from a JSON config file,
// with NOTEBOOKD_* environment variables overriding file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Server     ServerConfig
	Provider   ProviderConfig
	Storage    StorageConfig
	Transcribe TranscribeConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port    int `validate:"gt=0,lte=65535"`
	MCPPort int `validate:"gt=0,lte=65535"`
}

// ProviderConfig selects which backend answers chat and embedding calls.
// Chat and embeddings can use different providers; a notebook indexed
// with one embedding model is only searched with that same model.
type ProviderConfig struct {
	Chat       string `validate:"oneof=ollama openai"`
	Embed      string `validate:"oneof=ollama openai"`
	ChatModel  string `validate:"required"`
	EmbedModel string `validate:"required"`

	OllamaBaseURL string `validate:"omitempty,url"`
	OpenAIAPIKey  string
	OpenAIBaseURL string `validate:"omitempty,url"`
}

type StorageConfig struct {
	DataDir string `validate:"required"`
}

type TranscribeConfig struct {
	ServerURL string `validate:"omitempty,url"`
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		Provider: ProviderConfig{
			Chat:          "ollama",
			Embed:         "ollama",
			ChatModel:     "llama3.2",
			EmbedModel:    "nomic-embed-text",
			OllamaBaseURL: "http://localhost:11434",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Transcribe: TranscribeConfig{
			ServerURL: "http://localhost:8080",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "notebookd-data"
		}
	}
	return filepath.Join(dir, "notebookd")
}

// DefaultPath returns the config file location:
// $XDG_CONFIG_HOME/notebookd/config.json.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "notebookd", "config.json")
}

// Load reads the config file at the default path, applies environment
// overrides, and validates the result.
func Load() (Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom is Load with an explicit file path; a missing file is fine,
// defaults plus environment carry the configuration.
func LoadFrom(path string) (Config, error) {
	cfg := defaults()

	b, err := openFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	// Conventional fallback when the override variable is not set.
	if cfg.Provider.OpenAIAPIKey == "" {
		cfg.Provider.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if (c.Provider.Chat == "openai" || c.Provider.Embed == "openai") && c.Provider.OpenAIAPIKey == "" {
		return errors.New("missing required config: OpenAI API key. Set NOTEBOOKD_OPENAI_API_KEY or OPENAI_API_KEY")
	}

	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		return fmt.Errorf("invalid config: %s fails %q (value %v)", f.Namespace(), f.Tag(), f.Value())
	}
	return fmt.Errorf("invalid config: %w", err)
}
