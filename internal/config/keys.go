package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "NOTEBOOKD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "NOTEBOOKD_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "provider.chat", typ: kString, env: "NOTEBOOKD_PROVIDER_CHAT",
		apply:   func(cfg *Config, v any) { cfg.Provider.Chat = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Chat },
	},
	{
		key: "provider.embed", typ: kString, env: "NOTEBOOKD_PROVIDER_EMBED",
		apply:   func(cfg *Config, v any) { cfg.Provider.Embed = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.Embed },
	},
	{
		key: "provider.chat_model", typ: kString, env: "NOTEBOOKD_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.ChatModel },
	},
	{
		key: "provider.embed_model", typ: kString, env: "NOTEBOOKD_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Provider.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.EmbedModel },
	},
	{
		key: "provider.ollama_base_url", typ: kString, env: "NOTEBOOKD_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.OllamaBaseURL },
	},
	{
		key: "provider.openai_api_key", typ: kString, env: "NOTEBOOKD_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Provider.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.OpenAIAPIKey },
	},
	{
		key: "provider.openai_base_url", typ: kString, env: "NOTEBOOKD_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Provider.OpenAIBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Provider.OpenAIBaseURL },
	},
	{
		key: "storage.data_dir", typ: kString, env: "NOTEBOOKD_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "transcribe.server_url", typ: kString, env: "NOTEBOOKD_TRANSCRIBE_URL",
		apply:   func(cfg *Config, v any) { cfg.Transcribe.ServerURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Transcribe.ServerURL },
	},
	{
		key: "log.level", typ: kString, env: "NOTEBOOKD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b *fileBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
