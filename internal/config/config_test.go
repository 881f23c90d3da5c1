package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	t.Setenv("OPENAI_API_KEY", "")
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Server.MCPPort != 4001 {
		t.Errorf("Server.MCPPort = %d, want 4001", cfg.Server.MCPPort)
	}
	if cfg.Provider.Chat != "ollama" || cfg.Provider.Embed != "ollama" {
		t.Errorf("providers = %q/%q, want ollama", cfg.Provider.Chat, cfg.Provider.Embed)
	}
	if cfg.Provider.OllamaBaseURL != "http://localhost:11434" {
		t.Errorf("OllamaBaseURL = %q", cfg.Provider.OllamaBaseURL)
	}
	if cfg.Provider.EmbedModel != "nomic-embed-text" {
		t.Errorf("EmbedModel = %q", cfg.Provider.EmbedModel)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestFileParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{
		"server.port": 5000,
		"provider.chat_model": "qwen2.5",
		"storage.data_dir": "/tmp/notebookd-test",
		"transcribe.server_url": "http://localhost:9090"
	}`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Provider.ChatModel != "qwen2.5" {
		t.Errorf("ChatModel = %q", cfg.Provider.ChatModel)
	}
	if cfg.Storage.DataDir != "/tmp/notebookd-test" {
		t.Errorf("DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Transcribe.ServerURL != "http://localhost:9090" {
		t.Errorf("Transcribe.ServerURL = %q", cfg.Transcribe.ServerURL)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"provider.chat_model": "file-model"}`)

	t.Setenv("NOTEBOOKD_CHAT_MODEL", "env-model")
	t.Setenv("NOTEBOOKD_SERVER_PORT", "6000")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Provider.ChatModel != "env-model" {
		t.Errorf("ChatModel = %q, want env override", cfg.Provider.ChatModel)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
}

func TestOpenAIRequiresKey(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{"provider.chat": "openai"}`)

	_, err := LoadFrom(path)
	if err == nil {
		t.Fatal("expected error for missing OpenAI key")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q", err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error with key set: %v", err)
	}
	if cfg.Provider.OpenAIAPIKey != "sk-test" {
		t.Errorf("OpenAIAPIKey = %q", cfg.Provider.OpenAIAPIKey)
	}
}

func TestValidation(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"bad port":     `{"server.port": -1}`,
		"bad provider": `{"provider.chat": "gemini"}`,
		"bad level":    `{"log.level": "loud"}`,
	}
	for name, content := range cases {
		path := writeTempConfig(t, content)
		if _, err := LoadFrom(path); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestMalformedFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `{not json`)
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestSetAndUnset(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")

	if err := Set(path, "provider.chat_model", "mistral"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := Set(path, "server.port", "7000"); err != nil {
		t.Fatalf("Set int: %v", err)
	}
	if err := Set(path, "server.port", "seven"); err == nil {
		t.Error("expected error for non-integer port value")
	}
	if err := Set(path, "nope.nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Provider.ChatModel != "mistral" || cfg.Server.Port != 7000 {
		t.Errorf("cfg = %+v", cfg)
	}

	if err := Unset(path, "server.port"); err != nil {
		t.Fatalf("Unset: %v", err)
	}
	cfg, _ = LoadFrom(path)
	if cfg.Server.Port != 4000 {
		t.Errorf("port after unset = %d, want default", cfg.Server.Port)
	}
}

func TestList_RedactsSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Provider.OpenAIAPIKey = "sk-secret"

	var found bool
	for _, kv := range List(cfg) {
		if kv.Key == "provider.openai_api_key" {
			found = true
			if kv.Value != "(redacted)" {
				t.Errorf("secret listed as %q", kv.Value)
			}
		}
	}
	if !found {
		t.Fatal("api key not listed")
	}
}
