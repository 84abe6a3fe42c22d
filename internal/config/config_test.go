package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockSecrets is a test double for the secrets file.
type mockSecrets struct {
	values map[string]string
}

func (m mockSecrets) Get(service, account string) (string, error) {
	if v, ok := m.values[account]; ok {
		return v, nil
	}
	return "", os.ErrNotExist
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv unsets every variable the loader reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	t.Setenv(legacyAPIKeyEnv, "")
}

// TestDefaults verifies all default values are applied when no file exists.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	b := openYAMLBackend(filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := loadWith(b, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Data.Dir != "data" || cfg.Data.GlossaryFile != "glossary.csv" {
		t.Errorf("Data = %+v", cfg.Data)
	}
	if cfg.Storage.Dir != "results" {
		t.Errorf("Storage.Dir = %q, want results", cfg.Storage.Dir)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Errorf("Retrieval.TopK = %d, want 3", cfg.Retrieval.TopK)
	}
	if cfg.Oracle.Provider != "groq" || cfg.Oracle.Model != "llama-3.1-8b-instant" {
		t.Errorf("Oracle = %+v", cfg.Oracle)
	}
	if cfg.Oracle.MaxTokens != 256 || cfg.Oracle.Timeout != 60*time.Second || cfg.Oracle.JSONMode {
		t.Errorf("Oracle = %+v", cfg.Oracle)
	}
	if cfg.Oracle.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.Oracle.APIKey)
	}
	if cfg.Server.Port != 4100 || cfg.Log.Level != "info" {
		t.Errorf("Server/Log = %+v %+v", cfg.Server, cfg.Log)
	}
}

// TestYAMLParsing verifies nested YAML keys map onto dotted config keys.
func TestYAMLParsing(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
data:
  dir: /srv/datasets
  glossary_file: terms.csv
retrieval:
  top_k: 5
oracle:
  provider: ollama
  model: llama3.1
  timeout: 90s
  json_mode: true
server:
  port: 5000
`)

	cfg, err := loadWith(openYAMLBackend(path), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Data.Dir != "/srv/datasets" || cfg.Data.GlossaryFile != "terms.csv" {
		t.Errorf("Data = %+v", cfg.Data)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("TopK = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Oracle.Provider != "ollama" || cfg.Oracle.Model != "llama3.1" {
		t.Errorf("Oracle = %+v", cfg.Oracle)
	}
	if cfg.Oracle.Timeout != 90*time.Second || !cfg.Oracle.JSONMode {
		t.Errorf("Oracle timeout/json = %v/%v", cfg.Oracle.Timeout, cfg.Oracle.JSONMode)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "retrieval:\n  top_k: 5\noracle:\n  model: file-model\n")
	t.Setenv("TERMMAP_RETRIEVAL_TOP_K", "7")
	t.Setenv("TERMMAP_ORACLE_MODEL", "env-model")

	cfg, err := loadWith(openYAMLBackend(path), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("TopK = %d, want 7", cfg.Retrieval.TopK)
	}
	if cfg.Oracle.Model != "env-model" {
		t.Errorf("Model = %q, want env-model", cfg.Oracle.Model)
	}
}

// TestBadEnvKeepsDefault verifies an unparsable env value is ignored.
func TestBadEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("TERMMAP_ORACLE_TIMEOUT", "soon")
	cfg, err := loadWith(openYAMLBackend(filepath.Join(t.TempDir(), "none.yaml")), mockSecrets{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Oracle.Timeout != 60*time.Second {
		t.Errorf("Timeout = %v, want default", cfg.Oracle.Timeout)
	}
}

// TestSecretNotReadFromFile verifies the API key in the config file is ignored.
func TestSecretNotReadFromFile(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "oracle:\n  api_key: file-key\n")

	cfg, err := loadWith(openYAMLBackend(path), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Oracle.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.Oracle.APIKey)
	}
}

// TestAPIKeySources verifies env, then the legacy variable, then the secrets file.
func TestAPIKeySources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.yaml")
	ss := mockSecrets{values: map[string]string{"oracle.api_key": "file-secret"}}

	clearEnv(t)
	cfg, _ := loadWith(openYAMLBackend(path), ss)
	if cfg.Oracle.APIKey != "file-secret" {
		t.Errorf("APIKey = %q, want file-secret", cfg.Oracle.APIKey)
	}

	t.Setenv(legacyAPIKeyEnv, "groq-key")
	cfg, _ = loadWith(openYAMLBackend(path), ss)
	if cfg.Oracle.APIKey != "groq-key" {
		t.Errorf("APIKey = %q, want groq-key", cfg.Oracle.APIKey)
	}

	t.Setenv("TERMMAP_ORACLE_API_KEY", "env-key")
	cfg, _ = loadWith(openYAMLBackend(path), ss)
	if cfg.Oracle.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key", cfg.Oracle.APIKey)
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	b := openYAMLBackend(path)

	if err := setKey(b, "retrieval.top_k", "4"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "oracle.json_mode", "true"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "oracle.timeout", "15s"); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	cfg, err := loadWith(openYAMLBackend(path), mockSecrets{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Retrieval.TopK != 4 || !cfg.Oracle.JSONMode || cfg.Oracle.Timeout != 15*time.Second {
		t.Errorf("cfg after set = %+v", cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "top_k: 4") {
		t.Errorf("file = %s, want nested yaml", data)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	b := openYAMLBackend(filepath.Join(t.TempDir(), "config.yaml"))
	if err := setKey(b, "oracle.api_key", "x"); err == nil || !strings.Contains(err.Error(), "secret") {
		t.Errorf("err = %v, want secret rejection", err)
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKey(b, "retrieval.top_k", "many"); err == nil {
		t.Error("expected error for non-integer value")
	}
}

func TestSetSecret(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	if err := SetSecret("retrieval.top_k", "3"); err == nil {
		t.Error("expected error for non-secret key")
	}
	if err := SetSecret("oracle.api_key", "stored"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}
	v, err := secretsFile{path: secretsFilePath()}.Get(secretsService, "oracle.api_key")
	if err != nil || v != "stored" {
		t.Errorf("Get = %q, %v", v, err)
	}
}

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Oracle.APIKey = "sk-123"
	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "sk-123") {
			t.Errorf("%s leaks secret", ki.Key)
		}
		if ki.Key == "oracle.api_key" && ki.Value != "(set)" {
			t.Errorf("api key shown as %q", ki.Value)
		}
	}
}

func TestConfigFilePath(t *testing.T) {
	t.Setenv("TERMMAP_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := configFilePath(); got != filepath.Join("/xdg", "termmap", "config.yaml") {
		t.Errorf("path = %q", got)
	}
	t.Setenv("TERMMAP_CONFIG", "/etc/termmap.yaml")
	if got := configFilePath(); got != "/etc/termmap.yaml" {
		t.Errorf("path = %q", got)
	}
}
