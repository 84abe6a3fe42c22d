package config

import (
	"os"
	"time"
)

type Config struct {
	Data      DataConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Oracle    OracleConfig
	Server    ServerConfig
	Log       LogConfig
}

type DataConfig struct {
	Dir          string
	GlossaryFile string
}

type StorageConfig struct {
	Dir string
}

type RetrievalConfig struct {
	TopK int
}

type OracleConfig struct {
	Provider  string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	JSONMode  bool
	APIKey    string
}

type ServerConfig struct {
	Port  int
	Token string
}

type LogConfig struct {
	Level string
}

// legacyAPIKeyEnv is read when TERMMAP_ORACLE_API_KEY is unset.
const legacyAPIKeyEnv = "GROQ_API_KEY"

func defaults() Config {
	return Config{
		Data: DataConfig{
			Dir:          "data",
			GlossaryFile: "glossary.csv",
		},
		Storage: StorageConfig{
			Dir: "results",
		},
		Retrieval: RetrievalConfig{
			TopK: 3,
		},
		Oracle: OracleConfig{
			Provider:  "groq",
			Model:     "llama-3.1-8b-instant",
			MaxTokens: 256,
			Timeout:   60 * time.Second,
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML config file, environment variables
// and the secrets file.
//
// The file is $TERMMAP_CONFIG or $XDG_CONFIG_HOME/termmap/config.yaml.
// Environment variables (TERMMAP_*) override file values. Secrets are never
// read from the config file: they come from the environment or from
// $XDG_DATA_HOME/termmap/secrets.json.
//
// A missing API key is not an error here; the oracle engine reports it when
// it is constructed.
func Load() (Config, error) {
	return loadWith(newFileBackend(), secretsFile{path: secretsFilePath()})
}

func loadWith(b ConfigBackend, ss secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = os.Getenv(legacyAPIKeyEnv)
	}
	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := ss.Get(secretsService, s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}
