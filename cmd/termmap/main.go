package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/termmap/internal/config"
	"github.com/kalambet/termmap/internal/engine"
	"github.com/kalambet/termmap/internal/pipeline"
	"github.com/kalambet/termmap/internal/reranking"
	"github.com/kalambet/termmap/internal/storage"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "termmap",
	Short:         "Suggest business-glossary terms for dataset columns",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(profileCmd, embedCmd, retrieveCmd, rerankCmd, runCmd)
	rootCmd.AddCommand(matchesCmd, evalCmd, goldCmd, reviewCmd, exportCmd, statusCmd)
	rootCmd.AddCommand(serveCmd, mcpCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// env bundles what most commands need: config and an open store.
type env struct {
	cfg   config.Config
	store *storage.Store
}

func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	store, err := storage.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return &env{cfg: cfg, store: store}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func (e *env) runner() *pipeline.Runner {
	return pipeline.NewRunner(e.store, pipeline.Config{
		DataDir:      e.cfg.Data.Dir,
		GlossaryFile: e.cfg.Data.GlossaryFile,
		TopK:         e.cfg.Retrieval.TopK,
	})
}

// newReranker builds the oracle engine and reranker. It fails before any
// stage runs when the provider is unknown or its credential is missing, and
// checks that a local model is available when the engine supports it.
func newReranker(ctx context.Context, cfg config.Config) (*reranking.LLMReranker, error) {
	eng, err := engine.New(engine.Config{
		Provider: cfg.Oracle.Provider,
		BaseURL:  cfg.Oracle.BaseURL,
		APIKey:   cfg.Oracle.APIKey,
		Timeout:  cfg.Oracle.Timeout,
	})
	if errors.Is(err, engine.ErrMissingCredential) {
		return nil, fmt.Errorf("configuring oracle: %w (set TERMMAP_ORACLE_API_KEY or run `termmap config secret oracle.api_key <key>`)", err)
	}
	if err != nil {
		return nil, fmt.Errorf("configuring oracle: %w", err)
	}
	base := cfg.Oracle.BaseURL
	if base == "" {
		base = engine.DefaultBaseURL(cfg.Oracle.Provider)
	}
	slog.Debug("oracle configured", "provider", cfg.Oracle.Provider, "base_url", base, "model", cfg.Oracle.Model)

	if c, ok := eng.(engine.Checker); ok {
		if err := c.Check(ctx, cfg.Oracle.Model); err != nil {
			return nil, fmt.Errorf("checking oracle: %w", err)
		}
	}
	return reranking.New(eng, reranking.Options{
		Model:     cfg.Oracle.Model,
		MaxTokens: cfg.Oracle.MaxTokens,
		Timeout:   cfg.Oracle.Timeout,
		JSONMode:  cfg.Oracle.JSONMode,
	})
}
