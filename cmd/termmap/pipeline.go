package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/termmap/internal/pipeline"
)

// stageCmd builds a command that runs one pipeline stage.
func stageCmd(use, short string, stage func(ctx context.Context, e *env, r *pipeline.Runner) (pipeline.Summary, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			printStep("Running %s", use)
			sum, err := stage(ctx, e, e.runner())
			if err != nil {
				return err
			}
			printSummary(sum)
			return nil
		},
	}
}

func printSummary(s pipeline.Summary) {
	printSuccess("%s: %d rows (%s)", s.Stage, s.Rows, s.Detail)
}

var profileCmd = stageCmd("profile", "Profile every dataset column and store its card",
	func(ctx context.Context, _ *env, r *pipeline.Runner) (pipeline.Summary, error) {
		return r.Profile(ctx)
	})

var embedCmd = stageCmd("embed", "Fit the n-gram feature space over cards and glossary terms",
	func(ctx context.Context, _ *env, r *pipeline.Runner) (pipeline.Summary, error) {
		return r.Embed(ctx)
	})

var retrieveCmd = stageCmd("retrieve", "Store the top-k glossary terms for every column",
	func(ctx context.Context, _ *env, r *pipeline.Runner) (pipeline.Summary, error) {
		return r.Retrieve(ctx)
	})

var rerankCmd = stageCmd("rerank", "Ask the language model to pick one candidate per column",
	func(ctx context.Context, e *env, r *pipeline.Runner) (pipeline.Summary, error) {
		rr, err := newReranker(ctx, e.cfg)
		if err != nil {
			return pipeline.Summary{}, err
		}
		return r.Rerank(ctx, rr)
	})

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run profile, embed, retrieve and rerank in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		// The oracle is configured before any stage runs so a missing
		// credential fails fast.
		rr, err := newReranker(ctx, e.cfg)
		if err != nil {
			return err
		}

		start := time.Now()
		sums, err := e.runner().Run(ctx, rr)
		for _, s := range sums {
			printSummary(s)
		}
		if err != nil {
			if len(sums) < len(pipeline.Stages) {
				printError("%s failed; later stages were not run", pipeline.Stages[len(sums)])
			}
			return err
		}
		printStatus("Elapsed", "%s", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		runs, err := e.store.RecentRuns(limit)
		if err != nil {
			return err
		}
		rows := make([][]any, len(runs))
		for i, r := range runs {
			finished := ""
			if !r.FinishedAt.IsZero() {
				finished = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
			}
			rows[i] = []any{r.StartedAt.Local().Format(time.DateTime), r.Stage, statusLabel(r.Status), r.Rows, finished, r.Detail}
		}
		renderTable(os.Stdout, []string{"started", "stage", "status", "rows", "took", "detail"}, rows)
		printStatus("Data dir", "%s", e.cfg.Data.Dir)
		printStatus("Storage", "%s", e.cfg.Storage.Dir)
		if v, err := e.store.SchemaVersion(); err == nil {
			printStatus("Schema", "v%d", v)
		}
		return nil
	},
}

func statusLabel(s string) string {
	switch s {
	case "completed":
		return colorize(colorGreen, s)
	case "failed":
		return colorize(colorRed, s)
	default:
		return colorize(colorYellow, s)
	}
}

func init() {
	statusCmd.Flags().Int("limit", 10, "number of runs to show")
}
