package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/termmap/internal/config"
	"github.com/kalambet/termmap/internal/evaluate"
	"github.com/kalambet/termmap/internal/retrieval"
	"github.com/kalambet/termmap/internal/review"
	"github.com/kalambet/termmap/internal/storage"
)

// --- matches ---

var matchesCmd = &cobra.Command{
	Use:   "matches [table]",
	Short: "Show retrieved candidates and the LLM choice per column",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		var matches []retrieval.Match
		if len(args) == 1 {
			matches, err = e.store.TableMatches(args[0])
		} else {
			matches, err = e.store.ListMatches()
		}
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(os.Stdout, matches)
		}

		preds, err := e.store.ListPredictions()
		if err != nil {
			return err
		}
		llm := make(map[string]string, len(preds))
		for _, p := range preds {
			llm[p.Table+"."+p.Column] = fmt.Sprintf("%s (%.2f)", p.Term, p.Confidence)
		}

		rows := make([][]any, 0, len(matches))
		for _, m := range matches {
			choice := ""
			if m.Rank == 1 {
				choice = llm[m.Table+"."+m.Column]
			}
			rows = append(rows, []any{m.Table, m.Column, m.Rank, m.Term, fmt.Sprintf("%.4f", m.Score), choice})
		}
		renderTable(os.Stdout, []string{"table", "column", "rank", "term", "score", "llm"}, rows)
		return nil
	},
}

func init() {
	matchesCmd.Flags().Bool("json", false, "print matches as JSON")
}

// --- eval ---

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Score retrieval and LLM suggestions against gold labels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		detail, _ := cmd.Flags().GetBool("detail")

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		gold, err := e.store.ListGoldLabels()
		if err != nil {
			return err
		}
		if len(gold) == 0 {
			printWarning("No gold labels stored. Import them with `termmap gold import <csv>`.")
			return nil
		}
		matches, err := e.store.ListMatches()
		if err != nil {
			return err
		}
		preds, err := e.store.ListPredictions()
		if err != nil {
			return err
		}

		reports := []evaluate.Report{evaluate.Retrieval(gold, matches), evaluate.LLM(gold, preds)}
		rows := make([][]any, len(reports))
		for i, r := range reports {
			rows[i] = []any{r.Name, r.Total, r.Correct, fmt.Sprintf("%.3f", r.Accuracy)}
		}
		renderTable(os.Stdout, []string{"stage", "total", "correct", "accuracy"}, rows)

		if detail {
			for _, r := range reports {
				fmt.Fprintln(os.Stdout, colorize(colorBold, r.Name))
				renderTable(os.Stdout, []string{"table", "column", "correct_term", "predicted", "ok"}, reportRows(r))
			}
		}
		return nil
	},
}

func reportRows(r evaluate.Report) [][]any {
	rows := make([][]any, len(r.Rows))
	for i, row := range r.Rows {
		mark := colorize(colorRed, "✗")
		if row.Correct {
			mark = colorize(colorGreen, "✓")
		}
		rows[i] = []any{row.Table, row.Column, row.CorrectTerm, row.Predicted, mark}
	}
	return rows
}

func init() {
	evalCmd.Flags().Bool("detail", false, "show per-column outcomes")
}

// --- gold ---

var goldCmd = &cobra.Command{
	Use:   "gold",
	Short: "Manage gold labels",
}

var goldImportCmd = &cobra.Command{
	Use:   "import <csv>",
	Short: "Replace gold labels with a table,column,correct_term CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		labels, err := evaluate.LoadGold(args[0])
		if err != nil {
			return err
		}

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.store.ReplaceGoldLabels(labels); err != nil {
			return err
		}
		printSuccess("Imported %d gold labels", len(labels))
		return nil
	},
}

func init() {
	goldCmd.AddCommand(goldImportCmd)
}

// --- review ---

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Approve terms for columns",
}

var reviewAddCmd = &cobra.Command{
	Use:   "add <table> <column> <term>",
	Short: "Approve a glossary term for a column",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		r, err := review.NewService(e.store).Approve(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		printSuccess("Approved %s for %s.%s", r.ApprovedTerm, r.Table, r.Column)
		return nil
	},
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current approval per column",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		var reviews []storage.Review
		if all {
			reviews, err = e.store.ListReviews()
		} else {
			reviews, err = review.NewService(e.store).Latest()
		}
		if err != nil {
			return err
		}

		rows := make([][]any, len(reviews))
		for i, r := range reviews {
			rows[i] = []any{r.Table, r.Column, r.ApprovedTerm, r.CreatedAt.Local().Format(time.DateTime), r.ID[:8]}
		}
		renderTable(os.Stdout, []string{"table", "column", "approved_term", "created", "id"}, rows)
		return nil
	},
}

func init() {
	reviewListCmd.Flags().Bool("all", false, "show the full append-only log")
	reviewCmd.AddCommand(reviewAddCmd)
	reviewCmd.AddCommand(reviewListCmd)
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export [dir]",
	Short: "Write a CSV snapshot of every relation",
	Long: `Write a CSV snapshot of every stored relation.

Files are named after the relation (column_cards.csv, column_matches.csv,
llm_predictions.csv, ...). The directory defaults to the storage directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		dir := e.cfg.Storage.Dir
		if len(args) == 1 {
			dir = args[0]
		}
		n, err := exportRelations(e.store, dir)
		if err != nil {
			return err
		}
		printSuccess("Exported %d relations to %s", n, dir)
		return nil
	},
}

// exportRelations writes one CSV per relation into dir.
func exportRelations(store *storage.Store, dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating export dir: %w", err)
	}
	for _, rel := range storage.Relations {
		header, rows, err := store.Dump(rel)
		if err != nil {
			return 0, err
		}
		path := filepath.Join(dir, rel+".csv")
		if err := writeCSVFile(path, header, rows); err != nil {
			return 0, fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return len(storage.Relations), nil
}

func writeCSVFile(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value in the config file. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSecretCmd = &cobra.Command{
	Use:   "secret <key> <value>",
	Short: "Store a secret in the secrets file",
	Long:  "Store a secret outside the config file. Secret keys: " + strings.Join(config.SecretKeys(), ", "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSecretCmd)
}
