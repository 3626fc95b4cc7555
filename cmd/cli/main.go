package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"gomatter/adapters/excel"
	"gomatter/adapters/reference"
	"gomatter/app"
	"gomatter/domain/material"
	"gomatter/domain/run"
	"gomatter/internal"
	"gomatter/internal/config"
	"gomatter/internal/container"
	"gomatter/internal/matcher"
	"gomatter/internal/migration"
	"gomatter/internal/report"
	"gomatter/internal/rulestore"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "gomatter-cli",
		Short:         "Materials discovery pipeline from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newBatchCmd(),
		newRulesCmd(),
		newMigrateCmd(),
		newMaterialsCmd(),
		newPhasesCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withContainer loads .env and the environment, wires the application and runs fn
func withContainer(ctx context.Context, fn func(*container.Container) error) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := internal.NewLogger(internal.ParseLogLevel(cfg.Server.LogLevel))
	defer logger.Sync()

	c, err := container.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Shutdown(context.Background())
	return fn(c)
}

func newRunCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "run [formula]",
		Short: "Run the discovery pipeline for one formula",
		Long: `Run the discovery pipeline for one chemical formula and print the report.

Known materials are reported from the materials database; unknown ones go
through the feasibility engine, which needs ENERGY_SERVICE_URL.

Example: gomatter-cli run Fe2O3 --format markdown`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				s, err := c.Discovery.Run(cmd.Context(), app.RunRequest{Formula: args[0]})
				if err != nil {
					return err
				}
				if err := writeState(cmd.OutOrStdout(), s, format); err != nil {
					return err
				}
				if s.Error != nil {
					return fmt.Errorf("run failed: %s", s.Error.Kind)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "markdown", "Output format: markdown|html|json")
	return cmd
}

func writeState(w io.Writer, s run.State, format string) error {
	body := ""
	if s.Artifact != nil {
		body = s.Artifact.Body
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "html":
		_, err := fmt.Fprintln(w, report.HTML(body))
		return err
	case "markdown", "":
		_, err := fmt.Fprintln(w, body)
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func newBatchCmd() *cobra.Command {
	var file string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "batch [formulas...]",
		Short: "Run the pipeline for many formulas concurrently",
		Long: `Run the pipeline for each formula, bounded by BATCH_CONCURRENCY, and print a summary.

Formulas come from the arguments or from --file (one per line, # starts a comment,
"-" reads stdin).

Example: gomatter-cli batch NaCl MgO LiFePO4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			formulas := append([]string{}, args...)
			if file != "" {
				fromFile, err := readFormulaList(file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				formulas = append(formulas, fromFile...)
			}
			if len(formulas) == 0 {
				return fmt.Errorf("no formulas given")
			}

			return withContainer(cmd.Context(), func(c *container.Container) error {
				res, err := c.Discovery.RunBatch(cmd.Context(), app.BatchRequest{Formulas: formulas})
				if err != nil {
					return err
				}
				if jsonOut {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				}
				printBatch(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "File with one formula per line, or - for stdin")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the full batch result as JSON")
	return cmd
}

// readFormulaList reads one formula per line, skipping blanks and # comments
func readFormulaList(path string, stdin io.Reader) ([]string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func printBatch(w io.Writer, res *app.BatchResult) {
	fmt.Fprintf(w, "=== BATCH RESULTS ===\n")
	for i, it := range res.Items {
		outcome := "known material"
		switch {
		case it.State.Error != nil:
			outcome = "error: " + string(it.State.Error.Kind)
		case it.State.Verdict != nil:
			outcome = string(*it.State.Verdict)
		}
		fmt.Fprintf(w, "%3d. %-16s %-28s %8.1fms\n", i+1, it.Formula, outcome, it.DurationMs)
	}

	sum := res.Summary
	fmt.Fprintf(w, "\n=== SUMMARY ===\n")
	fmt.Fprintf(w, "Total: %d  Completed: %d  Failed: %d  Database hits: %d\n", sum.Total, sum.Completed, sum.Failed, sum.DatabaseHits)
	fmt.Fprintf(w, "Duration: mean %.1fms, p95 %.1fms\n", sum.MeanDurationMs, sum.P95DurationMs)
	for _, k := range sortedKeys(sum.ByVerdict) {
		fmt.Fprintf(w, "  %s: %d\n", k, sum.ByVerdict[k])
	}
	for _, k := range sortedKeys(sum.ByErrorKind) {
		fmt.Fprintf(w, "  %s: %d\n", k, sum.ByErrorKind[k])
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the rule catalog",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print catalog statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				printStats(cmd.OutOrStdout(), c.Discovery.RuleStats())
				return nil
			})
		},
	}

	var q app.RuleQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List rules, optionally filtered by category, keyword, application, property and confidence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				rs, err := c.Discovery.ListRules(q)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, r := range rs {
					fmt.Fprintf(w, "%-32s %-12s %.2f  %s\n", r.ID, r.Category, r.Confidence, r.PredicateText)
					fmt.Fprintf(w, "    %s\n", r.Statement)
				}
				fmt.Fprintf(w, "\n%d rules\n", len(rs))
				return nil
			})
		},
	}
	list.Flags().StringVar(&q.Category, "category", "", "electronic|mechanical|thermal|stability|synthesis|application")
	list.Flags().StringVar(&q.Keyword, "keyword", "", "Keyword from the rule statements")
	list.Flags().StringVar(&q.Application, "application", "", "Application domain tag; general selects untagged rules")
	list.Flags().StringVar(&q.Property, "property", "", "Property the rule condition reads, e.g. band_gap")
	list.Flags().Float64Var(&q.MinConfidence, "min-confidence", 0, "Lowest rule confidence to list")

	var domain string
	var props map[string]string
	score := &cobra.Command{
		Use:   "score [formula]",
		Short: "Score a material against the rules of an application domain",
		Long: `Score a material against the rules of an application domain.
The properties come from the materials database unless given with --set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				res, err := c.Discovery.ScoreMaterial(cmd.Context(), app.ScoreRequest{
					Formula:    args[0],
					Domain:     domain,
					Properties: parseProperties(props),
				})
				if err != nil {
					return err
				}
				printScore(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	score.Flags().StringVar(&domain, "domain", "", "Application domain (default general)")
	score.Flags().StringToStringVar(&props, "set", nil, "Property values, e.g. --set band_gap=1.4,energy_above_hull=0")

	domains := &cobra.Command{
		Use:   "domains",
		Short: "List the scoring domains and the application tags in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Weighted domains:\n")
				for _, d := range matcher.WeightedDomains() {
					wt, _ := matcher.WeightsFor(d)
					fmt.Fprintf(w, "  %-16s stability %.2f  property %.2f  synthesis %.2f  domain %.2f\n", d, wt.Stability, wt.Property, wt.Synthesis, wt.Domain)
				}
				fmt.Fprintf(w, "\nApplication tags:\n")
				for _, a := range c.Discovery.Applications() {
					fmt.Fprintf(w, "  %s\n", a)
				}
				return nil
			})
		},
	}

	export := &cobra.Command{
		Use:   "export [output.xlsx]",
		Short: "Export the catalog to a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				if err := excel.NewRuleExporter(c.Rules).SaveAs(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rules to %s\n", c.Rules.Snapshot().Len(), args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(stats, list, score, domains, export)
	return cmd
}

// parseProperties reads numbers and booleans as such and keeps anything else as text
func parseProperties(raw map[string]string) material.PropertyRecord {
	if len(raw) == 0 {
		return nil
	}
	rec := make(material.PropertyRecord, len(raw))
	for k, v := range raw {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rec[k] = material.Number(f)
		} else if b, err := strconv.ParseBool(v); err == nil {
			rec[k] = material.Bool(b)
		} else {
			rec[k] = material.Text(v)
		}
	}
	return rec
}

func printScore(w io.Writer, res *app.ScoreResult) {
	card := res.Scorecard
	fmt.Fprintf(w, "=== %s for %s (%s) ===\n", res.Formula, card.Domain, res.Source)
	fmt.Fprintf(w, "Overall: %.3f\n", card.Overall)
	fmt.Fprintf(w, "  domain %.3f  stability %.3f  property %.3f  synthesis %.3f\n", card.DomainScore, card.Stability, card.Property, card.Synthesis)
	fmt.Fprintf(w, "Rules: %d evaluated, %d matched, %d violated, %d unevaluated\n", card.Evaluated, card.MatchedCount, card.ViolatedCount, card.Unevaluated)
	for _, m := range card.Matched {
		fmt.Fprintf(w, "  + %-32s %-12s %.2f\n", m.RuleID, m.Category, m.Confidence)
	}
	for _, m := range card.Violated {
		fmt.Fprintf(w, "  - %-32s %-12s %.2f\n", m.RuleID, m.Category, m.Confidence)
	}
	fmt.Fprintf(w, "\n%s\n", card.Reasoning)
}

func printStats(w io.Writer, st rulestore.Stats) {
	fmt.Fprintf(w, "=== RULE CATALOG (version %d) ===\n", st.Version)
	fmt.Fprintf(w, "Total rules: %d\n", st.TotalRules)
	fmt.Fprintf(w, "Source papers: %d\n", st.SourcePapers)
	fmt.Fprintf(w, "Cross-validated: %d\n", st.CrossValidated)
	fmt.Fprintf(w, "Application tagged: %d\n", st.ApplicationTagged)
	fmt.Fprintf(w, "Confidence: mean %.2f, median %.2f, stddev %.2f\n", st.MeanConfidence, st.MedianConfidence, st.StdDevConfidence)
	fmt.Fprintf(w, "Bands: high %d, medium %d, low %d\n", st.Confidence.High, st.Confidence.Medium, st.Confidence.Low)
	fmt.Fprintf(w, "Quality score: %.2f\n", st.QualityScore)

	fmt.Fprintf(w, "\nBy category:\n")
	cats := make(map[string]int, len(st.ByCategory))
	for c, n := range st.ByCategory {
		cats[string(c)] = n
	}
	for _, k := range sortedKeys(cats) {
		fmt.Fprintf(w, "  %-12s %d\n", k, cats[k])
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print their status",
		Long: `Apply pending migrations to DATABASE_URL and print the status of every migration.
Startup applies migrations too; this command only reports.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				runner := migration.NewRunner(c.DB, c.Logger)
				status, err := runner.Status(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "Schema version %s (%s)\n", runner.Version(), c.Config.Database.Driver)
				for _, s := range status {
					mark := "pending"
					if s.Applied {
						mark = "applied " + s.AppliedAt
					}
					fmt.Fprintf(w, "  %s_%s  %s\n", s.Version, s.Name, mark)
				}
				return nil
			})
		},
	}
	return cmd
}

func newMaterialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "materials",
		Short: "Manage the materials database",
	}

	importCmd := &cobra.Command{
		Use:   "import [file.xlsx|file.csv]",
		Short: "Upsert property records from a spreadsheet",
		Long: `Upsert property records from the first sheet of an xlsx file or from a csv file.
The formula column names the material; every other column becomes a property.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				rows, err := excel.NewDataReader(args[0], c.Logger).ReadMaterials()
				if err != nil {
					return err
				}
				for _, row := range rows {
					if err := c.Materials.Upsert(cmd.Context(), row.Formula, row.Properties); err != nil {
						return fmt.Errorf("failed to import %s: %w", row.Formula, err)
					}
				}
				total, err := c.Materials.Count(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d materials (%d in database)\n", len(rows), total)
				return nil
			})
		},
	}

	count := &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored materials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				n, err := c.Materials.Count(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}

	cmd.AddCommand(importCmd, count)
	return cmd
}

func newPhasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phases",
		Short: "Manage reference phases used for convex hulls",
	}

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Store reference phases from xlsx, csv, yaml or json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(c *container.Container) error {
				phases, err := reference.ReadFile(args[0], c.Logger)
				if err != nil {
					return err
				}
				if err := c.Phases.Save(cmd.Context(), phases); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %d reference phases from %s\n", len(phases), args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(importCmd)
	return cmd
}
