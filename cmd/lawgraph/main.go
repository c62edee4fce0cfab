package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"lawgraph/internal/builder"
	"lawgraph/internal/config"
	"lawgraph/internal/extract"
	"lawgraph/internal/pipeline"
	"lawgraph/internal/propagate"
	"lawgraph/internal/report"
	"lawgraph/internal/snapshot"
	"lawgraph/internal/storage"
	"lawgraph/internal/validator"
)

var (
	rootCmd = &cobra.Command{
		Use:   "lawgraph",
		Short: "Conservation-law checker over a typed code graph",
	}
	dbPath  string
	cfgPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "lawgraph.db", "Path to the local graph database (SQLite)")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to the YAML config file")

	checkCmd.Flags().Bool("full", false, "Validate the whole graph instead of the changed scope")
	checkCmd.Flags().String("base", "", "Git ref to diff against for change detection")
	annotateCmd.Flags().Bool("full", false, "Validate the whole graph instead of the changed scope")
	snapshotCreateCmd.Flags().String("label", "", "Human-readable snapshot label")

	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotListCmd, snapshotDeleteCmd)
	rootCmd.AddCommand(applyCmd, checkCmd, markCmd, propagateCmd, clearCmd, snapshotCmd, diffCmd, annotateCmd)
}

func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func initStore() *storage.SQLiteStore {
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return store
}

func policyFrom(cfg *config.Config) validator.Policy {
	return validator.Policy{
		UnresolvedSeverity: validator.Severity(cfg.Policy.UnresolvedSeverity),
		TypeCompatibility:  validator.TypeCompatibility(cfg.Policy.TypeCompatibility),
		ValidationHops:     cfg.Policy.ValidationHops,
	}
}

var applyCmd = &cobra.Command{
	Use:   "apply <extraction.json> [more...]",
	Short: "Ingest extraction payloads into the graph",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := initStore()
		defer store.Close()

		run := &pipeline.CheckRun{Store: store, ExtractionPaths: args}
		rep := &pipeline.CheckReport{}
		if err := applyOnly(ctx, run, rep); err != nil {
			log.Fatalf("Apply failed: %v", err)
		}

		for _, res := range rep.Applied {
			if res.NoOp() {
				fmt.Printf("✅ %s: unchanged\n", res.ModuleID)
				continue
			}
			fmt.Printf("📦 %s: +%d ~%d -%d nodes, +%d -%d edges\n",
				res.ModuleID, res.NodesAdded, res.NodesUpdated, res.NodesDeleted,
				res.EdgesAdded, res.EdgesDeleted)
		}
		fmt.Printf("🔗 Resolution: %d resolved, %d ambiguous, %d unresolved\n",
			rep.Resolve.Resolved, rep.Resolve.Ambiguous, rep.Resolve.Unresolved)
	},
}

// applyOnly runs just the ingest stage of a check run.
func applyOnly(ctx context.Context, run *pipeline.CheckRun, rep *pipeline.CheckReport) error {
	b := builder.New(run.Store, nil)
	committed := false
	for _, path := range run.ExtractionPaths {
		ex, err := extract.LoadExtraction(path)
		if err != nil {
			return err
		}
		res, err := b.ApplyExtraction(ctx, ex)
		if err != nil {
			return fmt.Errorf("apply %s: %w", path, err)
		}
		rep.Applied = append(rep.Applied, res)
		if !res.NoOp() {
			committed = true
		}
	}
	if committed {
		stats, err := b.Reresolve(ctx)
		if err != nil {
			return err
		}
		rep.Resolve = stats
	}
	return nil
}

var checkCmd = &cobra.Command{
	Use:   "check [extraction.json...]",
	Short: "Apply extractions, propagate changes, and validate the laws",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		store := initStore()
		defer store.Close()

		full, _ := cmd.Flags().GetBool("full")
		base, _ := cmd.Flags().GetString("base")

		run := &pipeline.CheckRun{
			Store:           store,
			Policy:          policyFrom(cfg),
			ExtractionPaths: args,
			BaseRef:         base,
			Full:            full,
		}
		rep, err := run.Run(ctx)
		if err != nil {
			log.Fatalf("Check failed: %v", err)
		}

		report.Render(os.Stdout, rep.Violations)
		if rep.Errors() > 0 {
			os.Exit(1)
		}
	},
}

var markCmd = &cobra.Command{
	Use:   "mark <file> [more...]",
	Short: "Flag every node in the given files as changed",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := initStore()
		defer store.Close()

		p := propagate.New(store, nil)
		marked, err := p.MarkChanged(ctx, args)
		if err != nil {
			log.Fatalf("Mark failed: %v", err)
		}
		fmt.Printf("📝 Marked %d node(s) as changed.\n", marked)
	},
}

var propagateCmd = &cobra.Command{
	Use:   "propagate",
	Short: "Spread changed flags to dependents until a fixpoint",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := initStore()
		defer store.Close()

		p := propagate.New(store, nil)
		reached, err := p.Propagate(ctx)
		if err != nil {
			log.Fatalf("Propagate failed: %v", err)
		}
		fmt.Printf("🌊 Reached %d additional node(s).\n", reached)
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset every changed flag",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := initStore()
		defer store.Close()

		if err := propagate.New(store, nil).ClearChanged(ctx); err != nil {
			log.Fatalf("Clear failed: %v", err)
		}
		fmt.Println("🧹 Changed flags cleared.")
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage graph snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Capture the current graph as an immutable snapshot",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := initStore()
		defer store.Close()

		label, _ := cmd.Flags().GetString("label")
		engine := snapshot.NewEngine(store, store, nil)
		s, err := engine.Create(ctx, label)
		if err != nil {
			log.Fatalf("Snapshot failed: %v", err)
		}
		fmt.Printf("📸 Snapshot %s created (%d nodes, %d edges).\n", s.ID, len(s.Nodes), len(s.Edges))
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := initStore()
		defer store.Close()

		engine := snapshot.NewEngine(store, store, nil)
		snaps, err := engine.List(ctx)
		if err != nil {
			log.Fatalf("List failed: %v", err)
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots.")
			return
		}
		for _, s := range snaps {
			fmt.Printf("%s  %-20s  %d nodes, %d edges\n", s.ID, s.Label, len(s.Nodes), len(s.Edges))
		}
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := initStore()
		defer store.Close()

		engine := snapshot.NewEngine(store, store, nil)
		if err := engine.Delete(ctx, args[0]); err != nil {
			log.Fatalf("Delete failed: %v", err)
		}
		fmt.Println("🗑️ Snapshot deleted.")
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <old-id> <new-id>",
	Short: "Structurally diff two snapshots",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store := initStore()
		defer store.Close()

		engine := snapshot.NewEngine(store, store, nil)
		d, err := engine.DiffIDs(ctx, args[0], args[1])
		if err != nil {
			log.Fatalf("Diff failed: %v", err)
		}

		if d.Empty() {
			fmt.Println("✅ Snapshots are identical.")
			return
		}
		fmt.Printf("Nodes: +%d -%d ~%d (=%d)\n",
			len(d.NodesAdded), len(d.NodesRemoved), len(d.NodesModified), len(d.NodesUnchanged))
		fmt.Printf("Edges: +%d -%d ~%d (=%d)\n",
			len(d.EdgesAdded), len(d.EdgesRemoved), len(d.EdgesModified), len(d.EdgesUnchanged))
		for _, nc := range d.NodesModified {
			fmt.Printf("~ %s\n", nc.ID)
			for key, change := range nc.Props {
				fmt.Printf("    %s: %v -> %v\n", key, change.Before, change.After)
			}
		}
	},
}

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Validate and enrich the report with AI-suggested fixes",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		cfg := loadConfig()
		if cfg.AI.APIKey == "" {
			log.Fatalf("AI API key not configured")
		}
		store := initStore()
		defer store.Close()

		full, _ := cmd.Flags().GetBool("full")
		v := validator.New(store, policyFrom(cfg), nil)

		var (
			violations []validator.Violation
			err        error
		)
		if full {
			violations, err = v.ValidateFull(ctx)
		} else {
			violations, err = v.ValidateIncremental(ctx)
		}
		if err != nil {
			log.Fatalf("Validation failed: %v", err)
		}

		annotator, err := report.NewAnnotator(ctx, cfg.AI.APIKey, cfg.AI.Model)
		if err != nil {
			log.Fatalf("Failed to create annotator: %v", err)
		}
		annotated, err := annotator.Annotate(ctx, violations)
		if err != nil {
			log.Fatalf("Annotation failed: %v", err)
		}
		report.Render(os.Stdout, annotated)
	},
}
