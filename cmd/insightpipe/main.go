package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/insightpipe/insightpipe/internal/collect"
	"github.com/insightpipe/insightpipe/internal/config"
	"github.com/insightpipe/insightpipe/internal/database"
	"github.com/insightpipe/insightpipe/internal/feedback"
	"github.com/insightpipe/insightpipe/internal/fetch"
	"github.com/insightpipe/insightpipe/internal/llm"
	"github.com/insightpipe/insightpipe/internal/logging"
	"github.com/insightpipe/insightpipe/internal/pipeline"
	"github.com/insightpipe/insightpipe/internal/server"
)

var version = "dev"

var (
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "insightpipe",
	Short:   "Feedback insights pipeline",
	Long:    "insightpipe collects product feedback, enriches it with sentiment and taxonomy links, clusters it into themes, and generates actionable insights.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(areasCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("insightpipe", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/insightpipe/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure your product, feedback sources, and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Product: %s\n\n", cfg.Product.ID)
		fmt.Println("Feedback:")
		fmt.Printf("  Items collected: %d\n", stats.FeedbackTotal)
		fmt.Printf("  Taxonomy areas: %d\n", stats.AreaTotal)
		fmt.Println("\nRuns:")
		fmt.Printf("  Total: %d\n", stats.RunTotal)
		fmt.Printf("  Complete: %d\n", stats.RunsComplete)
		fmt.Printf("  Failed: %d\n", stats.RunsFailed)
		fmt.Printf("\nInsights generated: %d\n", stats.InsightTotal)
		return nil
	},
}

// --- feedback command ---

var (
	feedbackAuthor  string
	feedbackChannel string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Manage stored feedback",
}

var feedbackAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Add a feedback item by hand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		item := feedback.Item{
			ID:        uuid.NewString(),
			ProductID: cfg.Product.ID,
			Text:      args[0],
			AuthorID:  feedbackAuthor,
			Channel:   feedbackChannel,
			CreatedAt: time.Now().UTC(),
		}
		if _, err := db.InsertFeedback(item); err != nil {
			return err
		}
		fmt.Printf("Added feedback %s\n", item.ID)
		return nil
	},
}

var feedbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored feedback for the configured product",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListFeedback(cfg.Product.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No feedback stored. Add some with: insightpipe feedback add")
			return nil
		}

		for _, item := range items {
			text := item.Text
			if len(text) > 70 {
				text = text[:70] + "..."
			}
			channel := item.Channel
			if channel == "" {
				channel = "manual"
			}
			fmt.Printf("  %s  [%s]  %s\n", item.CreatedAt.Format("2006-01-02"), channel, text)
		}
		fmt.Printf("\n%d item(s)\n", len(items))
		return nil
	},
}

func init() {
	feedbackAddCmd.Flags().StringVar(&feedbackAuthor, "author", "", "Author identifier")
	feedbackAddCmd.Flags().StringVar(&feedbackChannel, "channel", "manual", "Source channel")

	feedbackCmd.AddCommand(feedbackAddCmd)
	feedbackCmd.AddCommand(feedbackListCmd)
}

// --- areas command ---

var (
	areaDescription string
	areaKeywords    []string
)

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "Manage the product-area taxonomy",
}

var areasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List taxonomy areas",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		areas, err := db.ListAreasForProduct(cfg.Product.ID)
		if err != nil {
			return err
		}
		if len(areas) == 0 {
			fmt.Println("No areas defined. Add one with: insightpipe areas add")
			return nil
		}

		fmt.Printf("Areas for %s:\n\n", cfg.Product.ID)
		for _, a := range areas {
			fmt.Printf("  [%s] %s\n", a.ID, a.Name)
			if a.Description != "" {
				fmt.Printf("        %s\n", a.Description)
			}
		}
		return nil
	},
}

var areasAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a taxonomy area",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		area := feedback.Area{
			ID:          uuid.NewString(),
			ProductID:   cfg.Product.ID,
			Name:        args[0],
			Description: areaDescription,
			Keywords:    areaKeywords,
		}
		if err := db.InsertArea(area); err != nil {
			return err
		}
		fmt.Printf("Added area [%s]: %s\n", area.ID, area.Name)
		return nil
	},
}

var areasRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a taxonomy area",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteArea(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed area %s\n", args[0])
		return nil
	},
}

func init() {
	areasAddCmd.Flags().StringVar(&areaDescription, "description", "", "Area description")
	areasAddCmd.Flags().StringSliceVar(&areaKeywords, "keywords", nil, "Keywords (comma separated)")

	areasCmd.AddCommand(areasListCmd)
	areasCmd.AddCommand(areasAddCmd)
	areasCmd.AddCommand(areasRemoveCmd)
}

// --- collect command ---

var (
	collectDaysBack int
	collectNoFetch  bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect feedback from configured feed sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		fmt.Println("Collecting feedback from sources...")

		collector := collect.NewCollector(cfg, db, logger)
		result, err := collector.Collect(collectDaysBack)
		if err != nil {
			return err
		}

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Total found: %d\n", result.TotalFound)
		fmt.Printf("  New items: %d\n", result.NewItems)
		fmt.Printf("  Duplicates skipped: %d\n", result.Duplicates)

		if len(result.Channels) > 0 {
			fmt.Println("\nItems by channel:")
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range result.Channels {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}

		if !collectNoFetch {
			fetcher := fetch.NewContentFetcher(db, 0, logger)
			fr := fetcher.ExpandTruncated(cfg.Product.ID)
			if fr.Candidates > 0 {
				fmt.Printf("\nExpanded %d of %d truncated items\n", fr.Expanded, fr.Candidates)
			}
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().IntVar(&collectDaysBack, "days-back", 7, "Lookback window (days)")
	collectCmd.Flags().BoolVar(&collectNoFetch, "no-fetch", false, "Skip fetching full text for truncated items")
}

// --- run command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the insight pipeline: enrich -> cluster -> generate insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		items, err := db.ListFeedback(cfg.Product.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Processing %d feedback item(s) for %s...\n", len(items), cfg.Product.ID)

		provider := llm.CreateProvider(logger,
			cfg.Completion.Provider, cfg.Completion.Model,
			cfg.Completion.OllamaURL, cfg.Completion.OpenAIModel,
			cfg.Completion.APIKeyEnv)
		if provider == nil {
			return fmt.Errorf("no LLM provider configured; check the completion section of your config")
		}

		orch := pipeline.New(provider, db, db, logger, pipeline.Options{
			Concurrency:     cfg.Pipeline.Concurrency,
			PermissiveAreas: cfg.Pipeline.PermissiveAreas,
			MaxClusters:     cfg.Pipeline.MaxClusters,
			MinClusterSize:  cfg.Pipeline.MinClusterSize,
			MinConfidence:   cfg.Pipeline.MinConfidence,
		})
		run := orch.NewRun()

		if err := db.InsertRun(run.ID(), cfg.Product.ID, string(pipeline.StateIdle)); err != nil {
			return err
		}

		outcome, err := run.Execute(context.Background(), cfg.Product.ID, items)
		if err != nil {
			db.CompleteRun(run.ID(), string(run.State()), len(items), 0, 0, 0, 0, err.Error())
			return err
		}

		fallbacks := 0
		for _, ins := range outcome.Insights {
			if ins.Fallback {
				fallbacks++
			}
		}

		if err := db.SaveClusters(run.ID(), outcome.Clusters); err != nil {
			return err
		}
		if err := db.SaveInsights(run.ID(), outcome.Insights); err != nil {
			return err
		}
		if err := db.CompleteRun(run.ID(), string(pipeline.StateComplete),
			outcome.Summary.FeedbackCount, outcome.Summary.EnrichedCount,
			outcome.Summary.ClusterCount, outcome.Summary.InsightCount,
			fallbacks, ""); err != nil {
			return err
		}

		fmt.Printf("\nRun %s complete:\n", run.ID())
		fmt.Printf("  Enriched: %d/%d\n", outcome.Summary.EnrichedCount, outcome.Summary.FeedbackCount)
		fmt.Printf("  Clusters: %d\n", outcome.Summary.ClusterCount)
		fmt.Printf("  Insights: %d", outcome.Summary.InsightCount)
		if fallbacks > 0 {
			fmt.Printf(" (%d fallback)", fallbacks)
		}
		fmt.Printf("\n  Took: %dms\n", outcome.Summary.ProcessingTimeMs)
		fmt.Println("\nRun 'insightpipe serve' to browse the insights.")
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, cfg.Product.ID, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "insightpipe.db")
	return database.Open(dbPath)
}
