package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/CompetitorWatch/internal/collect"
	"github.com/TobiSchelling/CompetitorWatch/internal/config"
	"github.com/TobiSchelling/CompetitorWatch/internal/database"
	"github.com/TobiSchelling/CompetitorWatch/internal/logging"
	"github.com/TobiSchelling/CompetitorWatch/internal/model"
	"github.com/TobiSchelling/CompetitorWatch/internal/normalize"
	"github.com/TobiSchelling/CompetitorWatch/internal/pipeline"
	"github.com/TobiSchelling/CompetitorWatch/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logCloser  io.Closer
)

func main() {
	err := rootCmd.Execute()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "compwatch",
	Short:   "Weekly competitor intelligence reports",
	Long:    "CompetitorWatch watches competitor websites and feeds, detects what changed, categorizes the changes with an LLM and delivers a weekly report.",
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

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logCloser, err = logging.Init(level, cfg.Logging.File)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("compwatch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/compwatch/",
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
		fmt.Println("Edit it to configure sources, delivery targets and the LLM provider.")
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

		ctx := cmd.Context()
		stats, err := db.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Sources:")
		for _, s := range cfg.Sources.Items {
			fmt.Printf("  %-24s %-8s %s\n", s.Name, s.Type, s.URL)
		}
		fmt.Println("\nFingerprint store:")
		fmt.Printf("  Tracked items: %d\n", stats.TrackedItems)
		if holder, _ := db.RunLockHolder(ctx); holder != "" {
			fmt.Printf("  Locked by run: %s\n", holder)
		}
		fmt.Println("\nReports:")
		fmt.Printf("  Generated: %d\n", stats.Reports)
		fmt.Printf("  Delivered: %d\n", stats.DeliveredReports)
		fmt.Printf("  Updates reported: %d\n", stats.ReportedUpdates)
		if stats.LastRunAt != nil {
			fmt.Printf("  Last run: %s\n", stats.LastRunAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Printf("\nSchedule: %s\n", cfg.Schedule)
		return nil
	},
}

// --- collect command ---

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Fetch all sources and show what was found, without recording anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Collecting from sources...")

		collector := collect.NewCollector(cfg.Sources.Concurrency, cfg.SourceTimeout())
		result := collector.Collect(cmd.Context(), cfg.Sources.Items)

		perSource := make(map[string]int)
		total, stale := 0, 0
		cutoff := time.Now().Add(-cfg.MaxAge())
		for _, f := range result.Fetches {
			items := normalize.Normalize(f)
			if cfg.MaxAge() > 0 {
				var dropped int
				items, dropped = normalize.FilterRecent(items, cutoff)
				stale += dropped
			}
			perSource[f.SourceName] = len(items)
			total += len(items)
		}

		fmt.Println("\nCollection complete:")
		fmt.Printf("  Raw entries: %d\n", result.TotalEntries())
		fmt.Printf("  Usable items: %d\n", total)
		fmt.Printf("  Older than %d days: %d\n", cfg.Sources.MaxAgeDays, stale)
		fmt.Printf("  Failed sources: %d\n", len(result.Warnings))

		if len(perSource) > 0 {
			fmt.Println("\nItems by source:")
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range perSource {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}
		printWarnings(result.Warnings)
		return nil
	},
}

// --- run command ---

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once: collect -> detect -> categorize -> report -> deliver",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pipe := pipeline.New(cfg, db)

		var result *pipeline.Result
		if dryRun {
			result, err = pipe.DryRun(ctx)
		} else {
			result, err = pipe.Run(ctx)
		}

		printResult(result)
		if err != nil {
			return err
		}

		if !dryRun {
			fmt.Println("\nRun complete! Run 'compwatch serve' to browse the report.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would change without calling the AI, recording fingerprints or delivering")
}

// --- schedule command ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on the configured cron schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pipe := pipeline.New(cfg, db)
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		c := cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger), cron.Recover(cron.DefaultLogger)),
		)

		sched, err := parser.Parse(cfg.Schedule)
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
		}
		c.Schedule(sched, cron.FuncJob(func() {
			result, err := pipe.Run(ctx)
			if err != nil {
				logging.Log.Errorf("Scheduled run failed: %v", err)
				return
			}
			logging.Log.WithField("run_id", result.RunID).
				Infof("Scheduled run complete: %d updates", result.Report.TotalUpdates)
		}))

		c.Start()
		next := sched.Next(time.Now())
		fmt.Printf("Scheduled with %q, next run at %s\n", cfg.Schedule, next.Local().Format("2006-01-02 15:04"))
		fmt.Println("Press Ctrl+C to stop")

		<-ctx.Done()
		fmt.Println("\nStopping scheduler, waiting for a running pipeline to finish...")
		<-c.Stop().Done()
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local report browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if !cmd.Flags().Changed("port") && cfg.Server.Port != 0 {
			port = cfg.Server.Port
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- reports command ---

var reportsLimit int

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List stored reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		reports, err := db.ListReports(cmd.Context(), reportsLimit)
		if err != nil {
			return err
		}

		if len(reports) == 0 {
			fmt.Println("No reports yet. Generate one with: compwatch run")
			return nil
		}

		for _, r := range reports {
			status := " "
			if r.Delivered {
				status = "*"
			}
			fmt.Printf("  %s %s  %3d updates  %s\n", status, r.GeneratedAt.Local().Format("2006-01-02 15:04"), r.TotalUpdates, r.RunID)
			summary := r.Summary
			if len(summary) > 70 {
				summary = summary[:70] + "..."
			}
			fmt.Printf("      %s\n", summary)
		}
		return nil
	},
}

func init() {
	reportsCmd.Flags().IntVarP(&reportsLimit, "limit", "n", 10, "Number of reports to show (0 for all)")
}

func printResult(result *pipeline.Result) {
	if result == nil {
		return
	}
	for i, step := range result.Steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
	printWarnings(result.Warnings)
}

func printWarnings(warnings []model.Warning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Printf("\nWarnings (%d):\n", len(warnings))
	for _, w := range warnings {
		fmt.Printf("  - %s\n", w)
	}
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "compwatch.db")
	return database.Open(dbPath)
}
