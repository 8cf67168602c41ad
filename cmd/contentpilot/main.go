package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/contentpilot/internal/config"
	"github.com/TobiSchelling/contentpilot/internal/scheduler"
	"github.com/TobiSchelling/contentpilot/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "contentpilot",
	Short:   "Search-driven content pipeline",
	Long:    "contentpilot finds search opportunities, drafts articles for them with an LLM, and tracks how published content performs.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

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
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("contentpilot", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/contentpilot/",
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
		fmt.Println("Edit it to configure your site, API keys, and LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		report, err := a.governor.Report()
		if err != nil {
			return err
		}

		fmt.Printf("Database: %s\n\n", a.db.Path())
		fmt.Println("Opportunities:")
		printCounts(stats.Opportunities)
		fmt.Println("\nDrafts:")
		printCounts(stats.Drafts)
		fmt.Println("\nContent:")
		fmt.Printf("  Published items: %d\n", stats.Items)
		fmt.Printf("  Catalog products: %d\n", stats.Products)
		fmt.Println("\nQueue:")
		fmt.Printf("  Backend: %s\n", cfg.Queue.Backend)
		fmt.Printf("  Queued tasks: %d\n", stats.QueuedTasks)
		fmt.Printf("  Dead tasks: %d\n", stats.DeadTasks)
		fmt.Println("\nBudget:")
		fmt.Printf("  %s: $%.2f of $%.2f (%s)\n", report.Period.Month, report.Period.TotalCost,
			report.MonthlyTarget, report.Status)
		fmt.Println("\nLLM:")
		fmt.Printf("  Provider: %s\n", cfg.LLM.Provider)
		fmt.Printf("  Circuit: %s\n", a.gateway.Breaker().State())
		return nil
	},
}

func printCounts(counts map[string]int) {
	if len(counts) == 0 {
		fmt.Println("  none")
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %d\n", k, counts[k])
	}
}

// --- serve command ---

var (
	servePort  int
	noWorker   bool
	noSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, queue worker and scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if !noWorker {
			go a.worker().Run(ctx)
		}
		if !noSchedule {
			sched := scheduler.New(a.queue, cfg.Discovery.Schedule, cfg.Performance.Schedule)
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()
		}

		secret := config.Secret(cfg.Server.AdminSecretEnv)
		if secret == "" {
			log.Printf("%s is not set; admin routes will refuse requests", cfg.Server.AdminSecretEnv)
		}
		srv := server.New(a.db, a.publisher, a.governor, a.tracker, a.queue, server.Options{
			SiteName:    cfg.Site.Name,
			BaseURL:     cfg.Site.BaseURL,
			AdminSecret: secret,
		})

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
	serveCmd.Flags().BoolVar(&noWorker, "no-worker", false, "Do not process queued tasks")
	serveCmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "Do not run the cron scheduler")
}
