package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/pulsemap/internal/behaviormap"
	"github.com/TobiSchelling/pulsemap/internal/config"
	"github.com/TobiSchelling/pulsemap/internal/database"
	"github.com/TobiSchelling/pulsemap/internal/logging"
	"github.com/TobiSchelling/pulsemap/internal/pipeline"
	"github.com/TobiSchelling/pulsemap/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and flushes whichever logger the command installed.
func run(args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		return 1
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:     "pulsemap",
	Short:   "Behavior maps from daily check-ins, quests and chat",
	Long:    "pulsemap turns check-ins, quests, activity events and chat messages into insight summaries and a weekly behavior map.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is fine.
		_ = godotenv.Load()

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
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(questCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(insightsCmd)
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("pulsemap", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/pulsemap/",
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
		fmt.Println("Edit it to tune the engine and choose an LLM provider.")
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

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Activity:")
		fmt.Printf("  Users: %d\n", stats.Users)
		fmt.Printf("  Events: %d\n", stats.Events)
		fmt.Printf("  Check-ins: %d\n", stats.CheckIns)
		fmt.Printf("  Quests: %d\n", stats.Quests)
		fmt.Println("\nSignals:")
		fmt.Printf("  Messages: %d (%d awaiting extraction)\n", stats.Messages, stats.PendingMessages)
		fmt.Printf("  Extracted signals: %d\n", stats.Signals)
		fmt.Println("\nOutput:")
		fmt.Printf("  Insight states: %d\n", stats.InsightStates)
		fmt.Printf("  Map snapshots: %d\n", stats.Snapshots)
		fmt.Printf("\nLLM provider: %s\n", cfg.LLM.Provider)
		return nil
	},
}

// --- run command ---

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run <user>",
	Short: "Run the full pipeline for a user: extract -> insights -> map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		user, err := resolveUser(db, args[0])
		if err != nil {
			return err
		}
		pipe, err := newPipeline(db)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(user.ID)
		} else {
			result = pipe.Run(ctx, user.ID)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/3: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if result.Failed() {
			return fmt.Errorf("pipeline failed for %s", user.Name)
		}
		if !dryRun {
			fmt.Println("\nPipeline complete! Run 'pulsemap serve' to view the map.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
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

		pipe, err := newPipeline(db)
		if err != nil {
			return err
		}

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, db, pipe, logger, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on (overrides config)")
}

// --- helpers ---

func openDB() (*database.DB, error) {
	db, err := database.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func newPipeline(db *database.DB) (*pipeline.Pipeline, error) {
	pipe, err := pipeline.New(cfg, db, logger)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	return pipe, nil
}

// resolveUser accepts a user id or name.
func resolveUser(db *database.DB, ref string) (*behaviormap.User, error) {
	user, err := db.FindUser(ref)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("no user %q; add one with: pulsemap users add <name>", ref)
	}
	return user, nil
}
