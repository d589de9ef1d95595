package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Kaikei-e/Alt-sub006/internal/backfill"
)

var version = "dev"

var (
	verbose    bool
	cursorFile string
)

var (
	fromDate    string
	toDate      string
	concurrency int
	batchSize   int
	rps         float64
	dryRun      bool
	hyperBoost  bool
)

var rootCmd = &cobra.Command{
	Use:     "backfill",
	Short:   "Backfill articles into the RAG index",
	Version: version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the backfill",
	Long: `Index existing articles into the RAG system in batches.

Progress is tracked in a cursor file, so an interrupted run resumes from
where it stopped. Use --from and --to to restrict the date range; without
them every article is processed.

Examples:
  # Process everything, resuming from the cursor
  backfill run

  # Process a date range
  backfill run --from 2024-01-01 --to 2024-01-31

  # Preview without posting anything
  backfill run --from 2024-12-01 --dry-run

  # Embed on a local GPU instead of the shared embedder
  backfill run --hyper-boost`,
	RunE: runBackfill,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current cursor status",
	RunE:  showStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset-cursor",
	Short: "Reset the cursor to start from beginning",
	RunE:  resetCursor,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cursorFile, "cursor-file", "cursor.json", "cursor file path")

	runCmd.Flags().StringVar(&fromDate, "from", "", "start date (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&toDate, "to", "", "end date (YYYY-MM-DD), defaults to today")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of concurrent requests")
	runCmd.Flags().IntVar(&batchSize, "batch-size", 40, "articles per batch")
	runCmd.Flags().Float64Var(&rps, "rps", 10, "request rate limit against the orchestrator, 0 disables")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be processed without posting")
	runCmd.Flags().BoolVar(&hyperBoost, "hyper-boost", false, "use local GPU for embedding (starts temporary Ollama container)")

	rootCmd.AddCommand(runCmd, statusCmd, resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func parseDate(flag, value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s date: %w", flag, err)
	}
	return t, nil
}

// startHyperBoost brings up the GPU container and blocks until its model is
// ready. The caller owns Stop and Close.
func startHyperBoost(ctx context.Context, logger *slog.Logger) (*backfill.HyperBoost, error) {
	hb, err := backfill.NewHyperBoost(logger)
	if err != nil {
		return nil, fmt.Errorf("create hyperboost: %w", err)
	}
	if err := hb.Start(ctx); err != nil {
		return nil, fmt.Errorf("start hyperboost container: %w", err)
	}
	if err := hb.WaitReady(ctx); err != nil {
		return hb, fmt.Errorf("hyperboost container not ready: %w", err)
	}
	if err := hb.PullModel(ctx); err != nil {
		return hb, fmt.Errorf("pull embedding model: %w", err)
	}
	return hb, nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	orchestratorURL := os.Getenv("ORCHESTRATOR_URL")
	if orchestratorURL == "" {
		orchestratorURL = "http://localhost:9010"
	}

	cfg := backfill.DefaultConfig()
	cfg.DatabaseURL = dbURL
	cfg.OrchestratorURL = orchestratorURL
	cfg.CursorFile = cursorFile
	cfg.Concurrency = concurrency
	cfg.BatchSize = batchSize
	cfg.RequestsPerSecond = rps
	cfg.DryRun = dryRun

	var err error
	if fromDate != "" {
		if cfg.FromDate, err = parseDate("from", fromDate); err != nil {
			return err
		}
	}
	if toDate != "" {
		if cfg.ToDate, err = parseDate("to", toDate); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if hyperBoost {
		logger.Info("initializing hyper-boost mode")
		hb, err := startHyperBoost(ctx, logger)
		if hb != nil {
			defer func() {
				// Fresh context: ctx is already canceled when shutdown runs.
				if stopErr := hb.Stop(context.Background()); stopErr != nil {
					logger.Warn("failed to stop hyperboost container", slog.String("error", stopErr.Error()))
				}
				hb.Close()
			}()
		}
		if err != nil {
			return err
		}
		cfg.EmbedderOverrideURL = hb.EmbedderURL()
		logger.Info("hyper-boost enabled", slog.String("embedder_url", cfg.EmbedderOverrideURL))
	}

	logger.Info("starting backfill",
		slog.String("orchestrator_url", cfg.OrchestratorURL),
		slog.String("cursor_file", cfg.CursorFile),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Int("batch_size", cfg.BatchSize),
		slog.Float64("rps", cfg.RequestsPerSecond),
		slog.Bool("dry_run", cfg.DryRun),
		slog.Bool("hyper_boost", hyperBoost),
		slog.String("from_date", fromDate),
		slog.String("to_date", toDate),
	)

	runner, err := backfill.NewRunner(cfg, logger)
	if err != nil {
		return fmt.Errorf("create runner: %w", err)
	}
	defer runner.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down...", slog.String("signal", sig.String()))
		cancel()
	}()

	if err := runner.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("backfill interrupted, cursor saved for resume")
			return nil
		}
		return fmt.Errorf("run backfill: %w", err)
	}
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	cursor, err := backfill.NewCursorManager(cursorFile).Load()
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	if cursor.IsEmpty() {
		fmt.Println("No cursor found. Backfill will start from the beginning.")
		return nil
	}

	fmt.Printf("Cursor Status:\n")
	fmt.Printf("  Version:         %d\n", cursor.Version)
	fmt.Printf("  Last Created At: %s\n", cursor.LastCreatedAt.Format(time.RFC3339))
	fmt.Printf("  Last ID:         %s\n", cursor.LastID)
	fmt.Printf("  Current Date:    %s\n", cursor.CurrentDate)
	fmt.Printf("  Processed Count: %d\n", cursor.ProcessedCount)
	fmt.Printf("  Updated At:      %s\n", cursor.UpdatedAt.Format(time.RFC3339))
	return nil
}

func resetCursor(cmd *cobra.Command, args []string) error {
	if err := backfill.NewCursorManager(cursorFile).Reset(); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	fmt.Println("Cursor reset. The next run starts from the beginning.")
	return nil
}
