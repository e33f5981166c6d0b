// Marketsync keeps a local cache of a merchant's marketplace listings in
// step with the Second Life Marketplace API and drives bulk inventory
// imports against it.
//
// Usage:
//
//	marketsync daemon [--config <path>] [--verbose]  # run the sync loops
//	marketsync refresh [--config ...]                # one listings refresh, print the cache
//	marketsync import [--config ...]                 # trigger an import and wait for it
//	marketsync status                                # show config & import history
//	marketsync version                               # print version
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/history"
	"marketsync/internal/importer"
	"marketsync/internal/inventory"
	"marketsync/internal/market"
	"marketsync/internal/model"
	"marketsync/internal/notify"
	"marketsync/internal/slm"
	"marketsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runApp(os.Args[2:], modeDaemon)
	case "refresh":
		return runApp(os.Args[2:], modeRefresh)
	case "import":
		return runApp(os.Args[2:], modeImport)
	case "status":
		return runStatus()
	case "version":
		fmt.Println("marketsync", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'marketsync' for usage", cmd)
	}
}

// printUsage shows help and suggests creating a config if none exists.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "Marketsync — marketplace listing cache & import driver")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  marketsync daemon [--config ...]   Run the sync loops")
	fmt.Fprintln(os.Stderr, "  marketsync refresh [--config ...]  One listings refresh, print the cache")
	fmt.Fprintln(os.Stderr, "  marketsync import [--config ...]   Trigger an import and wait for it")
	fmt.Fprintln(os.Stderr, "  marketsync status                  Show config & import history")
	fmt.Fprintln(os.Stderr, "  marketsync version                 Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found. Create one at %s to get started.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

type runMode int

const (
	modeDaemon runMode = iota
	modeRefresh
	modeImport
)

// --- Subcommands -------------------------------------------------------------

// runStatus prints the current configuration and the recent import history.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("Marketsync Status")
	fmt.Println("─────────────────")

	var cfg *config.Config
	if _, err := os.Stat(cfgPath); err == nil {
		loaded, loadErr := config.Load(cfgPath)
		if loadErr == nil {
			cfg = loaded
			fmt.Printf("  Config:      %s ✓\n", cfgPath)
			fmt.Printf("  Market URL:  %s\n", cfg.MarketURL)
			fmt.Printf("  Poll:        %s\n", cfg.PollInterval)
			fmt.Printf("  Refresh:     %s\n", cfg.RefreshInterval)
			fmt.Printf("  Auto import: %t\n", cfg.AutoTriggerImport)
		} else {
			fmt.Printf("  Config:      %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:      not found (%s)\n", cfgPath)
	}

	dbPath, err := historyPath(cfg)
	if err != nil {
		return err
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Println("  History DB:  not found")
		return nil
	}
	fmt.Printf("  History DB:  %s (%s)\n", dbPath, humanSize(info.Size()))

	store, err := history.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening history DB at %q: %w", dbPath, err)
	}
	defer func() { _ = store.Close() }()

	runs, err := store.RecentRuns(context.Background(), 5)
	if err != nil {
		return fmt.Errorf("reading import history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("  Imports:     none recorded")
		return nil
	}
	fmt.Println("  Imports:")
	for _, run := range runs {
		if run.Finished() {
			fmt.Printf("    %s  %d (%s)\n", run.StartedAt.Local().Format(time.RFC3339), int(run.Code), run.Code)
		} else {
			fmt.Printf("    %s  unfinished\n", run.StartedAt.Local().Format(time.RFC3339))
		}
	}
	return nil
}

// historyPath resolves the history DB path, honouring the config override.
func historyPath(cfg *config.Config) (string, error) {
	if cfg != nil && cfg.HistoryDB != "" {
		return cfg.HistoryDB, nil
	}
	path, err := history.DefaultDBPath()
	if err != nil {
		return "", fmt.Errorf("resolving history DB path: %w", err)
	}
	return path, nil
}

// --- App core (shared by daemon, refresh, and import) ------------------------

// runApp parses the shared flags and starts the requested mode.
func runApp(args []string, mode runMode) error {
	fs := flag.NewFlagSet("marketsync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	logger.Info("config loaded",
		"market_url", cfg.MarketURL,
		"poll_interval", cfg.PollInterval,
		"refresh_interval", cfg.RefreshInterval,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- History DB ----------------------------------------------------------

	dbPath, err := historyPath(cfg)
	if err != nil {
		return err
	}
	store, err := history.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening history DB at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing history DB", "error", closeErr)
		}
	}()
	logger.Info("history DB opened", "path", dbPath)

	// --- Marketplace client, engine, importer --------------------------------

	client, err := slm.NewClient(cfg.MarketURL, cfg.APIToken, logger)
	if err != nil {
		return fmt.Errorf("initialising marketplace client: %w", err)
	}

	bus := notify.New()
	tree := inventory.NewTree()
	engine := market.NewEngine(client, tree, bus, logger)
	imp := importer.New(engine, client, bus, store, cfg.AutoTriggerImport, cfg.ImportTimeout, logger)

	bus.OnStatusUpdated(func() {
		logger.Info("marketplace status", "status", engine.Status().String())
	})
	bus.OnStatusReport(func(code uint32, detail map[string]any) {
		logger.Info("status report", "code", code, "detail", detail)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	switch mode {
	case modeRefresh:
		return runRefresh(ctx, engine)
	case modeImport:
		return runImport(ctx, engine, imp, bus, cfg.PollInterval)
	default:
		return runDaemon(ctx, engine, imp, cfg, logger)
	}
}

// runRefresh performs one listings refresh and prints the resulting cache.
func runRefresh(ctx context.Context, engine *market.Engine) error {
	if !engine.RefreshListings(ctx) {
		return fmt.Errorf("refresh already in progress")
	}
	engine.Flush()

	records := engine.Listings()
	if len(records) == 0 {
		fmt.Println("no listings")
		return nil
	}
	for _, rec := range records {
		state := "unlisted"
		if rec.Active {
			state = "listed"
		}
		fmt.Printf("%8d  %-8s  folder=%s  version=%s\n", rec.ListingID, state, rec.FolderID, rec.VersionFolderID)
	}
	return nil
}

// runImport triggers one import job and polls it to completion. A run that
// ends on anything but a clean 200 becomes a non-zero exit.
func runImport(ctx context.Context, engine *market.Engine, imp *importer.Importer, bus *notify.Bus, poll time.Duration) error {
	var mu sync.Mutex
	var last uint32
	bus.OnStatusReport(func(code uint32, _ map[string]any) {
		mu.Lock()
		last = code
		mu.Unlock()
	})

	imp.Initialize(ctx)
	engine.Flush()
	if engine.Status() != model.StatusMerchant {
		return fmt.Errorf("marketplace connection settled on %q", engine.Status())
	}

	// Auto-trigger may have started the job already during Initialize.
	if !imp.TriggerImport(ctx) && !imp.InProgress() {
		return fmt.Errorf("import rejected")
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for imp.InProgress() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			imp.Update(ctx)
		}
	}

	mu.Lock()
	code := model.ImportCode(last)
	mu.Unlock()
	fmt.Printf("import finished (code %d, %s)\n", int(code), code)
	if code != model.ImportDone {
		return fmt.Errorf("import ended with code %d (%s)", int(code), code)
	}
	return nil
}

// runDaemon runs the periodic import poll and listings refresh until the
// process is signalled.
func runDaemon(ctx context.Context, engine *market.Engine, imp *importer.Importer, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("daemon starting",
		"poll_interval", cfg.PollInterval,
		"refresh_interval", cfg.RefreshInterval,
	)

	imp.Initialize(ctx)
	engine.RefreshListings(ctx)

	pollTicker := time.NewTicker(cfg.PollInterval)
	defer pollTicker.Stop()
	refreshTicker := time.NewTicker(cfg.RefreshInterval)
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			engine.Flush()
			logger.Info("shutdown complete")
			return nil
		case <-pollTicker.C:
			imp.Update(ctx)
		case <-refreshTicker.C:
			engine.RefreshListings(ctx)
		}
	}
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
