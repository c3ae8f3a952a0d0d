package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cachegate/cachegate/internal/api"
	"github.com/cachegate/cachegate/internal/config"
	"github.com/cachegate/cachegate/internal/database"
	"github.com/cachegate/cachegate/internal/logging"
	"github.com/cachegate/cachegate/internal/ratelimit"
	"github.com/cachegate/cachegate/internal/server"
)

const (
	// DefaultDatabasePath is the default location for the cachegate database.
	DefaultDatabasePath = "cachegate.db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	dbPath      string
	host        string
	port        int
	workers     int
	enablePurge bool
	jsonLogs    bool
	debug       bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.dbPath, "db", DefaultDatabasePath, "Path to SQLite database file")
	flag.StringVar(&f.host, "host", "", "Override proxy bind host")
	flag.IntVar(&f.port, "port", 0, "Override proxy bind port")
	flag.IntVar(&f.workers, "workers", -1, "Clamp GOMAXPROCS (can only reduce; -1 means default/auto)")
	flag.BoolVar(&f.enablePurge, "enable-purge", false, "Allow PURGE requests to evict cached entries")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

// applyCLIOverrides applies command-line overrides to the config.
func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.workers >= 0 {
		cfg.Server.Workers.Mode = config.WorkersFixed
		cfg.Server.Workers.Value = f.workers
	}
	if f.enablePurge {
		cfg.Reply.EnablePurge = true
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	db, err := database.Open(flags.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	cfg, err := db.ExportToConfig(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load config from database: %w", err)
	}

	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("cachegate starting",
		"database", flags.dbPath,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"workers", cfg.Server.Workers.String(),
		"enable_purge", cfg.Reply.EnablePurge,
	)
	logger.Info("rate limits", "effective", ratelimit.Summary(cfg.RateLimit))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Build one filtering policy engine, shared between the reply path's
	// ACL check and the admin API's filtering endpoints.
	policy := server.BuildPolicyEngine(cfg, logger)

	runner := server.NewRunner(logger)
	runner.SetPolicyEngine(policy)
	if err := runner.Prepare(cfg); err != nil {
		return fmt.Errorf("failed to prepare proxy pipeline: %w", err)
	}

	apiSrv := api.New(cfg, db, logger)
	apiSrv.SetPolicyEngine(policy)
	apiSrv.SetDriver(runner.Driver())

	logger.Info("admin API starting", "addr", apiSrv.Addr())

	go func() {
		serveErr := apiSrv.ListenAndServe()
		if serveErr == nil || errors.Is(serveErr, http.ErrServerClosed) {
			return
		}
		logger.Error("admin API error", "err", serveErr)
		cancel()
	}()

	err = runner.RunWithContext(ctx, cfg)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = apiSrv.Shutdown(shutdownCtx)
	shutdownCancel()
	logger.Info("admin API stopped")

	if err != nil {
		return fmt.Errorf("proxy exited with error: %w", err)
	}
	return nil
}
