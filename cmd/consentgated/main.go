// Command consentgated is the consent engine daemon: HTTP service, config
// hot-reload, and one-shot gating/inspection modes.
//
// Usage:
//
//	consentgated -config consentgate.yaml          # daemon with config file
//	consentgated -db consent.db -listen :8480      # daemon with defaults
//	consentgated -db consent.db -gate page.html    # gate a file and exit
//	consentgated -db consent.db -state             # print the record and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/consentgate/config"
	"github.com/hazyhaar/consentgate/consent"
	"github.com/hazyhaar/consentgate/gate"
	"github.com/hazyhaar/consentgate/reload"
	"github.com/hazyhaar/consentgate/serve"
	sig "github.com/hazyhaar/consentgate/signal"
	"github.com/hazyhaar/consentgate/store"
)

func main() {
	configPath := flag.String("config", "", "path to consentgate.yaml config file")
	dbPath := flag.String("db", "", "path to SQLite database (overrides config)")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	gateFile := flag.String("gate", "", "gate an HTML file against the current record and exit")
	showState := flag.Bool("state", false, "print the consent record and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dbPath, *listen, *gateFile, *showState); err != nil {
		logger.Error("consentgated: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, dbPath, listen, gateFile string, showState bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if listen != "" {
		cfg.Listen = listen
	}

	st, db, err := store.OpenSQLite(cfg.DBPath, store.WithStorageKey(cfg.StorageKey))
	if err != nil {
		return err
	}
	defer db.Close()

	dataLayer := sig.NewDataLayer(cfg.Integrations.DataLayerEvent)
	consentMode := sig.NewConsentMode(cfg.Integrations.ConsentMode, logSignalFunc(logger))
	router := sig.NewRouter(logger,
		dataLayer,
		sig.NewBeacon(cfg.Integrations.Beacon, sig.WithBeaconLogger(logger)),
		consentMode,
		sig.NewThirdPartySync(cfg.Integrations.ThirdPartySync, logSyncFunc(logger)),
	)
	defer router.Close()

	eng := consent.New(st,
		consent.WithLogger(logger),
		consent.WithSignals(router),
	)
	eng.Load(ctx)
	eng.SetCategories(ctx, cfg.CategoryConfigs())

	// One-shot: gate a file.
	if gateFile != "" {
		return gateFileOnce(eng, gateFile)
	}

	// One-shot: print the record.
	if showState {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(eng.Snapshot())
	}

	// Daemon mode.
	svc := serve.NewService(eng, cfg,
		serve.WithDataLayer(dataLayer),
		serve.WithLogger(logger),
	)
	consentMode.SetDefaults()

	if configPath != "" {
		watcher := reload.New(reload.FileDigest(configPath), reload.Options{
			Interval: time.Second,
			Debounce: 500 * time.Millisecond,
			Logger:   logger,
		})
		go watcher.OnChange(ctx, func() error {
			next, err := config.Load(configPath)
			if err != nil {
				return err
			}
			eng.SetCategories(ctx, next.CategoryConfigs())
			svc.UpdateConfig(next)
			logger.Info("consentgated: configuration reloaded", "version", next.Version())
			return nil
		})
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("consentgated: listening", "addr", cfg.Listen, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("consentgated: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// gateFileOnce rewrites one HTML file against the current record and prints
// the result to stdout.
func gateFileOnce(eng *consent.Engine, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	defer f.Close()

	rec := eng.Snapshot()
	res, err := gate.GateHTML(f, os.Stdout, rec.Choices)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "enabled=%d disabled=%d\n", res.Enabled, res.Disabled)
	return nil
}

// logSignalFunc emits the Consent Mode command stream on the log. A page
// bridge tails it and forwards to gtag; the daemon itself has no page
// context.
func logSignalFunc(logger *slog.Logger) sig.SignalFunc {
	return func(command string, params map[string]string) {
		logger.Info("consentmode: signal", "command", command, "params", params)
	}
}

// logSyncFunc emits third-party sync calls on the log, one per mapped
// category.
func logSyncFunc(logger *slog.Logger) sig.SyncFunc {
	return func(category, status string) {
		logger.Info("thirdparty: sync", "category", category, "status", status)
	}
}
