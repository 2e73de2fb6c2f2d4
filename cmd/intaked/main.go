// Command intaked serves the onboarding questionnaire API.
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

	"intake/pkg/address"
	"intake/pkg/config"
	"intake/pkg/fiscalcode"
	"intake/pkg/formstate"
	"intake/pkg/httpapi"
	"intake/pkg/logx"
	"intake/pkg/metrics"
	"intake/pkg/schema"
	"intake/pkg/steps"
	"intake/pkg/store"
	"intake/pkg/submit"
	"intake/pkg/validate"
	"intake/pkg/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	var listenAddr string
	var secretsPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "intake.json", "path to the configuration file")
	flag.StringVar(&listenAddr, "addr", "", "listen address override")
	flag.StringVar(&secretsPath, "secrets", "", "path to the encrypted secrets file")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("intaked %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	logger := logx.NewLogger("intaked")

	if err := run(logger, configPath, listenAddr, secretsPath); err != nil {
		logger.Error("Fatal: %v", err)
		os.Exit(1)
	}
}

func run(logger *logx.Logger, configPath, listenAddr, secretsPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if cfg.PlacesAPIKey == "" {
		cfg.PlacesAPIKey = config.LoadPlacesAPIKey(secretsPath, os.Getenv("INTAKE_SECRETS_PASSWORD"))
	}

	registry, err := schema.Load()
	if err != nil {
		return fmt.Errorf("failed to load step registry: %w", err)
	}

	// Open the durable store; probe failure degrades to in-memory only,
	// the questionnaire keeps working for this process's lifetime.
	var recorder metrics.Recorder = metrics.Nop()
	if cfg.MetricsEnabled {
		recorder = metrics.NewPrometheusRecorder()
	}

	var kv store.KV
	sqliteKV, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Warn("Could not open store at %s, running in-memory only: %v", cfg.DBPath, err)
		recorder.IncStorageError("open")
		kv = store.NewMemory()
	} else {
		sqliteKV.SetRecorder(recorder)
		kv = sqliteKV
		defer func() { _ = sqliteKV.Close() }()
	}
	if !kv.Probe() {
		recorder.IncStorageError("probe")
		logger.Warn("Persistent store probe failed, session data will not survive restarts")
	}

	form := formstate.NewManager(kv)
	if form.LoadState() {
		logger.Info("Restored existing session at step %d", form.GetCurrentStep())
	}

	engine := validate.NewEngine(registry)
	controller := steps.NewController(registry, form, engine, recorder)

	var deliverer submit.Deliverer = submit.Disabled{}
	if cfg.Endpoint != "" {
		deliverer = submit.NewHTTPDeliverer(cfg.Endpoint)
	} else {
		logger.Warn("No delivery endpoint configured, submissions will fail")
	}

	coordinator := submit.NewCoordinator(form, registry, kv, deliverer, recorder, submit.Options{
		MaxAttempts:    cfg.MaxRetryAttempts,
		BackoffBase:    cfg.BackoffBase(),
		LockoutWindow:  cfg.LockoutWindow(),
		TickerInterval: cfg.TickerInterval(),
	})

	var verifier fiscalcode.Verifier = fiscalcode.NewChecker()

	var places address.Provider = address.Unconfigured{}
	if cfg.AddressEnabled() {
		places = address.NewGoogle(cfg.PlacesAPIKey)
		logger.Info("Address lookup enabled")
	}

	api := httpapi.NewServer(registry, form, engine, controller, coordinator, verifier, places, kv, recorder)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("intaked %s listening on %s", version.Version, cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}
