package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/waveflow/waveflow/config"
	"github.com/waveflow/waveflow/pkg/activity"
	"github.com/waveflow/waveflow/pkg/api"
	"github.com/waveflow/waveflow/pkg/api/handlers"
	"github.com/waveflow/waveflow/pkg/engine"
	"github.com/waveflow/waveflow/pkg/fulfillment"
	"github.com/waveflow/waveflow/pkg/logger"
	"github.com/waveflow/waveflow/pkg/metrics"
	"github.com/waveflow/waveflow/pkg/services"
	"github.com/waveflow/waveflow/pkg/telemetry/tracing"
	"github.com/waveflow/waveflow/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	// Print help
	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	// Print version
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	// Build CLI overrides map
	overrides := buildOverrides()

	// Load configuration
	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	// Initialize logger with configuration
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting Waveflow",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)

	log.Debug("Configuration loaded", "config", cfg.String())

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize tracing
	tracingShutdown, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Initialize history store
	var store engine.Store
	switch cfg.Storage.Type {
	case "badger":
		store, err = engine.OpenBadgerStore(cfg.Storage.Badger.Path, engine.BadgerStoreOptions{
			WriteMode: engine.WriteMode(cfg.Storage.Badger.WriteMode),
		})
		if err != nil {
			log.Error("Failed to open Badger store", "error", err)
			os.Exit(1)
		}
		log.Info("Initialized Badger store", "path", cfg.Storage.Badger.Path, "write_mode", cfg.Storage.Badger.WriteMode)
	default:
		store = engine.NewMemoryStore()
		log.Info("Initialized memory store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing store", "error", err)
		}
	}()

	// Initialize metrics manager
	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	metricsManager := metrics.NewManager(metricsCfg)

	// Start metrics server if enabled
	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	// Register fulfillment service activities on the executor.
	executor := activity.NewExecutor(
		activity.WithLogger(log),
		activity.WithMetrics(metricsManager),
	)
	serviceSet := services.NewSet()
	if err := serviceSet.Register(executor); err != nil {
		log.Error("Failed to register service activities", "error", err)
		os.Exit(1)
	}

	// Create the engine and register fulfillment workflows.
	eng := engine.New(store, executor,
		engine.WithLogger(log),
		engine.WithMetrics(metricsManager),
	)
	if err := fulfillment.Register(eng); err != nil {
		log.Error("Failed to register workflows", "error", err)
		os.Exit(1)
	}

	// Resume unfinished executions from stored history.
	if cfg.Engine.RecoverOnStart {
		resumed, err := eng.Recover(ctx)
		if err != nil {
			log.Error("Recovery failed", "error", err)
			os.Exit(1)
		}
		if resumed > 0 {
			log.Info("Recovered executions", "count", resumed)
		}
	}

	// Initialize HTTP server with handlers
	executionHandler := handlers.NewExecutionHandler(eng, log)
	healthHandler := handlers.NewHealthHandler(eng)

	apiHandlers := &api.Handlers{
		Execution: executionHandler,
		Health:    healthHandler,
	}
	if metricsManager.Enabled() {
		apiHandlers.Metrics = metricsManager
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	// Start HTTP server in a separate goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("Waveflow is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
	)
	log.Info("Press Ctrl+C to stop")

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server first so no new work arrives.
	log.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}

	// Stop the engine gracefully.
	log.Info("Stopping engine")
	if err := eng.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during engine shutdown", "error", err)
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
	}

	log.Info("Waveflow stopped gracefully")
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("Waveflow - Durable Fulfillment Orchestration Engine\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("Waveflow - Durable workflow orchestration for order fulfillment\n\n")
	fmt.Printf("Usage: waveflowd [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  waveflowd                                  # Run with default config\n")
	fmt.Printf("  waveflowd -config config.yaml              # Use specific config file\n")
	fmt.Printf("  waveflowd -port 9090 -log-level debug      # Override specific options\n")
	fmt.Printf("  waveflowd -version                         # Print version info\n")
}
