package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/edgenet/edgenet/internal/logger"
	"github.com/edgenet/edgenet/pkg/auditlog"
	"github.com/edgenet/edgenet/pkg/config"
	"github.com/edgenet/edgenet/pkg/credentials"
	"github.com/edgenet/edgenet/pkg/datastore"
	"github.com/edgenet/edgenet/pkg/lockout"
	"github.com/edgenet/edgenet/pkg/metrics"
	"github.com/edgenet/edgenet/pkg/registry"
	"github.com/edgenet/edgenet/pkg/server"
)

var startCmd = &cobra.Command{
	Use:   "start [PORT] [MAX_FAIL_ATTEMPTS]",
	Short: "Start the coordination server",
	Long: `Start the coordination server.

The listen port and the failed-attempt threshold can be given as positional
arguments, which override the configuration file. MAX_FAIL_ATTEMPTS must be
an integer between 1 and 5.

Examples:
  # Start with values from the config file
  edgenetd start

  # Start on port 12000 blocking accounts after 3 failures
  edgenetd start 12000 3

  # Use environment variable overrides
  EDGENET_LOGGING_LEVEL=DEBUG edgenetd start 12000 3`,
	Args: cobra.MaximumNArgs(2),
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := applyStartArgs(cfg, args); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if logLevel != "" {
		logger.SetLevel(logLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	creds, err := credentials.NewStore(cfg.Server.CredentialsFile)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	defer func() { _ = creds.Close() }()

	if cfg.Server.WatchCredentials {
		if err := creds.Watch(); err != nil {
			return fmt.Errorf("failed to watch credentials file: %w", err)
		}
		logger.Info("Watching credentials file", "path", cfg.Server.CredentialsFile)
	}

	lockouts := lockout.NewRegistry(cfg.Server.LockoutDuration)
	defer lockouts.Close()

	// Each run starts with a fresh device log. Entries from a previous run
	// describe devices that are no longer connected.
	deviceLog := auditlog.NewRewriteLog(cfg.Server.DeviceLogFile)
	if err := deviceLog.Reset(); err != nil {
		return fmt.Errorf("failed to reset device log: %w", err)
	}
	devices := registry.New(deviceLog)

	payloads, err := datastore.New(cfg.Datastore)
	if err != nil {
		return fmt.Errorf("failed to open datastore: %w", err)
	}
	defer func() { _ = payloads.Close() }()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		m = metrics.NewMetrics(promRegistry)
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port)
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, promRegistry); err != nil {
				logger.Error("Metrics server error", "error", err)
			}
		}()
		logger.Info("Metrics enabled", "address", metricsAddr)
	}

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		MaxFailAttempts: cfg.Server.MaxFailAttempts,
		MaxConnections:  cfg.Server.MaxConnections,
	}, server.Deps{
		Credentials: creds,
		Lockouts:    lockouts,
		Devices:     devices,
		Payloads:    payloads,
		DeletionLog: auditlog.NewAppendLog(cfg.Server.DeletionLogFile),
		UploadLog:   auditlog.NewAppendLog(cfg.Server.UploadLogFile),
		Metrics:     m,
	})

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("Server stopped gracefully")
	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			return err
		}
		logger.Info("Server stopped")
	}
	return nil
}

// applyStartArgs overrides the configured port and failure threshold with the
// positional arguments.
func applyStartArgs(cfg *config.Config, args []string) error {
	if len(args) >= 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("SERVER_PORT must be an integer between 0 and 65535, got %q", args[0])
		}
		cfg.Server.Port = port
	}
	if len(args) >= 2 {
		attempts, err := strconv.Atoi(args[1])
		if err != nil || attempts < 1 || attempts > 5 {
			return fmt.Errorf("NUM_CONSECUTIVE_FAIL_ATTEMPTS must be between 1 and 5 (inclusive), got %q", args[1])
		}
		cfg.Server.MaxFailAttempts = attempts
	}
	return config.Validate(cfg)
}
