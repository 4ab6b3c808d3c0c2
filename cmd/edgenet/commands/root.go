// Package commands implements the CLI for the edgenet device client.
package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/edgenet/edgenet/internal/logger"
	"github.com/edgenet/edgenet/pkg/client"
	"github.com/edgenet/edgenet/pkg/config"
	"github.com/edgenet/edgenet/pkg/transfer"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "edgenet SERVER_IP SERVER_PORT CLIENT_UDP_PORT",
	Short: "edgenet - Edge-device client",
	Long: `edgenet connects a device to the coordination server, logs it in and
runs the interactive command prompt. CLIENT_UDP_PORT is the local port other
devices send files to; it must be between 1024 and 65535.

Examples:
  # Connect to a local server, receiving peer files on port 7001
  edgenet 127.0.0.1 12000 7001`,
	Args:          cobra.ExactArgs(3),
	RunE:          runClient,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the client CLI. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./edgenet.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("edgenet %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	})
}

func runClient(cmd *cobra.Command, args []string) error {
	serverIP := args[0]
	serverPort, err := strconv.Atoi(args[1])
	if err != nil || serverPort < 1 || serverPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be an integer between 1 and 65535, got %q", args[1])
	}
	udpPort, err := strconv.Atoi(args[2])
	if err != nil || udpPort < 1024 || udpPort > 65535 {
		return fmt.Errorf("CLIENT_UDP_PORT must be an integer between 1024 and 65535, got %q", args[2])
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		cancel()
	}()

	// The standing receiver accepts peer file transfers for the whole
	// session, independent of the command prompt.
	receiver, err := transfer.NewReceiver(udpPort, cfg.Client.DownloadDir)
	if err != nil {
		return fmt.Errorf("failed to open UDP receiver on port %d: %w", udpPort, err)
	}
	receiver.OnFileReceived = func(sender, path string, size int) {
		fmt.Printf("Received file from %s: %s (%d bytes)\n", sender, path, size)
	}
	receiver.Start()
	defer receiver.Close()

	c := client.New(client.Config{
		ServerAddress: net.JoinHostPort(serverIP, args[1]),
		UDPPort:       udpPort,
		PacketSize:    cfg.Client.PacketSize,
		PacingDelay:   cfg.Client.PacingDelay,
	}, client.InteractivePrompter{}, os.Stdout)

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	return c.Run(ctx)
}
