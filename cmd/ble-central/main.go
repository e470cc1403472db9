package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codefionn/go-ble-central/internal/config"
	"github.com/codefionn/go-ble-central/internal/logger"
	"github.com/codefionn/go-ble-central/internal/server"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	rootCmd := &cobra.Command{
		Use:     "ble-central",
		Short:   "BLE central gateway - WebSocket-based Bluetooth Low Energy central manager",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(ctx, cmd)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default is $HOME/.ble_central/config.yaml)")
	rootCmd.PersistentFlags().String("env-file", "", "env file to load environment variables from (e.g., .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")

	// Server specific flags
	rootCmd.Flags().IntP("port", "p", 5680, "WebSocket server port")
	rootCmd.Flags().StringSliceP("listen", "l", []string{}, "Listen addresses (default: all interfaces)")
	rootCmd.Flags().String("storage-path", "", "Storage path for persistent data (default: $PWD/.ble_central)")
	rootCmd.Flags().Duration("connect-timeout", 10*time.Second, "Timeout for connection attempts")
	rootCmd.Flags().Bool("allow-duplicates", false, "Report repeated advertisements from known peripherals during a scan")
	rootCmd.Flags().StringSlice("service-filter", []string{}, "Service UUIDs to filter scan results by")
	rootCmd.Flags().String("radio-backend", config.RadioBackendSim, "Radio backend (sim, tinygo)")
	rootCmd.Flags().Bool("mdns-enabled", true, "Enable mDNS service advertisement")
	rootCmd.Flags().String("mdns-hostname", "", "Hostname to advertise via mDNS (default: system hostname)")

	return rootCmd.ExecuteContext(ctx)
}

func runServer(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := setupLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	srv, err := server.New(cfg, log, nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Run(ctx)
}

func setupLogger(levelStr, formatStr string) (*logger.Logger, error) {
	level, err := logger.ParseLogLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var format logger.LogFormat
	switch formatStr {
	case "console":
		format = logger.ConsoleFormat
	case "json":
		format = logger.JSONFormat
	default:
		return nil, fmt.Errorf("invalid log format: %s", formatStr)
	}

	return logger.New(logger.Config{
		Level:     level,
		Format:    format,
		UseColors: format == logger.ConsoleFormat,
	}), nil
}
