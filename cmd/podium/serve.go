package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/podium/internal/config"
	"github.com/haasonsaas/podium/internal/document"
	"github.com/haasonsaas/podium/internal/session"
	"github.com/haasonsaas/podium/internal/tunnel"
)

type serveOptions struct {
	configPath string
	file       string
	port       int
	pin        string
	maxViewers int
	useTunnel  bool
	logLevel   string
}

func buildServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the presentation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "File to present")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "HTTP port (default 48632)")
	cmd.Flags().StringVar(&opts.pin, "pin", "", "PIN viewers must enter to join")
	cmd.Flags().IntVar(&opts.maxViewers, "max-viewers", 0, "Maximum concurrent viewers")
	cmd.Flags().BoolVar(&opts.useTunnel, "tunnel", false, "Expose the session on a public URL via cloudflared")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if opts.pin != "" {
		cfg.Session.PIN = opts.pin
	}
	if opts.maxViewers != 0 {
		cfg.Session.MaxViewers = opts.maxViewers
	}
	if opts.useTunnel {
		cfg.Tunnel.Enabled = true
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	srv := session.New(cfg, logger)

	if opts.file != "" {
		src, err := document.NewFileSource(opts.file, logger)
		if err != nil {
			return fmt.Errorf("open %s: %w", opts.file, err)
		}
		srv.Present(opts.file, src)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var tun tunnel.Tunnel
	if cfg.Tunnel.Enabled {
		tun = &tunnel.Cloudflared{
			Binary:  cfg.Tunnel.Binary,
			Timeout: cfg.Tunnel.Timeout,
			Logger:  logger,
		}
		go func() {
			url, err := tun.Start(ctx, cfg.Server.Port)
			if err != nil {
				logger.Error("tunnel failed", "error", err)
				return
			}
			fmt.Printf("Public URL: %s\n", url)
		}()
		defer tun.Stop()
	}

	// First signal is a graceful stop, second is immediate.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Info("shutting down")
		cancel()
		<-sigs
		logger.Warn("forcing shutdown")
		srv.EmergencyStop()
		os.Exit(1)
	}()

	fmt.Printf("Podium listening on port %d\n", cfg.Server.Port)
	if cfg.Session.PIN != "" {
		fmt.Printf("Viewer PIN: %s\n", cfg.Session.PIN)
	}
	return srv.Start(ctx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}
