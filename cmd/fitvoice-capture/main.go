package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fitpulse/fitvoice/internal/bus"
	"github.com/fitpulse/fitvoice/internal/capture"
	"github.com/fitpulse/fitvoice/internal/config"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "fitvoice.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	busClient, err := bus.Connect(cfg.Bus, logger)
	if err != nil {
		logger.Error("failed to connect to bus", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer busClient.Close()

	mic := capture.NewMicrophone(cfg.Capture, cfg.Device.ID, busClient, logger)
	if err := mic.Start(); err != nil {
		logger.Error("failed to start microphone", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer mic.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mic.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("capture loop failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("capture stopped")
}
