package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ajitpratap0/fluxengine/internal/config"
)

// Process exit codes.
const (
	exitOK            = 0
	exitConfigError   = 2
	exitUnrecoverable = 3
	exitUserInterrupt = 130
)

func main() {
	configPath := flag.String("config", "", "path to the engine's YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fluxengine: config error: %v\n", err)
		os.Exit(exitConfigError)
	}

	logFormat := "json"
	if cfg.App.Environment == "development" {
		logFormat = "console"
	}
	config.InitLogger(cfg.App.LogLevel, logFormat)
	logger := config.NewLogger("engine")

	logger.Info().
		Str("mode", cfg.Mode).
		Strs("symbols", cfg.Symbols).
		Int("exchanges", len(cfg.Exchanges)).
		Msg("starting fluxengine")

	engine, err := NewEngine(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("unrecoverable error constructing engine")
		os.Exit(exitUnrecoverable)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := engine.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	exitCode := exitOK
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		if sig == os.Interrupt {
			exitCode = exitUserInterrupt
		}
	case err := <-errCh:
		logger.Error().Err(err).Msg("engine run error")
		exitCode = exitUnrecoverable
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer shutdownCancel()

	if err := engine.Shutdown(shutdownCtx, cancel); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown did not complete within deadline")
		if exitCode == exitOK {
			exitCode = exitUnrecoverable
		}
	}

	logger.Info().Int("exit_code", exitCode).Msg("fluxengine shutdown complete")
	os.Exit(exitCode)
}
