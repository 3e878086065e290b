package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dnsveil/internal/capture"
	"dnsveil/internal/config"
	"dnsveil/internal/relay"
)

// defaultConfigPath resolves config.toml next to the executable, falling
// back to the working directory.
func defaultConfigPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(filepath.Dir(exe), "config.toml")
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", defaultConfigPath(), "Path to the TOML configuration file")
	flag.StringVar(&configPath, "c", defaultConfigPath(), "Path to the TOML configuration file (shorthand)")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load configuration")
	}
	zerolog.SetGlobalLevel(cfg.ZerologLevel())

	sink, err := capture.New(cfg.Capture.Enabled, cfg.Capture.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare capture directories")
	}

	sup, err := relay.New(cfg, sink)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build relay pipeline")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("mode", string(cfg.Mode)).
		Str("client", cfg.Client.Endpoint).Int("client_port", cfg.Client.Port).
		Str("server", cfg.Server.Endpoint).Int("server_port", cfg.Server.Port).
		Msg("Starting dnsveil relay")

	if err := sup.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Relay pipeline failed")
	}

	if deleted := sink.Cleanup(); deleted > 0 {
		log.Info().Int("count", deleted).Msg("Deleted binary capture files")
	}
}
