// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vibeterm/vibeproxy/pkg/config"
	"github.com/vibeterm/vibeproxy/pkg/server"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "vibeproxy: %v\n\nusage: vibeproxy (--auto-ssl --domain <D> --email <E> | --cert <path> --key <path> | --no-ssl) [--port N] [--upstream-port N] [--watch-certs]\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("mode", modeName(cfg.Mode)).
		Int("port", cfg.Port).
		Int("upstream_port", cfg.UpstreamPort).
		Msg("starting vibeproxy")

	if err := server.Run(cfg); err != nil {
		log.Fatal().Err(err).Msg("vibeproxy exited with an error")
	}

	log.Info().Msg("vibeproxy stopped")
}

func modeName(m config.Mode) string {
	switch m {
	case config.ModeAutoTLS:
		return "auto-ssl"
	case config.ModeManualTLS:
		return "manual-tls"
	case config.ModeNoTLS:
		return "no-ssl"
	default:
		return "unknown"
	}
}
