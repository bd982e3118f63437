// Command gateway runs the conversational inference gateway: it loads
// configuration from the environment, wires every collaborator via
// gatewayserver.Supervisor, and serves websocket connections until the
// process receives an interrupt or termination signal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/jgtux/convogateway/internal/config"
	"github.com/jgtux/convogateway/internal/gatewayserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Missing LLM_API_KEY or any other malformed environment is a
		// StartupConfig failure (§7): fatal, no reply policy applies
		// because there is no connection yet to reply on.
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	config.InitLogger(cfg.Log.Level, cfg.Log.Format)
	logger := config.NewLogger("main")

	supervisor := gatewayserver.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := supervisor.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("gateway exited with error")
	}

	logger.Info().Msg("gateway stopped")
	os.Exit(0)
}
