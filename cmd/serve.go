package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/forumsync/internal/discord"
	"github.com/forumsync/internal/events"
	"github.com/forumsync/internal/reconcile"
	"github.com/forumsync/internal/scheduler"
)

// ServeCommand returns the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the sync daemon: periodic reconciliation plus the gateway listener",
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	kv, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	dc := discord.NewRESTClient(cfg.Discord.Token, cfg.Discord.GuildID)
	svc := reconcile.NewService(cfg, kv, dc)

	// The event handler shares the service's mutating set so gateway
	// echoes of our own writes are dropped.
	handler := events.NewHandler(cfg, kv, dc, svc.Mutating)
	gateway := discord.NewGateway(cfg.Discord.Token, handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := gateway.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("gateway stopped")
		}
	}()

	sched := scheduler.New(cfg, svc)
	sched.Start()
	log.Info().Int("workspaces", len(cfg.Workspaces)).Msg("forumsync daemon started")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	sched.Stop()
	return nil
}
