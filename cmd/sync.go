package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/forumsync/internal/config"
	"github.com/forumsync/internal/discord"
	"github.com/forumsync/internal/reconcile"
	"github.com/forumsync/internal/tracking"
)

// SyncCommand returns the sync command
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run a single reconciliation cycle and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Sync only the named workspace",
			},
			&cli.BoolFlag{
				Name:  "full",
				Usage: "Sync every workspace, including those with polling disabled",
			},
			&cli.BoolFlag{
				Name:  "repair-tags",
				Usage: "Re-apply status and label tags to every tracked thread",
			},
			&cli.StringFlag{
				Name:  "clear",
				Usage: "Forget tracked state before syncing: snapshot, hashes, or all",
			},
		},
		Action: runSync,
	}
}

func runSync(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	kv, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	var targets []config.Workspace
	switch name := c.String("workspace"); {
	case name != "":
		ws, ok := cfg.Workspace(name)
		if !ok {
			return fmt.Errorf("unknown workspace: %s", name)
		}
		targets = []config.Workspace{ws}
	case c.Bool("full"):
		targets = cfg.Workspaces
	default:
		for _, ws := range cfg.Workspaces {
			if ws.PollEnabled {
				targets = append(targets, ws)
			}
		}
	}

	if what := c.String("clear"); what != "" {
		for _, ws := range targets {
			if err := tracking.NewRepository(kv, ws.Name).Clear(what); err != nil {
				return err
			}
			fmt.Printf("Cleared %s state for workspace %s\n", what, ws.Name)
		}
	}

	dc := discord.NewRESTClient(cfg.Discord.Token, cfg.Discord.GuildID)
	svc := reconcile.NewService(cfg, kv, dc)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	for _, ws := range targets {
		if c.Bool("repair-tags") {
			if err := svc.RepairTags(ctx, ws); err != nil {
				return fmt.Errorf("tag repair failed for %s: %w", ws.Name, err)
			}
			continue
		}
		if err := svc.SyncWorkspace(ctx, ws); err != nil {
			return fmt.Errorf("sync failed for %s: %w", ws.Name, err)
		}
	}
	return nil
}
