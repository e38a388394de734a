package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/passbi/splitticket/internal/analysis"
	"github.com/passbi/splitticket/internal/cache"
	"github.com/passbi/splitticket/internal/config"
	"github.com/passbi/splitticket/internal/db"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a stored analysis",
		ArgsUsage: "ID",
		Action: func(c *cli.Context) error {
			id, err := uuid.Parse(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid analysis id %q", c.Args().First())
			}

			pool, err := db.GetDB()
			if err != nil {
				return err
			}
			defer db.Close()

			stored, err := db.NewAnalysisRepository(pool).Get(c.Context, id.String())
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("analysis %s not found", id)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "Analysis %s from %s\n\n", stored.ID, stored.CreatedAt.Format("2006-01-02 15:04"))
			analysis.Summarize(stored).Print(c.App.Writer)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the analysis history table",
		Action: func(c *cli.Context) error {
			pool, err := db.GetDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.NewAnalysisRepository(pool).EnsureSchema(c.Context); err != nil {
				return err
			}

			log.Info().Msg("Analysis history schema is up to date")
			return nil
		},
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the shared quote cache",
		Subcommands: []*cli.Command{
			{
				Name:  "clear",
				Usage: "remove every cached quote from Redis",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return err
					}

					rdb, err := cache.GetClient(c.Context, cfg.Redis)
					if err != nil {
						return err
					}
					defer cache.Close()

					if err := cache.NewRedisStore(rdb, cfg.Cache.TTL).Clear(c.Context); err != nil {
						return err
					}

					log.Info().Str("addr", cfg.Redis.Addr()).Msg("Quote cache cleared")
					return nil
				},
			},
		},
	}
}
