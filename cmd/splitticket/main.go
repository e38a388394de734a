package main

import (
	"os"

	"github.com/passbi/splitticket/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	config.SetupLogging()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:        "splitticket",
		Usage:       "Find the cheapest combination of tickets for a rail journey",
		Description: "Prices every sub-route of an itinerary and checks whether buying several tickets beats the direct fare",

		Commands: []*cli.Command{
			analyseCommand(),
			showCommand(),
			migrateCommand(),
			cacheCommand(),
		},
	}
}
