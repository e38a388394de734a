package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/passbi/splitticket/internal/analysis"
	"github.com/passbi/splitticket/internal/config"
	"github.com/passbi/splitticket/internal/discount"
	"github.com/passbi/splitticket/internal/engine"
	"github.com/passbi/splitticket/internal/itinerary"
	"github.com/passbi/splitticket/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func analyseCommand() *cli.Command {
	return &cli.Command{
		Name:    "analyse",
		Aliases: []string{"analyze"},
		Usage:   "Analyse an itinerary file for split-ticket savings",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "itinerary",
				Aliases:  []string{"i"},
				Usage:    "itinerary YAML file",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "age",
				Usage: "traveler age",
			},
			&cli.StringFlag{
				Name:  "discount-card",
				Usage: "discount card (BC25_1, BC25_2, BC50_1, BC50_2)",
			},
			&cli.BoolFlag{
				Name:  "transit-pass",
				Usage: "traveler holds a transit pass (Deutschlandticket)",
			},
			&cli.Float64Flag{
				Name:  "direct-price",
				Usage: "direct ticket price in euros, looked up when omitted",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "concurrent segment requests",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print the result as JSON",
			},
		},
		Action: runAnalyse,
	}
}

func runAnalyse(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.IsSet("workers") {
		cfg.MatrixWorkers = c.Int("workers")
	}

	it, err := itinerary.Load(c.String("itinerary"), cfg.DefaultTraveler)
	if err != nil {
		return err
	}
	if err := applyTravelerFlags(c, it); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := engine.New(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	progress := func(processed, total int) {
		fmt.Fprintf(c.App.ErrWriter, "\rPriced %d/%d segments", processed, total)
		if processed == total {
			fmt.Fprintln(c.App.ErrWriter)
		}
	}

	result, err := e.Service.Run(ctx, analysis.Request{
		Stops:       it.Stops,
		TravelDate:  it.TravelDate,
		Traveler:    it.Traveler,
		DirectPrice: it.DirectPrice,
	}, progress)
	if err != nil {
		return err
	}

	if e.History != nil {
		if err := e.History.Save(context.WithoutCancel(ctx), result); err != nil {
			log.Warn().Err(err).Msg("Failed to save analysis")
		}
	}

	log.Debug().
		Interface("pricing", e.Client.Stats()).
		Interface("cache", e.Store.Stats()).
		Msg("Client statistics")

	summary := analysis.Summarize(result)
	if c.Bool("json") {
		encoder := json.NewEncoder(c.App.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	}

	summary.Print(c.App.Writer)
	return nil
}

func applyTravelerFlags(c *cli.Context, it *itinerary.Itinerary) error {
	if c.IsSet("age") {
		if c.Int("age") < 0 {
			return fmt.Errorf("age must not be negative")
		}
		it.Traveler.Age = c.Int("age")
	}
	if c.IsSet("discount-card") {
		card, err := discount.ParseDiscountCard(c.String("discount-card"))
		if err != nil {
			return err
		}
		it.Traveler.DiscountCard = card
	}
	if c.IsSet("transit-pass") {
		it.Traveler.HasTransitPass = c.Bool("transit-pass")
	}
	if c.IsSet("direct-price") {
		if c.Float64("direct-price") < 0 {
			return fmt.Errorf("direct price must not be negative")
		}
		price := models.CentsFromEuros(c.Float64("direct-price"))
		it.DirectPrice = &price
	}
	return nil
}
