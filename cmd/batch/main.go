// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package main is the batch driver: a CLI over the orchestrator, the
// operator-facing half of the system.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/ahmed-machine/howfar/fleet"
	"github.com/ahmed-machine/howfar/internal/config"
	"github.com/ahmed-machine/howfar/isochrone"
	"github.com/ahmed-machine/howfar/orchestrator"
	"github.com/ahmed-machine/howfar/routingclient"
	"github.com/ahmed-machine/howfar/store"
)

var log = logrus.StandardLogger()

// argOrFlag returns c.Args().Get(i) when present, falling back to the
// same-named global flag otherwise. This lets `batch run transit
// 10:00:00 weekday 1` and `batch run --mode transit --departure
// 10:00:00 --day-type weekday` both work.
func argOrFlag(c *cli.Context, i int, flagName string) string {
	if v := c.Args().Get(i); v != "" {
		return v
	}
	return c.GlobalString(flagName)
}

// mustCacheKey builds a CacheKey from positional arguments
// [mode] [time] [day-type], falling back to the --mode/--departure/
// --day-type global flags for any that are absent.
func mustCacheKey(c *cli.Context) isochrone.CacheKey {
	key := isochrone.CacheKey{
		Mode:      isochrone.Mode(argOrFlag(c, 0, "mode")),
		Departure: argOrFlag(c, 1, "departure"),
		DayType:   isochrone.DayType(argOrFlag(c, 2, "day-type")),
	}
	if err := key.Validate(); err != nil {
		log.WithError(err).Fatal("invalid cache key")
	}
	return key
}

func openStore(cfg *config.Config) *store.Store {
	s, err := store.New(cfg.DatabaseURL, store.WithStaleHorizon(cfg.StaleHorizon))
	if err != nil {
		log.WithError(err).Fatal("opening store")
	}
	return s
}

var runCommand = cli.Command{
	Name:  "run",
	Usage: "run one batch of pending origins against the routing worker fleet",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "limit", Usage: "maximum origins to process (0 = config default)"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			log.WithError(err).Fatal("loading config")
		}
		s := openStore(cfg)
		defer s.Close()

		f, err := fleet.New(cfg.WorkerURLs)
		if err != nil {
			log.WithError(err).Fatal("building fleet directory")
		}
		r := routingclient.New(cfg.WorkerTimeout)

		ctx := context.Background()
		if err := orchestrator.WaitForFleet(ctx, f, nil, cfg.FleetWaitTries, cfg.WorkerTimeout); err != nil {
			log.WithError(err).Fatal("worker fleet never became healthy")
		}

		parallelism := cfg.BatchParallelism
		if v := c.Args().Get(3); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				parallelism = n
			}
		}

		o := orchestrator.New(s, f, r,
			orchestrator.WithLogger(log),
			orchestrator.WithConcurrency(parallelism),
			orchestrator.WithCutoffs(cfg.CutoffMinutes),
			orchestrator.WithRegions(cfg.RegionPriority))

		limit := c.Int("limit")
		if limit <= 0 {
			limit = cfg.BatchLimit
		}

		summary, err := o.RunBatch(ctx, mustCacheKey(c), limit)
		if err != nil {
			log.WithError(err).Fatal("batch run failed")
		}

		log.WithFields(logrus.Fields{
			"total": summary.Total, "succeeded": summary.Succeeded, "failed": summary.Failed,
		}).Info("batch run complete")
		for _, f := range summary.Failures {
			log.WithFields(logrus.Fields{"origin_id": f.OriginID, "reason": f.Reason}).Warn("origin failed")
		}
		return nil
	},
}

var statusCommand = cli.Command{
	Name:  "status",
	Usage: "print cache-wide progress counters",
	Action: func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			log.WithError(err).Fatal("loading config")
		}
		s := openStore(cfg)
		defer s.Close()

		stats, err := s.Stats(context.Background())
		if err != nil {
			log.WithError(err).Fatal("fetching stats")
		}
		fmt.Printf("total origins: %d\n", stats.TotalOrigins)
		for mode, ms := range stats.ModeStats {
			fmt.Printf("  %s: %+v\n", mode, ms)
		}
		for status, n := range stats.StatusCounts {
			fmt.Printf("  %s: %d\n", status, n)
		}
		return nil
	},
}

var retryCommand = cli.Command{
	Name:  "retry",
	Usage: "reset every failed origin under a cache key back to pending",
	Action: func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			log.WithError(err).Fatal("loading config")
		}
		s := openStore(cfg)
		defer s.Close()

		o := orchestrator.New(s, noopFleet{}, noopRouting{}, orchestrator.WithLogger(log), orchestrator.WithConcurrency(1))
		n, err := o.RetryFailed(context.Background(), mustCacheKey(c))
		if err != nil {
			log.WithError(err).Fatal("resetting failed origins")
		}
		fmt.Printf("reset %d origin(s) to pending\n", n)
		return nil
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "howfar-batch"
	app.Usage = "compute and manage NYC tri-state travel-time isochrones"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "mode", Value: string(isochrone.ModeTransit), Usage: "travel mode"},
		cli.StringFlag{Name: "departure", Value: "10:00:00", Usage: "departure time of day, HH:MM:SS"},
		cli.StringFlag{Name: "day-type", Value: string(isochrone.DayWeekday), Usage: "weekday, saturday or sunday"},
	}
	app.Commands = []cli.Command{runCommand, statusCommand, retryCommand}
	app.Before = func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		log.SetLevel(level)
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("howfar-batch")
	}
}

// noopFleet/noopRouting satisfy orchestrator.New's fleet/routing
// parameters for the retry command, which never dispatches work.
type noopFleet struct{}

func (noopFleet) Size() int                           { return 1 }
func (noopFleet) Worker(i int) string                 { return "" }
func (noopFleet) HealthCheck(ctx context.Context) bool { return true }

type noopRouting struct{}

func (noopRouting) ComputeIsochrones(ctx context.Context, workerBaseURL string, origin isochrone.Origin, key isochrone.CacheKey, cutoffs []int) (map[int]orb.Geometry, error) {
	return nil, nil
}
