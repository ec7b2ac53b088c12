package main

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/summarizer/internal/api"
	"github.com/samcharles93/summarizer/internal/logger"
	"github.com/samcharles93/summarizer/internal/metrics"
	"github.com/samcharles93/summarizer/internal/service"
	"github.com/samcharles93/summarizer/internal/summarizer"
	"github.com/samcharles93/summarizer/internal/tensor"
	"github.com/samcharles93/summarizer/internal/version"
)

type serveFlags struct {
	addr            string
	readTimeout     time.Duration
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	rateLimit       float64
	rateBurst       int
	useToy          bool
}

func serveCmd() *cli.Command {
	var sf serveFlags

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the summarization REST API",
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Sources:     env("ADDR"),
				Destination: &sf.addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &sf.readTimeout,
			},
			&cli.DurationFlag{
				Name:        "request-timeout",
				Usage:       "max time a request waits for a busy model session (0 = no limit)",
				Destination: &sf.requestTimeout,
			},
			&cli.DurationFlag{
				Name:        "shutdown-timeout",
				Usage:       "time allowed for in-flight requests to finish on shutdown",
				Value:       30 * time.Second,
				Destination: &sf.shutdownTimeout,
			},
			&cli.Float64Flag{
				Name:        "rate-limit",
				Usage:       "summarize requests per second (0 = unlimited)",
				Sources:     env("RATE_LIMIT"),
				Destination: &sf.rateLimit,
			},
			&cli.IntFlag{
				Name:        "rate-burst",
				Usage:       "rate limiter burst size",
				Destination: &sf.rateBurst,
			},
			&cli.BoolFlag{
				Name:        "toy",
				Usage:       "serve the built-in toy pipeline instead of model artifacts",
				Destination: &sf.useToy,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFromContext(ctx)
			applyModelConfig(cmd, cfg)
			applyServeConfig(cmd, cfg, &sf)

			rec := metrics.New(prometheus.DefaultRegisterer)
			tracker := tensor.NewTracker(rec.SetLiveTensors)
			svc := service.New(func(ctx context.Context) (*summarizer.Summarizer, error) {
				return buildSummarizer(ctx, sf.useToy, log, tracker, rec)
			}, log)
			if err := svc.Start(ctx); err != nil {
				return err
			}

			server := api.NewServer(svc, api.Config{
				RequestTimeout: sf.requestTimeout,
				RateLimit:      sf.rateLimit,
				RateBurst:      sf.rateBurst,
				Metrics:        metrics.Handler(prometheus.DefaultGatherer),
				Version:        version.String(),
				Logger:         log,
			})
			e := api.NewEcho(server)
			log.Info("starting server", "address", sf.addr)
			serveErr := api.Serve(ctx, e, sf.addr, sf.readTimeout)

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sf.shutdownTimeout)
			defer cancel()
			log.Info("shutting down", "timeout", sf.shutdownTimeout)
			return errors.Join(serveErr, svc.Shutdown(shutdownCtx))
		},
	}
}
