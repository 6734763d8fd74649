package main

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/tuner/internal/api"
	"github.com/samcharles93/tuner/internal/device"
	"github.com/samcharles93/tuner/internal/logger"
	"github.com/samcharles93/tuner/internal/loss"
)

func serveCmd() *cli.Command {
	var (
		modelDir    string
		addr        string
		devName     string
		useHead     bool
		storeLimit  int
		maxPrompt   int
		readTimeout time.Duration
		sampling    samplingFlags
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve evaluation results over HTTP",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model directory", Required: true, Destination: &modelDir},
			&cli.StringFlag{Name: "addr", Usage: "listen address", Value: ":8080", Destination: &addr},
			&cli.StringFlag{Name: "device", Usage: "device (auto, cpu, cuda)", Destination: &devName},
			&cli.BoolFlag{Name: "use-head", Usage: "answer choice records with the trained head", Destination: &useHead},
			&cli.IntFlag{Name: "store-limit", Usage: "result sets kept for GET", Value: api.DefaultStoreLimit, Destination: &storeLimit},
			&cli.IntFlag{Name: "max-prompt", Usage: "keep only the last N prompt tokens", Value: loss.DefaultMaxLength, Destination: &maxPrompt},
			&cli.DurationFlag{Name: "read-timeout", Usage: "read header timeout", Value: 30 * time.Second, Destination: &readTimeout},
		}, sampling.flags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFromContext(ctx)
			applyServeConfig(cmd, cfg, &addr)
			if cmd.IsSet("device") {
				cfg.Device = devName
			}
			log := logger.FromContext(ctx)

			dev, err := device.Select(cfg.Device)
			if err != nil {
				return err
			}
			runner, err := newRunner(modelDir, dev, maxPrompt, useHead, sampling.options(cmd), log)
			if err != nil {
				return err
			}

			server := api.NewServer(runner, api.NewResultStore(storeLimit),
				api.WithModelName(filepath.Base(filepath.Clean(modelDir))),
				api.WithLogger(log),
			)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
