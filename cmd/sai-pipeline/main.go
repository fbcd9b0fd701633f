package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-pipeline/config"
	"github.com/saiset-co/sai-pipeline/logger"
	"github.com/saiset-co/sai-pipeline/metrics"
	"github.com/saiset-co/sai-pipeline/pipeline"
	"github.com/saiset-co/sai-pipeline/server"
	"github.com/saiset-co/sai-pipeline/types"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to configuration file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "sai-pipeline: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.NewManager(configPath)
	if err != nil {
		return err
	}

	log, err := logger.NewDefaultLogger(cfg.GetConfig().Logger)
	if err != nil {
		return err
	}

	m := metrics.NewPipeline(cfg.GetConfig().Metrics)

	pipe, err := pipeline.New(ctx, cfg, log, m)
	if err != nil {
		return err
	}

	registerRoutes(pipe)

	srv, err := server.NewHTTPServer(ctx, cfg, log, m, pipe)
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return srv.Stop()
}

func registerRoutes(pipe *pipeline.Pipeline) {
	table := pipe.Router()

	_ = table.Add(&types.Route{
		Method:  "GET",
		Pattern: "/healthz",
		Logic: func(ctx *types.RequestContext) {
			ctx.SetStatus(fasthttp.StatusOK)
			_, _ = ctx.Write([]byte(`{"status":"ok"}`))
		},
	})
}
