package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/app"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/config"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/health"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/router"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/server"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/logger"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		zl := logger.Build(logger.Config{Level: "error"}, os.Stderr)
		zl.Error().Err(err).Msg("config")
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.Log.Level,
		Console:   cfg.Log.Console,
		SampleN:   cfg.Log.SampleN,
		Service:   "vipipeline",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	prov := metrics.Init(metrics.Config{Build: metrics.BuildInfo{
		Version:   Version,
		Revision:  os.Getenv("BUILD_REVISION"),
		Branch:    os.Getenv("BUILD_BRANCH"),
		BuildDate: os.Getenv("BUILD_DATE"),
	}})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("startup failed", "err", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			appLog.Warn("shutdown incomplete", "err", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		appLog.Error("background consumers failed", "err", err)
		return 1
	}

	d := router.Deps{
		Pipeline:       a.Pipeline,
		Metrics:        prov.Handler(),
		Ready:          health.Readiness(2*time.Second, a.Checks()...),
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Log:            appLog,
	}
	if a.Reports != nil {
		d.Reports = a.Reports
	}

	appLog.Info("starting vipipeline",
		"addr", cfg.Server.Addr,
		"version", Version,
		"collection", cfg.Compute.Collection,
		"tiers", cfg.Pipeline.CloudTiers)

	err = server.Run(ctx, server.Options{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		WriteTimeout:    cfg.Server.RequestTimeout + 30*time.Second,
	}, appLog, router.New(d))
	if err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
