// Package app wires configuration into a ready pipeline: compute client,
// caches, renderer, image store, events and the invalidation consumer.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/cache/cellindex"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/cache/redisstore"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/cache/resultcache"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/compute"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/config"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/health"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/httpclient"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/events"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/imagestore"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/invalidation"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/pipeline"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/planner"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/render"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/report"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/scene"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/stats"
)

type App struct {
	Pipeline     *pipeline.Pipeline
	Reports      *report.Generator
	Invalidation *invalidation.Runner
	Compute      compute.Service

	redis  *redisstore.Client
	cache  *resultcache.Cache
	events interface{ Close() error }
	log    *slog.Logger
}

// Build constructs every component. An empty Redis address gives an
// in-process cache only; an empty store endpoint disables export; no Kafka
// brokers means events are dropped and invalidation stays off.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{log: log}
	clk := clockwork.NewRealClock()

	rest, err := compute.NewREST(cfg.Compute.BaseURL, cfg.Compute.Project,
		compute.WithHTTPClient(httpclient.NewOutbound(0)),
		compute.WithCredentialsFile(cfg.Compute.CredentialsFile),
	)
	if err != nil {
		return nil, fmt.Errorf("compute client: %w", err)
	}
	b := cfg.Budgets
	svc := compute.Guard(rest, clk, compute.Budgets{
		Auth: b.Auth, Count: b.Count, SceneInfo: b.SceneInfo, Stats: b.Stats,
		Tiles: b.Tiles, Thumbnail: b.Thumbnail, Download: b.Download,
	})
	a.Compute = svc

	var l2 resultcache.Backend
	var idx *cellindex.Index
	if cfg.Redis.Addr != "" {
		a.redis, err = redisstore.New(ctx, cfg.Redis.Addr,
			redisstore.WithPassword(cfg.Redis.Password),
			redisstore.WithDB(cfg.Redis.DB),
			redisstore.WithReadTimeout(cfg.Redis.OpTimeout),
			redisstore.WithWriteTimeout(cfg.Redis.OpTimeout),
		)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		l2 = a.redis
		if idx, err = cellindex.New(a.redis, cfg.Cache.KeyPrefix, cfg.Cache.CellRes); err != nil {
			return nil, a.abort(err)
		}
	} else {
		log.Warn("REDIS_ADDR empty; results are cached in process only")
	}
	opts := resultcache.Options{L1Size: cfg.Cache.L1Size, WriteQueue: cfg.Cache.WriteQueue, OpTimeout: cfg.Redis.OpTimeout}
	if a.redis != nil {
		opts.Index = idx
		opts.Bus = a.redis
		opts.Channel = cfg.Cache.KeyPrefix + ":evict"
	}
	if a.cache, err = resultcache.New(l2, opts, log); err != nil {
		return nil, a.abort(err)
	}

	plan, err := planner.New(cfg.Pipeline.BufferMeters, cfg.Pipeline.ScaleThresholdsKm2)
	if err != nil {
		return nil, a.abort(err)
	}
	gen := stats.New(svc, log)
	a.Pipeline, err = pipeline.New(pipeline.Deps{
		Compute: svc,
		Resolver: scene.New(svc, clk, scene.Config{
			Collection:   cfg.Compute.Collection,
			Tiers:        cfg.Pipeline.CloudTiers,
			LookbackDays: cfg.Pipeline.LookbackDays,
		}, log),
		Planner:   plan,
		Stats:     gen,
		Cache:     a.cache,
		KeyPrefix: cfg.Cache.KeyPrefix,
		Clock:     clk,
		Log:       log,
	})
	if err != nil {
		return nil, a.abort(err)
	}

	var pub events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		k, err := events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, 256, log)
		if err != nil {
			return nil, a.abort(fmt.Errorf("events producer: %w", err))
		}
		a.events, pub = k, k
	}

	if cfg.Store.Endpoint != "" {
		store, err := imagestore.NewMinio(imagestore.MinioConfig{
			Endpoint:      cfg.Store.Endpoint,
			AccessKey:     cfg.Store.AccessKey,
			SecretKey:     cfg.Store.SecretKey,
			Bucket:        cfg.Store.Bucket,
			Region:        cfg.Store.Region,
			UseSSL:        cfg.Store.UseSSL,
			PublicBaseURL: cfg.Store.PublicBaseURL,
		}, log)
		if err != nil {
			return nil, a.abort(err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, a.abort(err)
		}
		a.Pipeline.EnableExport(renderer(cfg, svc, gen, log), store, pub)
	} else {
		log.Warn("STORE_ENDPOINT empty; export returns results without images")
	}

	if cfg.Reports.AreasFile != "" {
		areas, err := report.LoadFile(cfg.Reports.AreasFile)
		if err != nil {
			return nil, a.abort(err)
		}
		a.Reports = report.NewGenerator(a.Pipeline, areas, pub, clk, log)
		log.Info("report areas loaded", "count", areas.Len())
	}

	if cfg.Kafka.InvalidationEnabled && idx != nil {
		a.Invalidation = invalidation.New(invalidation.Config{
			Enabled:       true,
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.InvalidationTopic,
			GroupID:       cfg.Kafka.GroupID,
			InitialOldest: false,
		}, a.cache, idx, log)
	} else if cfg.Kafka.InvalidationEnabled {
		log.Warn("invalidation needs the Redis cell index; leaving it off")
	}
	return a, nil
}

func renderer(cfg *config.Config, svc compute.Service, gen *stats.Generator, log *slog.Logger) *render.Orchestrator {
	style := render.Style{
		Width:       cfg.Render.Width,
		Height:      cfg.Render.Height,
		Opacity:     cfg.Render.Opacity,
		Outline:     cfg.Render.Outline,
		PadFraction: cfg.Render.PadFraction,
	}
	enc, err := render.NewEncoder(cfg.Render.Format, 0)
	if err != nil {
		log.Warn("unknown render format, using png", "format", cfg.Render.Format)
		enc = render.PNGEncoder{}
	}
	primary := &render.Browser{RemoteURL: cfg.Render.ChromeURL, BasemapURL: cfg.Render.BasemapURL, Style: style}
	return render.NewOrchestrator(primary, render.NewComposite(gen, svc, style), enc, cfg.Budgets.Render, log)
}

// Start launches background consumers. Every instance listens for L1
// evictions; the invalidation group applies each scene event on one of them.
func (a *App) Start(ctx context.Context) error {
	if err := a.cache.Listen(ctx); err != nil {
		return err
	}
	if a.Invalidation == nil {
		return nil
	}
	return a.Invalidation.Start(ctx)
}

// Checks lists the readiness probes. Compute is optional because the client
// connects lazily on the first request.
func (a *App) Checks() []health.Check {
	checks := []health.Check{{
		Name:     "compute",
		Optional: true,
		Fn: func(context.Context) error {
			if !a.Compute.Connected() {
				return errors.New("not connected")
			}
			return nil
		},
	}}
	if a.redis != nil {
		checks = append(checks, health.Check{Name: "redis", Fn: a.redis.Ping})
	}
	if a.Invalidation != nil {
		checks = append(checks, health.Check{Name: "invalidation", Fn: func(context.Context) error {
			if !a.Invalidation.Ready() {
				return errors.New("no partitions assigned")
			}
			return nil
		}})
	}
	return checks
}

// Close flushes pending cache writes and events, then releases connections.
func (a *App) Close(ctx context.Context) error {
	var errList []error
	if a.Invalidation != nil {
		a.Invalidation.Stop()
	}
	if a.cache != nil {
		if err := a.cache.Close(ctx); err != nil {
			errList = append(errList, fmt.Errorf("cache flush: %w", err))
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			errList = append(errList, fmt.Errorf("events: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errList = append(errList, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errList...)
}

func (a *App) abort(err error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := a.Close(ctx); cerr != nil {
		a.log.Warn("cleanup after failed start", "err", cerr)
	}
	return err
}
