// Package pipeline runs one index request end to end: cache check, scene
// resolution, planning, band arithmetic, statistics, tiles and the cache
// write. Export adds a rendered image on top.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/cache/keys"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/cache/resultcache"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/compute"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/errs"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/observability"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/indices"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/logger"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/planner"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/scene"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/stats"
)

type Outcome string

const (
	Ready     Outcome = "ready"
	NoImagery Outcome = "no_imagery"
)

type Request struct {
	Polygon        geo.Polygon
	Index          indices.Type
	CloudTolerance int
	// AsOf selects historical mode: the newest scene captured on or before
	// that day. Zero means the latest scene.
	AsOf time.Time
}

func (r Request) Latest() bool { return r.AsOf.IsZero() }

type Result struct {
	Outcome        Outcome        `json:"outcome"`
	Artifact       stats.Artifact `json:"artifact"`
	Stats          stats.Result   `json:"stats"`
	SceneDateToken string         `json:"scene_date,omitempty"`
	SceneID        string         `json:"scene_id,omitempty"`
	Scale          int            `json:"scale,omitempty"`
	Fingerprint    string         `json:"fingerprint,omitempty"`
	Cached         bool           `json:"cached"`
	// Tried lists the cloud tiers searched when no imagery was found.
	Tried []int `json:"tried_tiers,omitempty"`
}

type Cache interface {
	Get(ctx context.Context, fp keys.Fingerprint) (resultcache.Entry, bool)
	Put(ctx context.Context, fp keys.Fingerprint, e resultcache.Entry, poly geo.Polygon)
}

type Resolver interface {
	Resolve(ctx context.Context, q scene.Query) (scene.Result, error)
}

type Deps struct {
	Compute   compute.Service
	Resolver  Resolver
	Planner   *planner.Planner
	Stats     *stats.Generator
	Cache     Cache
	KeyPrefix string
	Clock     clockwork.Clock
	Log       *slog.Logger
}

type Pipeline struct {
	svc      compute.Service
	resolver Resolver
	planner  *planner.Planner
	stats    *stats.Generator
	cache    Cache
	prefix   string
	clk      clockwork.Clock
	log      *slog.Logger

	exp exporter
}

func New(d Deps) (*Pipeline, error) {
	if d.Compute == nil || d.Resolver == nil || d.Stats == nil || d.Cache == nil {
		return nil, fmt.Errorf("pipeline: compute, resolver, stats and cache are required")
	}
	if d.Planner == nil {
		d.Planner = planner.Default()
	}
	if d.KeyPrefix == "" {
		d.KeyPrefix = "vi"
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Pipeline{
		svc:      d.Compute,
		resolver: d.Resolver,
		planner:  d.Planner,
		stats:    d.Stats,
		cache:    d.Cache,
		prefix:   d.KeyPrefix,
		clk:      d.Clock,
		log:      d.Log,
	}, nil
}

// Validate reports the first problem with r as InvalidInput.
func (r Request) Validate() error {
	const op = "validate"
	if err := r.Polygon.Validate(); err != nil {
		return errs.E(errs.InvalidInput, op, fmt.Errorf("polygon: %w", err))
	}
	if _, ok := indices.Lookup(r.Index); !ok {
		return errs.Errorf(errs.InvalidInput, op, "unknown index %q (supported: %v)", r.Index, indices.Names())
	}
	if r.CloudTolerance < 0 || r.CloudTolerance > 100 {
		return errs.Errorf(errs.InvalidInput, op, "cloud tolerance %d outside 0..100", r.CloudTolerance)
	}
	return nil
}

// ProcessIndex returns a ready result, a no-imagery result, or an error
// tagged with an errs.Kind. Only ready results are cached.
func (p *Pipeline) ProcessIndex(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	ctx = logger.WithIndex(ctx, string(req.Index))
	start := p.clk.Now()
	defer func() { observability.ObserveStage("process_index", p.clk.Since(start).Seconds()) }()

	if req.Latest() {
		fp := keys.New(p.prefix, req.Polygon, string(req.Index), req.CloudTolerance, keys.Latest)
		if res, ok := p.cached(ctx, fp); ok {
			return res, nil
		}
	}

	if err := p.ensureConnected(ctx); err != nil {
		return Result{}, err
	}

	region := compute.Polygon(req.Polygon.LngLat())
	found, err := timed("resolve", func() (scene.Result, error) {
		return p.resolver.Resolve(ctx, scene.Query{Region: region, Tolerance: req.CloudTolerance, AsOf: req.AsOf})
	})
	if err != nil {
		return Result{}, fmt.Errorf("resolve scene: %w", err)
	}
	if !found.Found() {
		p.log.InfoContext(ctx, "no imagery", "tiers", found.Tried)
		return Result{Outcome: NoImagery, Tried: found.Tried}, nil
	}
	sc := found.Scene

	token := keys.Latest
	if !req.Latest() {
		token = sc.DateToken()
	}
	fp := keys.New(p.prefix, req.Polygon, string(req.Index), req.CloudTolerance, token)
	if !req.Latest() {
		if res, ok := p.cached(ctx, fp); ok {
			return res, nil
		}
	}
	ctx = logger.WithFingerprint(ctx, fp.Hex())

	plan := p.planner.Plan(req.Polygon)
	formula := indices.MustLookup(req.Index)
	raster := sc.Image.
		Clip(compute.Rectangle(plan.ClipRegion)).
		Index(formula).
		Clip(region)
	p.log.DebugContext(ctx, "compute planned", "scale", plan.Scale, "area_km2", plan.AreaKm2, "scene", sc.ID)

	st, err := timed("statistics", func() (stats.Result, error) {
		return p.stats.Compute(ctx, raster, region, plan.Scale)
	})
	if err != nil {
		return Result{}, err
	}
	art, err := timed("tiles", func() (stats.Artifact, error) {
		return p.stats.Tiles(ctx, raster, st, req.Index)
	})
	if err != nil {
		return Result{}, err
	}

	p.cache.Put(ctx, fp, resultcache.Entry{
		TileURL:        art.TileURL,
		Min:            st.Min,
		Max:            st.Max,
		Mean:           st.Mean,
		SceneDateToken: sc.DateToken(),
		SceneDate:      sc.CapturedAt.UTC(),
		SceneID:        sc.ID,
		IndexType:      string(req.Index),
		Scale:          plan.Scale,
		CreatedAt:      p.clk.Now().UTC(),
	}, req.Polygon)

	p.log.InfoContext(ctx, "index ready",
		"scene_date", sc.DateToken(), "scale", plan.Scale,
		"min", st.Min, "max", st.Max, "mean", st.Mean)
	return Result{
		Outcome:        Ready,
		Artifact:       art,
		Stats:          st,
		SceneDateToken: sc.DateToken(),
		SceneID:        sc.ID,
		Scale:          plan.Scale,
		Fingerprint:    fp.Key(),
	}, nil
}

func (p *Pipeline) cached(ctx context.Context, fp keys.Fingerprint) (Result, bool) {
	e, ok := p.cache.Get(ctx, fp)
	if !ok {
		return Result{}, false
	}
	p.log.DebugContext(logger.WithFingerprint(ctx, fp.Hex()), "served from cache", "scene_date", e.SceneDateToken)
	return Result{
		Outcome:        Ready,
		Artifact:       stats.Artifact{Kind: stats.TileTemplate, TileURL: e.TileURL},
		Stats:          stats.Result{Min: e.Min, Max: e.Max, Mean: e.Mean},
		SceneDateToken: e.SceneDateToken,
		SceneID:        e.SceneID,
		Scale:          e.Scale,
		Fingerprint:    fp.Key(),
		Cached:         true,
	}, true
}

func (p *Pipeline) ensureConnected(ctx context.Context) error {
	if p.svc.Connected() {
		return nil
	}
	if err := p.svc.Connect(ctx); err != nil {
		return fmt.Errorf("connect compute: %w", err)
	}
	return nil
}

func timed[T any](stage string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	observability.ObserveStage(stage, time.Since(start).Seconds())
	return v, err
}
