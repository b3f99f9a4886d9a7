// Package scene finds the best recent satellite capture over a polygon by
// searching cloud-coverage tiers from strictest to loosest.
package scene

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/compute"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/observability"
)

const DateLayout = "2006-01-02"

type Scene struct {
	ID         string
	Image      compute.Image
	CapturedAt time.Time
	CloudPct   float64
	// Tier is the cloud ceiling that produced the scene.
	Tier int
}

// DateToken is the capture date in UTC, used in cache fingerprints.
func (s Scene) DateToken() string { return s.CapturedAt.UTC().Format(DateLayout) }

type Query struct {
	Region    compute.Geometry
	Tolerance int
	// AsOf restricts the search to captures on or before that day. Zero
	// means the most recent window ending now.
	AsOf time.Time
}

// Result is either a scene or the no-imagery outcome.
type Result struct {
	Scene *Scene
	Tried []int
}

func (r Result) Found() bool { return r.Scene != nil }

type Config struct {
	Collection   string
	Tiers        []int
	LookbackDays int
}

type Resolver struct {
	svc compute.Service
	clk clockwork.Clock
	cfg Config
	log *slog.Logger
}

func New(svc compute.Service, clk clockwork.Clock, cfg Config, log *slog.Logger) *Resolver {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 30
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = []int{20, 30, 40, 50}
	}
	return &Resolver{svc: svc, clk: clk, cfg: cfg, log: log}
}

// Tiers returns the ceilings searched for a caller tolerance: every
// configured tier below it, then the tolerance itself.
func (r *Resolver) Tiers(tolerance int) []int {
	out := make([]int, 0, len(r.cfg.Tiers)+1)
	for _, t := range r.cfg.Tiers {
		if t < tolerance {
			out = append(out, t)
		}
	}
	out = append(out, tolerance)
	slices.Sort(out)
	return slices.Compact(out)
}

// Window is the capture-time range searched for q, end exclusive.
func (r *Resolver) Window(asOf time.Time) (time.Time, time.Time) {
	end := r.clk.Now().UTC()
	if !asOf.IsZero() {
		y, m, d := asOf.UTC().Date()
		end = time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	}
	return end.AddDate(0, 0, -r.cfg.LookbackDays), end
}

// Resolve stops at the first tier with any scene. Errors from the remote
// service abort the search; an empty search is not an error.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Result, error) {
	start, end := r.Window(q.AsOf)
	base := compute.LoadCollection(r.cfg.Collection).
		FilterDate(start, end).
		FilterBounds(q.Region)

	var res Result
	for _, tier := range r.Tiers(q.Tolerance) {
		res.Tried = append(res.Tried, tier)
		coll := base.FilterCloud(tier)

		n, err := r.svc.Count(ctx, coll)
		if err != nil {
			return res, fmt.Errorf("count scenes at %d%% cloud: %w", tier, err)
		}
		r.log.DebugContext(ctx, "scene tier searched", "tier", tier, "count", n)
		if n == 0 {
			continue
		}

		info, err := r.svc.Scene(ctx, coll)
		if err != nil {
			return res, fmt.Errorf("scene properties at %d%% cloud: %w", tier, err)
		}
		observability.IncSceneTier(strconv.Itoa(tier))
		res.Scene = &Scene{
			ID:         info.ID,
			Image:      compute.LoadImage(info.ID),
			CapturedAt: info.CapturedAt,
			CloudPct:   info.CloudPct,
			Tier:       tier,
		}
		r.log.InfoContext(ctx, "scene resolved",
			"scene", info.ID, "captured", info.CapturedAt.Format(time.RFC3339),
			"cloud_pct", info.CloudPct, "tier", tier)
		return res, nil
	}

	observability.IncSceneTier("none")
	r.log.InfoContext(ctx, "no imagery in any tier", "tiers", res.Tried,
		"from", start.Format(DateLayout), "to", end.Format(DateLayout))
	return res, nil
}
