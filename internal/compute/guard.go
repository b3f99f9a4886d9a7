package compute

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

type Budgets struct {
	Auth      time.Duration
	Count     time.Duration
	SceneInfo time.Duration
	Stats     time.Duration
	Tiles     time.Duration
	Thumbnail time.Duration
	Download  time.Duration
}

func DefaultBudgets() Budgets {
	return Budgets{
		Auth:      20 * time.Second,
		Count:     30 * time.Second,
		SceneInfo: 30 * time.Second,
		Stats:     90 * time.Second,
		Tiles:     60 * time.Second,
		Thumbnail: 60 * time.Second,
		Download:  30 * time.Second,
	}
}

// Guarded wraps every method of a Service in Call with its budget.
type Guarded struct {
	svc     Service
	clk     clockwork.Clock
	budgets Budgets
}

var _ Service = (*Guarded)(nil)

func Guard(svc Service, clk clockwork.Clock, b Budgets) *Guarded {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Guarded{svc: svc, clk: clk, budgets: b}
}

func (g *Guarded) Connect(ctx context.Context) error {
	_, err := Call(ctx, g.clk, "connect", g.budgets.Auth, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.svc.Connect(ctx)
	})
	return err
}

func (g *Guarded) Connected() bool { return g.svc.Connected() }

func (g *Guarded) Count(ctx context.Context, c Collection) (int, error) {
	return Call(ctx, g.clk, "count", g.budgets.Count, func(ctx context.Context) (int, error) {
		return g.svc.Count(ctx, c)
	})
}

func (g *Guarded) Scene(ctx context.Context, c Collection) (SceneInfo, error) {
	return Call(ctx, g.clk, "scene_info", g.budgets.SceneInfo, func(ctx context.Context) (SceneInfo, error) {
		return g.svc.Scene(ctx, c)
	})
}

func (g *Guarded) ReduceRegion(ctx context.Context, img Image, region Geometry, scale float64) (map[string]float64, error) {
	return Call(ctx, g.clk, "reduce_region", g.budgets.Stats, func(ctx context.Context) (map[string]float64, error) {
		return g.svc.ReduceRegion(ctx, img, region, scale)
	})
}

func (g *Guarded) GetMap(ctx context.Context, img Image, vis Vis) (string, error) {
	return Call(ctx, g.clk, "get_map", g.budgets.Tiles, func(ctx context.Context) (string, error) {
		return g.svc.GetMap(ctx, img, vis)
	})
}

func (g *Guarded) GetThumbnail(ctx context.Context, img Image, p ThumbnailParams) (string, error) {
	return Call(ctx, g.clk, "get_thumbnail", g.budgets.Thumbnail, func(ctx context.Context) (string, error) {
		return g.svc.GetThumbnail(ctx, img, p)
	})
}

func (g *Guarded) Download(ctx context.Context, url string) ([]byte, error) {
	return Call(ctx, g.clk, "download", g.budgets.Download, func(ctx context.Context) ([]byte, error) {
		return g.svc.Download(ctx, url)
	})
}
