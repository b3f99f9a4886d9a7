// Package stats derives display statistics for an index raster and turns
// them into a colour-mapped visualization.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/compute"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/errs"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/indices"
)

// Result always satisfies Min <= Mean <= Max.
type Result struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

type ArtifactKind string

const (
	TileTemplate ArtifactKind = "tiles"
	FlatPNG      ArtifactKind = "png"
)

// Artifact is a renderable visualization: a {z}/{x}/{y} template for
// interactive maps or flattened PNG bytes for documents.
type Artifact struct {
	Kind    ArtifactKind `json:"kind"`
	TileURL string       `json:"tile_url,omitempty"`
	PNG     []byte       `json:"-"`
}

type Generator struct {
	svc compute.Service
	log *slog.Logger
}

func New(svc compute.Service, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{svc: svc, log: log}
}

// Compute runs one combined reducer over region. Either all three values
// come back or the call fails; partial results are never returned.
func (g *Generator) Compute(ctx context.Context, raster compute.Image, region compute.Geometry, scale int) (Result, error) {
	const op = "statistics"
	vals, err := g.svc.ReduceRegion(ctx, raster, region, float64(scale))
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	band := raster.Band
	get := func(suffix string) (float64, bool) {
		v, ok := vals[band+"_"+suffix]
		return v, ok && !math.IsNaN(v) && !math.IsInf(v, 0)
	}
	lo, okLo := get("min")
	hi, okHi := get("max")
	if !okLo || !okHi {
		return Result{}, errs.Errorf(errs.StatisticsMissingKeys, op, "no valid pixels: reducer returned %d of %s_min/%s_max", count(okLo, okHi), band, band)
	}
	mean, ok := get("mean")
	if !ok {
		return Result{}, errs.Errorf(errs.StatisticsMissingKeys, op, "no valid pixels: reducer returned no %s_mean", band)
	}

	if lo > hi {
		g.log.WarnContext(ctx, "reducer returned min above max", "band", band, "min", lo, "max", hi)
		lo, hi = hi, lo
	}
	return Result{Min: lo, Max: hi, Mean: min(max(mean, lo), hi)}, nil
}

func count(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

// Vis maps the statistics range onto the palette of the index family.
func Vis(res Result, t indices.Type, band string) compute.Vis {
	lo, hi := res.Min, res.Max
	if hi-lo < 1e-6 {
		lo, hi = lo-0.001, hi+0.001
	}
	return compute.Vis{
		Bands:   []string{band},
		Min:     lo,
		Max:     hi,
		Palette: indices.MustLookup(t).Palette,
	}
}

// Tiles requests an interactive tile layer keyed by range and palette.
func (g *Generator) Tiles(ctx context.Context, raster compute.Image, res Result, t indices.Type) (Artifact, error) {
	url, err := g.svc.GetMap(ctx, raster, Vis(res, t, raster.Band))
	if err != nil {
		return Artifact{}, fmt.Errorf("tiles: %w", err)
	}
	return Artifact{Kind: TileTemplate, TileURL: url}, nil
}

// Thumbnail requests a flattened PNG of img fitted to region and returns its
// download URL.
func (g *Generator) Thumbnail(ctx context.Context, img compute.Image, region compute.Geometry, vis compute.Vis, width, height int) (string, error) {
	url, err := g.svc.GetThumbnail(ctx, img, compute.ThumbnailParams{
		Vis:    vis,
		Region: region,
		Width:  width,
		Height: height,
	})
	if err != nil {
		return "", fmt.Errorf("thumbnail: %w", err)
	}
	return url, nil
}
