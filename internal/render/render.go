// Package render produces a static map image of an index result for
// documents and messages. A headless browser draws the interactive tile
// layer over a basemap; when that fails, a composite is assembled from
// provider thumbnails instead.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/errs"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/observability"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/indices"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/stats"
)

type Request struct {
	Polygon geo.Polygon
	Index   indices.Type
	TileURL string
	Stats   stats.Result
	SceneID string
}

// Style is shared by both render paths so their output lines up.
type Style struct {
	Width       int
	Height      int
	Opacity     float64
	Outline     string
	PadFraction float64
}

func (s Style) withDefaults() Style {
	if s.Width <= 0 {
		s.Width = 800
	}
	if s.Height <= 0 {
		s.Height = 600
	}
	if s.Opacity <= 0 || s.Opacity > 1 {
		s.Opacity = 0.6
	}
	if s.Outline == "" {
		s.Outline = "ff0000"
	}
	if s.PadFraction < 0 {
		s.PadFraction = 0
	}
	return s
}

func (s Style) outlineColor() color.RGBA {
	c, err := indices.ParseHex(s.Outline)
	if err != nil {
		return color.RGBA{R: 0xff, A: 0xff}
	}
	return c
}

type Renderer interface {
	Render(ctx context.Context, req Request) (image.Image, error)
}

// Output is an encoded render ready for upload.
type Output struct {
	Bytes       []byte
	ContentType string
	Ext         string
	Path        string
}

type Orchestrator struct {
	primary  Renderer
	fallback Renderer
	enc      Encoder
	budget   time.Duration
	log      *slog.Logger
}

// NewOrchestrator accepts a nil primary, in which case every render goes
// straight to the fallback.
func NewOrchestrator(primary, fallback Renderer, enc Encoder, budget time.Duration, log *slog.Logger) *Orchestrator {
	if enc == nil {
		enc = PNGEncoder{}
	}
	if budget <= 0 {
		budget = 45 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{primary: primary, fallback: fallback, enc: enc, budget: budget, log: log}
}

func (o *Orchestrator) Render(ctx context.Context, req Request) (Output, error) {
	const op = "render"
	start := time.Now()
	defer func() { observability.ObserveStage("render", time.Since(start).Seconds()) }()

	if o.primary != nil {
		img, err := o.attempt(ctx, o.primary, req)
		if err == nil {
			return o.encode(img, "primary")
		}
		observability.IncRender("primary", "error")
		o.log.WarnContext(ctx, "primary render failed, using composite", "error", err)
	}

	if o.fallback == nil {
		return Output{}, errs.Errorf(errs.RenderingFailed, op, "primary failed and no fallback configured")
	}
	img, err := o.attempt(ctx, o.fallback, req)
	if err != nil {
		observability.IncRender("fallback", "error")
		o.log.ErrorContext(ctx, "fallback render failed", "error", err)
		return Output{}, errs.E(errs.RenderingFailed, op, err)
	}
	return o.encode(img, "fallback")
}

func (o *Orchestrator) attempt(ctx context.Context, r Renderer, req Request) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, o.budget)
	defer cancel()
	return r.Render(ctx, req)
}

func (o *Orchestrator) encode(img image.Image, path string) (Output, error) {
	b, err := o.enc.Encode(img)
	if err != nil {
		observability.IncRender(path, "error")
		return Output{}, errs.E(errs.RenderingFailed, "render", fmt.Errorf("%s: %w", path, err))
	}
	observability.IncRender(path, "ok")
	return Output{Bytes: b, ContentType: o.enc.ContentType(), Ext: o.enc.Ext(), Path: path}, nil
}
