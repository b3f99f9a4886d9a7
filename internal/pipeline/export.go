package pipeline

import (
	"context"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/events"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/imagestore"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/logger"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/render"
)

type Renderer interface {
	Render(ctx context.Context, req render.Request) (render.Output, error)
}

type exporter struct {
	renderer Renderer
	images   imagestore.Store
	events   events.Publisher
}

// EnableExport wires the render and upload stages. ev may be nil.
func (p *Pipeline) EnableExport(r Renderer, images imagestore.Store, ev events.Publisher) {
	if ev == nil {
		ev = events.Nop{}
	}
	p.exp = exporter{renderer: r, images: images, events: ev}
}

type ExportResult struct {
	Result
	AreaID   string `json:"area_id"`
	ImageURL string `json:"image_url,omitempty"`
	// ImageError explains a missing image; the statistics are still valid.
	ImageError string `json:"image_error,omitempty"`
}

// Export processes the request and attaches a published image. Rendering
// or upload failures leave the result without an image rather than failing
// the export.
func (p *Pipeline) Export(ctx context.Context, areaID string, req Request) (ExportResult, error) {
	ctx = logger.WithArea(ctx, areaID)
	res, err := p.ProcessIndex(ctx, req)
	if err != nil {
		return ExportResult{}, err
	}
	out := ExportResult{Result: res, AreaID: areaID}
	if res.Outcome != Ready {
		return out, nil
	}
	if p.exp.renderer == nil || p.exp.images == nil {
		out.ImageError = "export not configured"
		return out, nil
	}

	img, err := p.exp.renderer.Render(ctx, render.Request{
		Polygon: req.Polygon,
		Index:   req.Index,
		TileURL: res.Artifact.TileURL,
		Stats:   res.Stats,
		SceneID: res.SceneID,
	})
	if err != nil {
		out.ImageError = err.Error()
		p.log.WarnContext(ctx, "export continues without image", "error", err)
		return out, nil
	}

	url, err := timed("upload", func() (string, error) {
		return imagestore.Publish(ctx, p.exp.images, areaID, string(req.Index), img.Bytes, img.ContentType, img.Ext)
	})
	if err != nil {
		out.ImageError = err.Error()
		p.log.WarnContext(ctx, "image upload failed", "error", err)
		return out, nil
	}
	out.ImageURL = url

	p.exp.events.Publish(events.Event{
		Type:        events.IndexGenerated,
		AreaID:      areaID,
		Index:       string(req.Index),
		Fingerprint: res.Fingerprint,
		SceneDate:   res.SceneDateToken,
		Cached:      res.Cached,
		ImageURL:    url,
	})
	return out, nil
}
