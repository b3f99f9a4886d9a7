package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"golang.org/x/image/draw"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/compute"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/indices"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/stats"
)

// True-colour stretch for surface reflectance digital numbers.
var trueColorVis = compute.Vis{Bands: []string{"B4", "B3", "B2"}, Min: 0, Max: 3000}

type Thumbnailer interface {
	Thumbnail(ctx context.Context, img compute.Image, region compute.Geometry, vis compute.Vis, width, height int) (string, error)
}

type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Composite builds the fallback image from two provider thumbnails: a true
// colour base and the colour-mapped index blended over it, with the polygon
// outline on top.
type Composite struct {
	thumbs  Thumbnailer
	dl      Downloader
	width   int
	height  int
	opacity float64
	outline color.RGBA
	pad     float64
}

func NewComposite(thumbs Thumbnailer, dl Downloader, s Style) *Composite {
	s = s.withDefaults()
	return &Composite{
		thumbs:  thumbs,
		dl:      dl,
		width:   s.Width,
		height:  s.Height,
		opacity: s.Opacity,
		outline: s.outlineColor(),
		pad:     s.PadFraction,
	}
}

func (c *Composite) Render(ctx context.Context, req Request) (image.Image, error) {
	if req.SceneID == "" {
		return nil, fmt.Errorf("composite: no scene")
	}
	f, ok := indices.Lookup(req.Index)
	if !ok {
		return nil, fmt.Errorf("composite: unknown index %q", req.Index)
	}
	bbox := geo.PadFraction(req.Polygon.Bound(), c.pad)
	region := compute.Rectangle(bbox)

	base := compute.LoadImage(req.SceneID)
	rgb, err := c.fetch(ctx, base.TrueColor(), region, trueColorVis)
	if err != nil {
		return nil, fmt.Errorf("rgb thumbnail: %w", err)
	}
	idxImg := base.Index(f).Clip(compute.Polygon(req.Polygon.LngLat()))
	overlay, err := c.fetch(ctx, idxImg, region, stats.Vis(req.Stats, req.Index, idxImg.Band))
	if err != nil {
		return nil, fmt.Errorf("index thumbnail: %w", err)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	draw.CatmullRom.Scale(canvas, canvas.Bounds(), rgb, rgb.Bounds(), draw.Src, nil)

	layer := image.NewRGBA(canvas.Bounds())
	draw.CatmullRom.Scale(layer, layer.Bounds(), overlay, overlay.Bounds(), draw.Src, nil)
	mask := image.NewUniform(color.Alpha{A: uint8(c.opacity*255 + 0.5)})
	draw.DrawMask(canvas, canvas.Bounds(), layer, image.Point{}, mask, image.Point{}, draw.Over)

	c.drawOutline(canvas, req.Polygon, bbox)
	return canvas, nil
}

func (c *Composite) fetch(ctx context.Context, img compute.Image, region compute.Geometry, vis compute.Vis) (image.Image, error) {
	url, err := c.thumbs.Thumbnail(ctx, img, region, vis, c.width, c.height)
	if err != nil {
		return nil, err
	}
	raw, err := c.dl.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	out, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode thumbnail: %w", err)
	}
	return out, nil
}

// drawOutline projects the ring into the web-mercator frame of bbox, the
// grid the thumbnails were requested in.
func (c *Composite) drawOutline(dst *image.RGBA, poly geo.Polygon, bbox orb.Bound) {
	lo := project.Point(bbox.Min, project.WGS84.ToMercator)
	hi := project.Point(bbox.Max, project.WGS84.ToMercator)
	spanX, spanY := hi.X()-lo.X(), hi.Y()-lo.Y()
	if spanX <= 0 || spanY <= 0 {
		return
	}
	toPixel := func(p orb.Point) image.Point {
		m := project.Point(p, project.WGS84.ToMercator)
		return image.Point{
			X: int((m.X() - lo.X()) / spanX * float64(c.width)),
			Y: int((hi.Y() - m.Y()) / spanY * float64(c.height)),
		}
	}
	ring := poly.Ring()
	for i := 1; i < len(ring); i++ {
		line(dst, toPixel(ring[i-1]), toPixel(ring[i]), c.outline)
	}
}

var pen = [...]image.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}

// line is Bresenham with a 2px pen.
func line(dst *image.RGBA, a, b image.Point, col color.RGBA) {
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	x, y := a.X, a.Y
	for {
		for _, o := range pen {
			if p := (image.Point{X: x + o.X, Y: y + o.Y}); p.In(dst.Rect) {
				dst.SetRGBA(p.X, p.Y, col)
			}
		}
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
