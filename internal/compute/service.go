// Package compute talks to the remote raster compute service. Calls build an
// expression graph locally and ship it in a single request; every round trip
// is bounded by Call.
package compute

import (
	"context"
	"errors"
	"time"
)

var ErrNotConnected = errors.New("compute client not connected")

// SceneInfo holds the provider properties of one scene.
type SceneInfo struct {
	ID         string
	CapturedAt time.Time
	CloudPct   float64
}

// Vis parameterizes a colour-mapped rendering of a single band, or a
// stretched RGB composite when Palette is empty.
type Vis struct {
	Bands   []string
	Min     float64
	Max     float64
	Palette []string
}

type ThumbnailParams struct {
	Vis    Vis
	Region Geometry
	Width  int
	Height int
	// CRS of the output grid, EPSG:3857 when empty.
	CRS string
}

// Service is the subset of the remote compute API the pipeline uses.
type Service interface {
	// Connect authenticates once. Further calls are no-ops.
	Connect(ctx context.Context) error
	Connected() bool
	Count(ctx context.Context, c Collection) (int, error)
	Scene(ctx context.Context, c Collection) (SceneInfo, error)
	// ReduceRegion returns <band>_min, <band>_max and <band>_mean. Keys are
	// absent when the region has no valid pixels.
	ReduceRegion(ctx context.Context, img Image, region Geometry, scale float64) (map[string]float64, error)
	// GetMap returns a tile URL template containing {z}, {x} and {y}.
	GetMap(ctx context.Context, img Image, vis Vis) (string, error)
	// GetThumbnail returns a URL serving a flattened PNG.
	GetThumbnail(ctx context.Context, img Image, p ThumbnailParams) (string, error)
	Download(ctx context.Context, url string) ([]byte, error)
}
