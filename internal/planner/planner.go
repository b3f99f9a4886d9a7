// Package planner picks the processing resolution and the pre-compute clip
// region for a polygon, so billed pixels stay roughly bounded whatever the
// field size.
package planner

import (
	"fmt"
	"slices"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
)

// Scales are the only processing resolutions, in meters per pixel.
var Scales = [...]int{100, 150, 200, 250}

type Plan struct {
	ClipRegion orb.Bound
	Scale      int
	AreaKm2    float64
}

type Planner struct {
	bufferMeters float64
	thresholds   [3]float64
}

// New takes the upper area bounds (km²) of the first three scale bands.
func New(bufferMeters float64, thresholdsKm2 []float64) (*Planner, error) {
	if len(thresholdsKm2) != 3 || !slices.IsSorted(thresholdsKm2) || thresholdsKm2[0] <= 0 {
		return nil, fmt.Errorf("planner: need 3 ascending positive thresholds, got %v", thresholdsKm2)
	}
	if bufferMeters < 0 {
		return nil, fmt.Errorf("planner: negative buffer %g", bufferMeters)
	}
	return &Planner{bufferMeters: bufferMeters, thresholds: [3]float64(thresholdsKm2)}, nil
}

func Default() *Planner {
	return &Planner{bufferMeters: 1000, thresholds: [3]float64{10, 50, 100}}
}

func (p *Planner) Plan(poly geo.Polygon) Plan {
	area := poly.AreaKm2()
	return Plan{
		ClipRegion: geo.Buffer(poly.Bound(), p.bufferMeters),
		Scale:      p.Scale(area),
		AreaKm2:    area,
	}
}

// Scale maps an area to its band; bounds are inclusive.
func (p *Planner) Scale(areaKm2 float64) int {
	for i, limit := range p.thresholds {
		if areaKm2 <= limit {
			return Scales[i]
		}
	}
	return Scales[len(Scales)-1]
}
