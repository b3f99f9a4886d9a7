// Package geo holds the polygon helpers used by the pipeline: validation,
// area, bounding boxes and buffering. Nothing here does I/O.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Polygon is an ordered ring of vertices. The closing vertex is optional.
type Polygon []LatLng

var (
	ErrTooFewPoints = errors.New("polygon needs at least 3 distinct points")
	ErrZeroArea     = errors.New("polygon encloses no area")
)

func (p Polygon) Validate() error {
	for i, v := range p {
		if math.IsNaN(v.Lat) || math.IsNaN(v.Lng) || math.IsInf(v.Lat, 0) || math.IsInf(v.Lng, 0) {
			return fmt.Errorf("point %d: coordinates must be finite", i)
		}
		if v.Lat < -90 || v.Lat > 90 {
			return fmt.Errorf("point %d: latitude %.6f out of range", i, v.Lat)
		}
		if v.Lng < -180 || v.Lng > 180 {
			return fmt.Errorf("point %d: longitude %.6f out of range", i, v.Lng)
		}
	}
	open := p.Open()
	if len(open) < 3 {
		return ErrTooFewPoints
	}
	if planarArea(open) == 0 {
		return ErrZeroArea
	}
	return nil
}

// Open returns the vertices without a duplicated closing point.
func (p Polygon) Open() Polygon {
	if len(p) >= 2 && p[0] == p[len(p)-1] {
		return p[:len(p)-1]
	}
	return p
}

// Ring returns a closed orb ring in lon/lat order.
func (p Polygon) Ring() orb.Ring {
	open := p.Open()
	ring := make(orb.Ring, 0, len(open)+1)
	for _, v := range open {
		ring = append(ring, orb.Point{v.Lng, v.Lat})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return ring
}

func (p Polygon) Orb() orb.Polygon {
	return orb.Polygon{p.Ring()}
}

// AreaKm2 is the geodesic area in square kilometres.
func (p Polygon) AreaKm2() float64 {
	if len(p.Open()) < 3 {
		return 0
	}
	return math.Abs(orbgeo.Area(p.Orb())) / 1e6
}

func (p Polygon) Bound() orb.Bound {
	return p.Ring().Bound()
}

// Centroid is the vertex average; good enough for small field polygons.
func (p Polygon) Centroid() LatLng {
	open := p.Open()
	if len(open) == 0 {
		return LatLng{}
	}
	var c LatLng
	for _, v := range open {
		c.Lat += v.Lat
		c.Lng += v.Lng
	}
	n := float64(len(open))
	return LatLng{Lat: c.Lat / n, Lng: c.Lng / n}
}

// LngLat returns [[lng,lat], ...] with a closing vertex, the order GeoJSON
// and the remote compute API expect.
func (p Polygon) LngLat() [][2]float64 {
	ring := p.Ring()
	out := make([][2]float64, len(ring))
	for i, pt := range ring {
		out[i] = [2]float64{pt.Lon(), pt.Lat()}
	}
	return out
}

// Buffer expands b by meters on every side.
func Buffer(b orb.Bound, meters float64) orb.Bound {
	if meters <= 0 {
		return b
	}
	return orbgeo.BoundPad(b, meters)
}

// PadFraction grows b by frac of its larger side on every side.
func PadFraction(b orb.Bound, frac float64) orb.Bound {
	if frac <= 0 {
		return b
	}
	d := math.Max(b.Max.Lon()-b.Min.Lon(), b.Max.Lat()-b.Min.Lat()) * frac
	return b.Pad(d)
}

func FromLngLat(coords [][]float64) (Polygon, error) {
	out := make(Polygon, 0, len(coords))
	for i, xy := range coords {
		if len(xy) < 2 {
			return nil, fmt.Errorf("coordinate %d: expected [lng,lat]", i)
		}
		out = append(out, LatLng{Lat: xy[1], Lng: xy[0]})
	}
	return out, nil
}

// shoelace in degrees; sign gives orientation (positive = counter-clockwise)
func planarArea(p Polygon) float64 {
	var s float64
	n := len(p)
	for i := range n {
		j := (i + 1) % n
		s += p[i].Lng*p[j].Lat - p[j].Lng*p[i].Lat
	}
	return s / 2
}
