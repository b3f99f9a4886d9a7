package geo

import "math"

// canonical coordinates are rounded to 1e-7 degrees (about 1 cm)
const canonicalScale = 1e7

// Canonical returns the ring in a normal form: closing vertex dropped,
// coordinates rounded, counter-clockwise, starting at the smallest vertex
// (by lat, then lng). Rotations, reversals and closed/open variants of the
// same ring produce identical output.
func Canonical(p Polygon) Polygon {
	open := p.Open()
	if len(open) == 0 {
		return Polygon{}
	}
	out := make(Polygon, 0, len(open))
	for _, v := range open {
		r := LatLng{Lat: round(v.Lat), Lng: round(v.Lng)}
		// rounding can collapse neighbours
		if len(out) > 0 && out[len(out)-1] == r {
			continue
		}
		out = append(out, r)
	}
	if len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}

	if planarArea(out) < 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	start := 0
	for i := 1; i < len(out); i++ {
		if less(out[i], out[start]) {
			start = i
		}
	}
	rot := make(Polygon, 0, len(out))
	rot = append(rot, out[start:]...)
	rot = append(rot, out[:start]...)
	return rot
}

func less(a, b LatLng) bool {
	if a.Lat != b.Lat {
		return a.Lat < b.Lat
	}
	return a.Lng < b.Lng
}

func round(v float64) float64 {
	return math.Round(v*canonicalScale) / canonicalScale
}
