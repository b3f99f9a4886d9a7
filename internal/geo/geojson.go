package geo

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FromGeoJSON decodes a GeoJSON Polygon geometry, a Feature wrapping one, or
// a FeatureCollection whose first feature is one. Holes are dropped; only the
// outer ring is kept. The result is not validated.
func FromGeoJSON(raw []byte) (Polygon, error) {
	g, err := decodeGeometry(raw)
	if err != nil {
		return nil, err
	}
	poly, ok := g.(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("geojson: type must be Polygon, got %s", g.GeoJSONType())
	}
	if len(poly) == 0 || len(poly[0]) == 0 {
		return nil, fmt.Errorf("geojson: polygon has no rings")
	}
	out := make(Polygon, 0, len(poly[0]))
	for _, pt := range poly[0] {
		out = append(out, LatLng{Lat: pt.Lat(), Lng: pt.Lon()})
	}
	return out, nil
}

func decodeGeometry(raw []byte) (orb.Geometry, error) {
	if g, err := geojson.UnmarshalGeometry(raw); err == nil && g.Coordinates != nil {
		return g.Geometry(), nil
	}
	if f, err := geojson.UnmarshalFeature(raw); err == nil && f.Geometry != nil {
		return f.Geometry, nil
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("geojson: %w", err)
	}
	if len(fc.Features) == 0 || fc.Features[0].Geometry == nil {
		return nil, fmt.Errorf("geojson: no geometry found")
	}
	return fc.Features[0].Geometry, nil
}
