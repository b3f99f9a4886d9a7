package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roughly 2 km x 2.5 km near the equator
func field() Polygon {
	return Polygon{
		{Lat: 0.00, Lng: 30.00},
		{Lat: 0.00, Lng: 30.018},
		{Lat: 0.0225, Lng: 30.018},
		{Lat: 0.0225, Lng: 30.00},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, field().Validate())

	err := Polygon{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}.Validate()
	assert.ErrorIs(t, err, ErrTooFewPoints)

	// closing vertex does not count as a distinct point
	err = Polygon{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}, {Lat: 1, Lng: 1}}.Validate()
	assert.ErrorIs(t, err, ErrTooFewPoints)

	err = Polygon{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}.Validate()
	assert.ErrorIs(t, err, ErrZeroArea)

	err = Polygon{{Lat: 91, Lng: 0}, {Lat: 1, Lng: 1}, {Lat: 2, Lng: 0}}.Validate()
	assert.Error(t, err)

	err = Polygon{{Lat: math.NaN(), Lng: 0}, {Lat: 1, Lng: 1}, {Lat: 2, Lng: 0}}.Validate()
	assert.Error(t, err)
}

func TestAreaKm2(t *testing.T) {
	a := field().AreaKm2()
	// 0.018 deg * 111.32 km ~= 2.0 km, 0.0225 deg * 110.57 km ~= 2.49 km
	assert.InDelta(t, 5.0, a, 0.15)

	closed := append(field(), field()[0])
	assert.InDelta(t, a, closed.AreaKm2(), 1e-9)
}

func TestRingIsClosedLonLat(t *testing.T) {
	r := field().Ring()
	require.Len(t, r, 5)
	assert.Equal(t, r[0], r[len(r)-1])
	assert.Equal(t, 30.0, r[0].Lon())
	assert.Equal(t, 0.0, r[0].Lat())
}

func TestBufferGrowsEverySide(t *testing.T) {
	b := field().Bound()
	bb := Buffer(b, 1000)

	// 1 km is ~0.009 degrees at the equator
	assert.InDelta(t, 0.009, b.Min.Lat()-bb.Min.Lat(), 0.0005)
	assert.InDelta(t, 0.009, bb.Max.Lat()-b.Max.Lat(), 0.0005)
	assert.InDelta(t, 0.009, b.Min.Lon()-bb.Min.Lon(), 0.0005)
	assert.InDelta(t, 0.009, bb.Max.Lon()-b.Max.Lon(), 0.0005)

	assert.Equal(t, b, Buffer(b, 0))
}

func TestPadFraction(t *testing.T) {
	b := field().Bound()
	pb := PadFraction(b, 0.1)
	assert.InDelta(t, 0.00225, b.Min.Lat()-pb.Min.Lat(), 1e-9)
}

func TestCanonical_RotationReversalClosure(t *testing.T) {
	base := field()
	want := Canonical(base)

	rotated := Polygon{base[2], base[3], base[0], base[1]}
	reversed := Polygon{base[3], base[2], base[1], base[0]}
	closed := append(append(Polygon{}, base...), base[0])

	assert.Equal(t, want, Canonical(rotated))
	assert.Equal(t, want, Canonical(reversed))
	assert.Equal(t, want, Canonical(closed))
	assert.Positive(t, planarArea(want))
	assert.Equal(t, LatLng{Lat: 0, Lng: 30}, want[0])
}

func TestCanonical_RoundsNoise(t *testing.T) {
	base := field()
	noisy := make(Polygon, len(base))
	for i, v := range base {
		noisy[i] = LatLng{Lat: v.Lat + 1e-10, Lng: v.Lng - 1e-10}
	}
	assert.Equal(t, Canonical(base), Canonical(noisy))
}
