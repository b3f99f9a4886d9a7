package indices

import (
	"fmt"
	"image/color"
	"strconv"
)

// Palette is an ordered list of hex colors, low value first.
type Palette []string

var (
	// red -> yellow -> green; greener is healthier
	Vigor = Palette{"d73027", "fc8d59", "fee08b", "d9ef8b", "91cf60", "1a9850"}
	// light -> dark blue; darker is wetter
	Water = Palette{"f7fbff", "c6dbef", "6baed6", "2171b5", "08306b"}
	// green -> red; redder is more senescent
	Senescence = Palette{"1a9850", "91cf60", "fee08b", "fc8d59", "d73027"}
	Generic    = Palette{"440154", "3b528b", "21918c", "5ec962", "fde725"}
)

// At interpolates the palette at t in [0,1].
func (p Palette) At(t float64) (color.RGBA, error) {
	if len(p) == 0 {
		return color.RGBA{}, fmt.Errorf("empty palette")
	}
	if t <= 0 || len(p) == 1 {
		return ParseHex(p[0])
	}
	if t >= 1 {
		return ParseHex(p[len(p)-1])
	}
	pos := t * float64(len(p)-1)
	i := int(pos)
	frac := pos - float64(i)
	a, err := ParseHex(p[i])
	if err != nil {
		return color.RGBA{}, err
	}
	b, err := ParseHex(p[i+1])
	if err != nil {
		return color.RGBA{}, err
	}
	lerp := func(x, y uint8) uint8 {
		return uint8(float64(x) + (float64(y)-float64(x))*frac + 0.5)
	}
	return color.RGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: 0xff}, nil
}

func ParseHex(s string) (color.RGBA, error) {
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("palette color %q: want 6 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("palette color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
