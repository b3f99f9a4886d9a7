// Package indices defines the supported vegetation indices: their band
// arithmetic, the value domain and the display palette.
package indices

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

type Type string

const (
	NDVI  Type = "NDVI"
	NDRE  Type = "NDRE"
	EVI   Type = "EVI"
	NDWI  Type = "NDWI"
	MSAVI Type = "MSAVI"
	PSRI  Type = "PSRI"
)

// Pixel holds surface reflectance (0..1) for the bands the formulas use.
type Pixel struct {
	Blue     float64
	Green    float64
	Red      float64
	RedEdge1 float64
	RedEdge2 float64
	NIR      float64
}

// Formula describes one index. Expression uses the variable names in Bands,
// which map onto Sentinel-2 band ids.
type Formula struct {
	Type       Type
	Expression string
	Bands      map[string]string
	Palette    Palette
	Eval       func(Pixel) float64
}

var s2Bands = map[string]string{
	"BLUE":  "B2",
	"GREEN": "B3",
	"RED":   "B4",
	"RE1":   "B5",
	"RE2":   "B6",
	"NIR":   "B8",
}

func bands(names ...string) map[string]string {
	out := make(map[string]string, len(names))
	for _, n := range names {
		out[n] = s2Bands[n]
	}
	return out
}

var formulas = map[Type]Formula{
	NDVI: {
		Type:       NDVI,
		Expression: "(NIR - RED) / (NIR + RED)",
		Bands:      bands("NIR", "RED"),
		Palette:    Vigor,
		Eval:       func(p Pixel) float64 { return nd(p.NIR, p.Red) },
	},
	NDRE: {
		Type:       NDRE,
		Expression: "(NIR - RE1) / (NIR + RE1)",
		Bands:      bands("NIR", "RE1"),
		Palette:    Vigor,
		Eval:       func(p Pixel) float64 { return nd(p.NIR, p.RedEdge1) },
	},
	EVI: {
		Type:       EVI,
		Expression: "2.5 * (NIR - RED) / (NIR + 6 * RED - 7.5 * BLUE + 1)",
		Bands:      bands("NIR", "RED", "BLUE"),
		Palette:    Generic,
		Eval: func(p Pixel) float64 {
			return div(2.5*(p.NIR-p.Red), p.NIR+6*p.Red-7.5*p.Blue+1)
		},
	},
	NDWI: {
		Type:       NDWI,
		Expression: "(GREEN - NIR) / (GREEN + NIR)",
		Bands:      bands("GREEN", "NIR"),
		Palette:    Water,
		Eval:       func(p Pixel) float64 { return nd(p.Green, p.NIR) },
	},
	MSAVI: {
		Type:       MSAVI,
		Expression: "(2 * NIR + 1 - sqrt((2 * NIR + 1) ** 2 - 8 * (NIR - RED))) / 2",
		Bands:      bands("NIR", "RED"),
		Palette:    Vigor,
		Eval: func(p Pixel) float64 {
			a := 2*p.NIR + 1
			d := a*a - 8*(p.NIR-p.Red)
			if d < 0 {
				return math.NaN()
			}
			return (a - math.Sqrt(d)) / 2
		},
	},
	PSRI: {
		Type:       PSRI,
		Expression: "(RED - BLUE) / RE2",
		Bands:      bands("RED", "BLUE", "RE2"),
		Palette:    Senescence,
		Eval:       func(p Pixel) float64 { return div(p.Red-p.Blue, p.RedEdge2) },
	},
}

// Parse accepts any casing and surrounding whitespace.
func Parse(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := formulas[t]; !ok {
		return "", fmt.Errorf("unsupported index %q (supported: %s)", s, strings.Join(Names(), ", "))
	}
	return t, nil
}

func Lookup(t Type) (Formula, bool) {
	f, ok := formulas[t]
	return f, ok
}

func MustLookup(t Type) Formula {
	f, ok := formulas[t]
	if !ok {
		panic(fmt.Sprintf("indices: unknown index %q", t))
	}
	return f
}

func Names() []string {
	out := make([]string, 0, len(formulas))
	for t := range formulas {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

func nd(a, b float64) float64 { return div(a-b, a+b) }

func div(n, d float64) float64 {
	if d == 0 {
		return math.NaN()
	}
	return n / d
}
