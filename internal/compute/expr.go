package compute

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/indices"
)

// Node is one value in the remote expression graph: either a literal or a
// named function applied to other nodes.
type Node struct {
	Constant   any         `json:"constantValue,omitempty"`
	Invocation *Invocation `json:"functionInvocationValue,omitempty"`
}

type Invocation struct {
	Function string          `json:"functionName"`
	Args     map[string]Node `json:"arguments"`
}

func Const(v any) Node { return Node{Constant: v} }

func Invoke(fn string, args map[string]Node) Node {
	return Node{Invocation: &Invocation{Function: fn, Args: args}}
}

// Function returns the invoked function name, or "" for constants.
func (n Node) Function() string {
	if n.Invocation == nil {
		return ""
	}
	return n.Invocation.Function
}

// Geometry is a server-side geometry plus the ring it was built from.
type Geometry struct {
	Node Node
	// Ring is the closed outer ring as [lng, lat] pairs.
	Ring [][2]float64
}

func Polygon(ring [][2]float64) Geometry {
	coords := make([][]float64, 0, len(ring))
	for _, p := range ring {
		coords = append(coords, []float64{p[0], p[1]})
	}
	return Geometry{
		Node: Invoke("GeometryConstructors.Polygon", map[string]Node{
			"coordinates": Const([][][]float64{coords}),
			"geodesic":    Const(true),
		}),
		Ring: ring,
	}
}

func Rectangle(b orb.Bound) Geometry {
	return Geometry{
		Node: Invoke("GeometryConstructors.Rectangle", map[string]Node{
			"coordinates": Const([]float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}),
			"geodesic":    Const(false),
		}),
		Ring: [][2]float64{
			{b.Min.Lon(), b.Min.Lat()}, {b.Max.Lon(), b.Min.Lat()},
			{b.Max.Lon(), b.Max.Lat()}, {b.Min.Lon(), b.Max.Lat()},
			{b.Min.Lon(), b.Min.Lat()},
		},
	}
}

// Filters records what has been applied to a collection so far.
type Filters struct {
	CollectionID string
	Start, End   time.Time
	CloudCeiling int
	Bounds       *Geometry
}

type Collection struct {
	Node    Node
	Filters Filters
}

// CloudProperty is the per-scene cloud percentage property of Sentinel-2 SR.
const CloudProperty = "CLOUDY_PIXEL_PERCENTAGE"

func LoadCollection(id string) Collection {
	return Collection{
		Node:    Invoke("ImageCollection.load", map[string]Node{"id": Const(id)}),
		Filters: Filters{CollectionID: id, CloudCeiling: 100},
	}
}

func (c Collection) filter(f Node) Node {
	return Invoke("Collection.filter", map[string]Node{"collection": c.Node, "filter": f})
}

// FilterDate keeps scenes captured in [start, end).
func (c Collection) FilterDate(start, end time.Time) Collection {
	f := Invoke("Filter.dateRangeContains", map[string]Node{
		"leftValue": Invoke("DateRange", map[string]Node{
			"start": Const(start.UnixMilli()),
			"end":   Const(end.UnixMilli()),
		}),
		"rightField": Const("system:time_start"),
	})
	out := Collection{Node: c.filter(f), Filters: c.Filters}
	out.Filters.Start, out.Filters.End = start, end
	return out
}

func (c Collection) FilterBounds(g Geometry) Collection {
	f := Invoke("Filter.intersects", map[string]Node{
		"leftField":  Const(".all"),
		"rightValue": g.Node,
	})
	out := Collection{Node: c.filter(f), Filters: c.Filters}
	out.Filters.Bounds = &g
	return out
}

func (c Collection) FilterCloud(ceiling int) Collection {
	f := Invoke("Filter.lessThanOrEquals", map[string]Node{
		"leftField":  Const(CloudProperty),
		"rightValue": Const(ceiling),
	})
	out := Collection{Node: c.filter(f), Filters: c.Filters}
	out.Filters.CloudCeiling = ceiling
	return out
}

func (c Collection) Size() Node {
	return Invoke("Collection.size", map[string]Node{"collection": c.Node})
}

// Latest is the most recent scene in the collection.
func (c Collection) Latest() Node {
	sorted := Invoke("Collection.limit", map[string]Node{
		"collection": c.Node,
		"limit":      Const(1),
		"key":        Const("system:time_start"),
		"ascending":  Const(false),
	})
	return Invoke("Collection.first", map[string]Node{"collection": sorted})
}

// Image is a server-side raster handle. Band and Scene describe what the
// graph produces so callers never need a round trip to ask.
type Image struct {
	Node  Node
	Scene string
	Band  string
	// Clipped is the most recent clip region, nil when unclipped.
	Clipped *Geometry
}

// RGBBand marks the true-colour composite.
const RGBBand = "RGB"

func LoadImage(id string) Image {
	return Image{
		Node:  Invoke("Image.load", map[string]Node{"id": Const(id)}),
		Scene: id,
	}
}

func (i Image) Clip(g Geometry) Image {
	out := i
	out.Node = Invoke("Image.clip", map[string]Node{"input": i.Node, "geometry": g.Node})
	out.Clipped = &g
	return out
}

func (i Image) Select(bands ...string) Image {
	out := i
	out.Node = Invoke("Image.select", map[string]Node{
		"input":         i.Node,
		"bandSelectors": Const(bands),
	})
	if len(bands) == 1 {
		out.Band = bands[0]
	}
	return out
}

// TrueColor selects the visible bands for an RGB composite.
func (i Image) TrueColor() Image {
	out := i.Select("B4", "B3", "B2")
	out.Band = RGBBand
	return out
}

// Index scales raw digital numbers to reflectance and applies the formula,
// naming the single output band after the index.
func (i Image) Index(f indices.Formula) Image {
	reflectance := Invoke("Image.divide", map[string]Node{
		"image1": i.Node,
		"image2": Invoke("Image.constant", map[string]Node{"value": Const(10000)}),
	})
	vars := make(map[string]Node, len(f.Bands))
	for v, band := range f.Bands {
		vars[v] = Invoke("Image.select", map[string]Node{
			"input":         reflectance,
			"bandSelectors": Const([]string{band}),
		})
	}
	expr := Invoke("Image.expression", map[string]Node{
		"expression": Const(f.Expression),
		"map":        Invoke("Dictionary", vars),
	})
	out := i
	out.Node = Invoke("Image.rename", map[string]Node{
		"input": expr,
		"names": Const([]string{string(f.Type)}),
	})
	out.Band = string(f.Type)
	return out
}

// SceneProperties requests the capture metadata of the latest scene of c.
func SceneProperties(c Collection) Node {
	return Invoke("Element.toDictionary", map[string]Node{
		"element":    c.Latest(),
		"properties": Const([]string{"system:index", "system:time_start", CloudProperty}),
	})
}

// ReduceMinMaxMean runs min, max and mean in one pass over region.
func ReduceMinMaxMean(img Image, region Geometry, scale float64) Node {
	reducer := Invoke("Reducer.combine", map[string]Node{
		"reducer1":     Invoke("Reducer.minMax", map[string]Node{}),
		"reducer2":     Invoke("Reducer.mean", map[string]Node{}),
		"sharedInputs": Const(true),
	})
	return Invoke("Image.reduceRegion", map[string]Node{
		"image":      img.Node,
		"reducer":    reducer,
		"geometry":   region.Node,
		"scale":      Const(scale),
		"bestEffort": Const(true),
		"tileScale":  Const(4),
		"maxPixels":  Const(1e13),
	})
}

// ThumbnailOf fits img into region at the given pixel size.
func ThumbnailOf(img Image, region Geometry, width, height int) Image {
	out := img
	out.Node = Invoke("Image.clipToBoundsAndScale", map[string]Node{
		"input":    img.Node,
		"geometry": region.Node,
		"width":    Const(width),
		"height":   Const(height),
	})
	return out
}
