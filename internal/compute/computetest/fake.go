// Package computetest provides an in-memory compute.Service for tests.
package computetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/compute"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/indices"
)

const Base = "https://compute.test/v1"

// Scene is one synthetic capture. A zero Footprint covers the whole globe.
type Scene struct {
	ID         string
	CapturedAt time.Time
	CloudPct   float64
	Footprint  orb.Bound
	Pixels     []indices.Pixel
}

type thumb struct {
	img compute.Image
	p   compute.ThumbnailParams
}

type Service struct {
	mu        sync.Mutex
	scenes    []Scene
	connected bool
	calls     map[string]int
	fail      map[string]error
	block     map[string]chan struct{}
	thumbs    map[string]thumb
	reduced   []compute.Image
}

var _ compute.Service = (*Service)(nil)

func New(scenes ...Scene) *Service {
	return &Service{
		scenes: scenes,
		calls:  map[string]int{},
		fail:   map[string]error{},
		block:  map[string]chan struct{}{},
		thumbs: map[string]thumb{},
	}
}

func (s *Service) AddScene(sc Scene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes = append(s.scenes, sc)
}

// Fail makes op return err until cleared with a nil err.
func (s *Service) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Block makes op hang until its context ends. The returned channel is
// closed when the first blocked call starts.
func (s *Service) Block(op string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.block[op] = ch
	return ch
}

func (s *Service) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls counts every remote operation except connect.
func (s *Service) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for op, c := range s.calls {
		if op != "connect" {
			n += c
		}
	}
	return n
}

// Reduced returns the images passed to ReduceRegion.
func (s *Service) Reduced() []compute.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]compute.Image(nil), s.reduced...)
}

func (s *Service) enter(ctx context.Context, op string) error {
	s.mu.Lock()
	s.calls[op]++
	err := s.fail[op]
	ch, blocked := s.block[op]
	if blocked {
		delete(s.block, op)
	}
	s.mu.Unlock()

	if blocked {
		close(ch)
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (s *Service) Connect(ctx context.Context) error {
	if err := s.enter(ctx, "connect"); err != nil {
		return err
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Service) matching(f compute.Filters) []Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Scene
	for _, sc := range s.scenes {
		if sc.CloudPct > float64(f.CloudCeiling) {
			continue
		}
		if !f.Start.IsZero() && sc.CapturedAt.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && !sc.CapturedAt.Before(f.End) {
			continue
		}
		if f.Bounds != nil && !sc.Footprint.IsZero() && !sc.Footprint.Intersects(ringBound(f.Bounds.Ring)) {
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapturedAt.After(out[j].CapturedAt) })
	return out
}

func (s *Service) Count(ctx context.Context, c compute.Collection) (int, error) {
	if err := s.enter(ctx, "count"); err != nil {
		return 0, err
	}
	return len(s.matching(c.Filters)), nil
}

func (s *Service) Scene(ctx context.Context, c compute.Collection) (compute.SceneInfo, error) {
	if err := s.enter(ctx, "scene_info"); err != nil {
		return compute.SceneInfo{}, err
	}
	m := s.matching(c.Filters)
	if len(m) == 0 {
		return compute.SceneInfo{}, errors.New("Element.toDictionary: empty result")
	}
	return compute.SceneInfo{ID: m[0].ID, CapturedAt: m[0].CapturedAt, CloudPct: m[0].CloudPct}, nil
}

func (s *Service) scene(id string) (Scene, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range s.scenes {
		if sc.ID == id {
			return sc, true
		}
	}
	return Scene{}, false
}

func (s *Service) values(img compute.Image) ([]float64, error) {
	sc, ok := s.scene(img.Scene)
	if !ok {
		return nil, fmt.Errorf("Image.load: asset %q not found", img.Scene)
	}
	f, ok := indices.Lookup(indices.Type(img.Band))
	if !ok {
		return nil, fmt.Errorf("band %q not found", img.Band)
	}
	out := make([]float64, 0, len(sc.Pixels))
	for _, p := range sc.Pixels {
		if v := f.Eval(p); !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Service) ReduceRegion(ctx context.Context, img compute.Image, _ compute.Geometry, _ float64) (map[string]float64, error) {
	if err := s.enter(ctx, "reduce_region"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.reduced = append(s.reduced, img)
	s.mu.Unlock()

	vals, err := s.values(img)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	if len(vals) == 0 {
		return out, nil
	}
	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, v := range vals {
		lo, hi, sum = math.Min(lo, v), math.Max(hi, v), sum+v
	}
	out[img.Band+"_min"] = lo
	out[img.Band+"_max"] = hi
	out[img.Band+"_mean"] = sum / float64(len(vals))
	return out, nil
}

func (s *Service) GetMap(ctx context.Context, img compute.Image, vis compute.Vis) (string, error) {
	if err := s.enter(ctx, "get_map"); err != nil {
		return "", err
	}
	id := strings.ReplaceAll(img.Scene, "/", "_")
	return fmt.Sprintf("%s/projects/test/maps/%s-%s-%g-%g/tiles/{z}/{x}/{y}", Base, id, img.Band, vis.Min, vis.Max), nil
}

func (s *Service) GetThumbnail(ctx context.Context, img compute.Image, p compute.ThumbnailParams) (string, error) {
	if err := s.enter(ctx, "get_thumbnail"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u := fmt.Sprintf("%s/projects/test/thumbnails/%d:getPixels", Base, len(s.thumbs)+1)
	s.thumbs[u] = thumb{img: img, p: p}
	return u, nil
}

// Download renders a solid PNG: a soil colour for RGB thumbnails, the palette
// colour of the mean value for index thumbnails.
func (s *Service) Download(ctx context.Context, url string) ([]byte, error) {
	if err := s.enter(ctx, "download"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	th, ok := s.thumbs[url]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("download %s: status 404", url)
	}

	w, h := th.p.Width, th.p.Height
	if w <= 0 || h <= 0 {
		w, h = 64, 48
	}
	fill := color.RGBA{R: 0x8b, G: 0x73, B: 0x55, A: 0xff}
	if th.img.Band != compute.RGBBand {
		vals, err := s.values(th.img)
		if err != nil {
			return nil, err
		}
		if len(vals) > 0 && len(th.p.Vis.Palette) > 0 {
			mean := 0.0
			for _, v := range vals {
				mean += v
			}
			mean /= float64(len(vals))
			t := 0.5
			if span := th.p.Vis.Max - th.p.Vis.Min; span > 0 {
				t = (mean - th.p.Vis.Min) / span
			}
			if fill, err = indices.Palette(th.p.Vis.Palette).At(t); err != nil {
				return nil, err
			}
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ringBound(ring [][2]float64) orb.Bound {
	if len(ring) == 0 {
		return orb.Bound{}
	}
	b := orb.Bound{Min: orb.Point(ring[0]), Max: orb.Point(ring[0])}
	for _, p := range ring[1:] {
		b = b.Extend(orb.Point(p))
	}
	return b
}

// Canopy returns n pixels of healthy vegetation with a little spread.
func Canopy(n int) []indices.Pixel {
	out := make([]indices.Pixel, n)
	for i := range out {
		d := float64(i%10) * 0.005
		out[i] = indices.Pixel{Blue: 0.03, Green: 0.06, Red: 0.04 + d, RedEdge1: 0.12, RedEdge2: 0.25, NIR: 0.45 - d}
	}
	return out
}
