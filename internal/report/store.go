package report

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/errs"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/indices"
)

// Area is a monitored field and the indices its report covers.
type Area struct {
	ID             string
	Name           string
	Polygon        geo.Polygon
	Indices        []indices.Type
	CloudTolerance int
}

// AreaStore is the metadata owner's view of configured areas.
type AreaStore interface {
	Area(ctx context.Context, id string) (Area, error)
}

type areaDoc struct {
	ID             string      `yaml:"id"`
	Name           string      `yaml:"name"`
	Indices        []string    `yaml:"indices"`
	CloudTolerance *int        `yaml:"cloud_tolerance"`
	Polygon        [][]float64 `yaml:"polygon"`
}

type fileDoc struct {
	Areas []areaDoc `yaml:"areas"`
}

// FileStore serves areas from a YAML file loaded once at startup. It is
// read-only after construction.
type FileStore struct {
	areas map[string]Area
}

const defaultTolerance = 30

func LoadFile(path string) (*FileStore, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read areas file: %w", err)
	}
	return ParseAreas(b)
}

// ParseAreas decodes and validates every area up front so a bad entry is
// found at startup rather than on the first report.
func ParseAreas(b []byte) (*FileStore, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode areas: %w", err)
	}
	s := &FileStore{areas: make(map[string]Area, len(doc.Areas))}
	for i, d := range doc.Areas {
		a, err := d.area()
		if err != nil {
			return nil, fmt.Errorf("area %d (%s): %w", i, d.ID, err)
		}
		if _, dup := s.areas[a.ID]; dup {
			return nil, fmt.Errorf("area %q defined twice", a.ID)
		}
		s.areas[a.ID] = a
	}
	return s, nil
}

func (d areaDoc) area() (Area, error) {
	if strings.TrimSpace(d.ID) == "" {
		return Area{}, fmt.Errorf("missing id")
	}
	poly, err := geo.FromLngLat(d.Polygon)
	if err != nil {
		return Area{}, err
	}
	if err := poly.Validate(); err != nil {
		return Area{}, err
	}
	if len(d.Indices) == 0 {
		return Area{}, fmt.Errorf("no indices configured")
	}
	idx := make([]indices.Type, 0, len(d.Indices))
	for _, name := range d.Indices {
		t, err := indices.Parse(name)
		if err != nil {
			return Area{}, err
		}
		idx = append(idx, t)
	}
	tol := defaultTolerance
	if d.CloudTolerance != nil {
		tol = *d.CloudTolerance
	}
	if tol < 0 || tol > 100 {
		return Area{}, fmt.Errorf("cloud tolerance %d outside 0..100", tol)
	}
	return Area{ID: d.ID, Name: d.Name, Polygon: poly, Indices: idx, CloudTolerance: tol}, nil
}

func (s *FileStore) Area(_ context.Context, id string) (Area, error) {
	a, ok := s.areas[id]
	if !ok {
		return Area{}, errs.Errorf(errs.NotFound, "area", "unknown area %q", id)
	}
	return a, nil
}

func (s *FileStore) Len() int {
	return len(s.areas)
}
