// Package cellindex maps H3 cells to the "latest" result keys whose polygons
// touch them, so fresh imagery over a footprint can find the entries it
// makes stale without scanning the keyspace.
package cellindex

import (
	"context"
	"fmt"
	"slices"

	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
)

type Store interface {
	SAddMany(ctx context.Context, sets []string, member string) error
	SMembers(ctx context.Context, set string) ([]string, error)
	SRem(ctx context.Context, set string, members ...string) error
}

type Index struct {
	store  Store
	prefix string
	res    int
}

func New(store Store, prefix string, res int) (*Index, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	if prefix == "" {
		prefix = "vi"
	}
	return &Index{store: store, prefix: prefix, res: res}, nil
}

func (ix *Index) setKey(cell string) string {
	return fmt.Sprintf("%s:cell:r%d:%s", ix.prefix, ix.res, cell)
}

// Add registers key under every cell the polygon touches.
func (ix *Index) Add(ctx context.Context, key string, poly geo.Polygon) error {
	cells, err := Cells(poly, ix.res)
	if err != nil {
		return err
	}
	sets := make([]string, len(cells))
	for i, c := range cells {
		sets[i] = ix.setKey(c)
	}
	if err := ix.store.SAddMany(ctx, sets, key); err != nil {
		return fmt.Errorf("cellindex add: %w", err)
	}
	return nil
}

// Lookup returns every key registered in the footprint's cells or their
// immediate neighbours. It over-reports near edges; callers treat the
// result as candidates.
func (ix *Index) Lookup(ctx context.Context, footprint geo.Polygon) ([]string, error) {
	cells, err := neighbourhood(footprint, ix.res)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, c := range cells {
		members, err := ix.store.SMembers(ctx, ix.setKey(c))
		if err != nil {
			return nil, fmt.Errorf("cellindex lookup: %w", err)
		}
		for _, m := range members {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out, nil
}

// Remove unregisters keys from the footprint's neighbourhood.
func (ix *Index) Remove(ctx context.Context, footprint geo.Polygon, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cells, err := neighbourhood(footprint, ix.res)
	if err != nil {
		return err
	}
	for _, c := range cells {
		if err := ix.store.SRem(ctx, ix.setKey(c), keys...); err != nil {
			return fmt.Errorf("cellindex remove: %w", err)
		}
	}
	return nil
}

// Cells covers poly at res: the polyfill plus the cells of every vertex and
// the centroid, so polygons smaller than one cell still map somewhere.
func Cells(poly geo.Polygon, res int) ([]string, error) {
	open := poly.Open()
	if len(open) < 3 {
		return nil, geo.ErrTooFewPoints
	}
	loop := make(h3.GeoLoop, 0, len(open))
	for _, v := range open {
		loop = append(loop, h3.LatLng{Lat: v.Lat, Lng: v.Lng})
	}
	filled, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	c := poly.Centroid()
	points := append(loop, h3.LatLng{Lat: c.Lat, Lng: c.Lng})
	for _, p := range points {
		cell, err := h3.LatLngToCell(p, res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell for %v: %w", p, err)
		}
		filled = append(filled, cell)
	}
	return uniq(filled), nil
}

func neighbourhood(poly geo.Polygon, res int) ([]string, error) {
	cells, err := Cells(poly, res)
	if err != nil {
		return nil, err
	}
	var all []h3.Cell
	for _, s := range cells {
		var c h3.Cell
		if err := c.UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("parse cell: %w", err)
		}
		disk, err := c.GridDisk(1)
		if err != nil {
			return nil, fmt.Errorf("h3 disk: %w", err)
		}
		all = append(all, disk...)
	}
	return uniq(all), nil
}

// sorted for determinism
func uniq(cells []h3.Cell) []string {
	seen := make(map[h3.Cell]struct{}, len(cells))
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c.String())
	}
	slices.Sort(out)
	return out
}
