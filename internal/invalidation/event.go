package invalidation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
)

// SceneIngested announces new imagery over a footprint. Version increases
// per scene; reprocessed scenes are re-announced with a higher version.
type SceneIngested struct {
	Version    uint64          `json:"version"`
	SceneID    string          `json:"scene_id"`
	Collection string          `json:"collection,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
	TS         time.Time       `json:"ts"`
	Footprint  json.RawMessage `json:"footprint"`
}

func (e SceneIngested) Validate() error {
	if e.Version == 0 {
		return fmt.Errorf("version must be positive")
	}
	if strings.TrimSpace(e.SceneID) == "" {
		return fmt.Errorf("scene_id is required")
	}
	if e.CapturedAt.IsZero() {
		return fmt.Errorf("captured_at is required")
	}
	if len(e.Footprint) == 0 {
		return fmt.Errorf("footprint is required")
	}
	if _, err := e.Polygon(); err != nil {
		return err
	}
	return nil
}

// Polygon decodes the footprint, a GeoJSON Polygon in lon/lat. Holes are
// ignored; only the outer ring bounds the invalidation.
func (e SceneIngested) Polygon() (geo.Polygon, error) {
	out, err := geo.FromGeoJSON(e.Footprint)
	if err != nil {
		return nil, fmt.Errorf("footprint: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("footprint: %w", err)
	}
	return out, nil
}
