// Package report assembles a multi-index report for a configured area by
// running the export flow once per index.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/errs"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/events"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/indices"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/logger"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/pipeline"
)

type Exporter interface {
	Export(ctx context.Context, areaID string, req pipeline.Request) (pipeline.ExportResult, error)
}

// Section is one index of a report. Exactly one of Result and Error is set.
type Section struct {
	Index  indices.Type           `json:"index"`
	Result *pipeline.ExportResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Kind   errs.Kind              `json:"error_kind,omitempty"`
}

type Report struct {
	AreaID      string    `json:"area_id"`
	Name        string    `json:"name,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Sections    []Section `json:"sections"`
}

// Ready counts sections with a ready result.
func (r Report) Ready() int {
	n := 0
	for _, s := range r.Sections {
		if s.Result != nil && s.Result.Outcome == pipeline.Ready {
			n++
		}
	}
	return n
}

type Generator struct {
	exp    Exporter
	areas  AreaStore
	events events.Publisher
	clk    clockwork.Clock
	log    *slog.Logger
}

func NewGenerator(exp Exporter, areas AreaStore, ev events.Publisher, clk clockwork.Clock, log *slog.Logger) *Generator {
	if ev == nil {
		ev = events.Nop{}
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{exp: exp, areas: areas, events: ev, clk: clk, log: log}
}

// Generate exports every configured index in order. A failing index is
// recorded in its section and the rest still run; only a missing area or a
// cancelled context fails the whole report.
func (g *Generator) Generate(ctx context.Context, areaID string) (Report, error) {
	area, err := g.areas.Area(ctx, areaID)
	if err != nil {
		return Report{}, fmt.Errorf("load area: %w", err)
	}
	ctx = logger.WithArea(ctx, area.ID)

	rep := Report{AreaID: area.ID, Name: area.Name, Sections: make([]Section, 0, len(area.Indices))}
	for _, idx := range area.Indices {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		sec := Section{Index: idx}
		res, err := g.exp.Export(ctx, area.ID, pipeline.Request{
			Polygon:        area.Polygon,
			Index:          idx,
			CloudTolerance: area.CloudTolerance,
		})
		if err != nil {
			sec.Error = err.Error()
			sec.Kind = errs.KindOf(err)
			g.log.WarnContext(ctx, "report section failed", "index", idx, "error", err)
		} else {
			sec.Result = &res
		}
		rep.Sections = append(rep.Sections, sec)
	}
	rep.GeneratedAt = g.clk.Now().UTC()

	g.events.Publish(events.Event{
		Type:     events.ReportGenerated,
		AreaID:   area.ID,
		Sections: len(rep.Sections),
	})
	g.log.InfoContext(ctx, "report generated", "sections", len(rep.Sections), "ready", rep.Ready())
	return rep, nil
}
