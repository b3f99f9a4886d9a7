// Package router maps the HTTP surface onto the pipeline.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/errs"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/health"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/middleware"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/indices"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/pipeline"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/report"
)

const maxBody = 1 << 20

type IndexService interface {
	ProcessIndex(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Export(ctx context.Context, areaID string, req pipeline.Request) (pipeline.ExportResult, error)
}

type ReportService interface {
	Generate(ctx context.Context, areaID string) (report.Report, error)
}

type Deps struct {
	Pipeline IndexService
	// Reports may be nil when no area store is configured.
	Reports        ReportService
	Metrics        http.Handler
	Ready          http.HandlerFunc
	CORSOrigins    []string
	RequestTimeout time.Duration
	Log            *slog.Logger
}

func New(d Deps) chi.Router {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Ready == nil {
		d.Ready = health.Readiness(0)
	}
	h := &handlers{d: d}

	r := chi.NewRouter()
	r.Use(middleware.Recover(d.Log))
	r.Use(middleware.Logging(d.Log))
	r.Use(middleware.CORS(d.CORSOrigins))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", d.Ready)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/index", h.index)
		r.Post("/export", h.export)
		r.Post("/reports/{areaID}", h.report)
	})
	return r
}

type handlers struct {
	d Deps
}

// IndexBody is the JSON request for /v1/index and /v1/export. The polygon is
// given either as lat/lng points or as GeoJSON; points win when both are set.
type IndexBody struct {
	Polygon        []geo.LatLng    `json:"polygon,omitempty"`
	Geometry       json.RawMessage `json:"geometry,omitempty"`
	Index          string          `json:"index"`
	CloudTolerance *int            `json:"cloud_tolerance,omitempty"`
	// AsOf is a YYYY-MM-DD date selecting historical mode.
	AsOf   string `json:"as_of,omitempty"`
	AreaID string `json:"area_id,omitempty"`
}

const DefaultCloudTolerance = 30

// ParseIndexBody decodes and converts the body. Failures are InvalidInput.
func ParseIndexBody(r io.Reader) (IndexBody, pipeline.Request, error) {
	const op = "parse_request"
	var b IndexBody
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return b, pipeline.Request{}, errs.E(errs.InvalidInput, op, fmt.Errorf("decode body: %w", err))
	}

	var poly geo.Polygon
	switch {
	case len(b.Polygon) > 0:
		poly = geo.Polygon(b.Polygon)
	case len(b.Geometry) > 0:
		p, err := geo.FromGeoJSON(b.Geometry)
		if err != nil {
			return b, pipeline.Request{}, errs.E(errs.InvalidInput, op, err)
		}
		poly = p
	default:
		return b, pipeline.Request{}, errs.Errorf(errs.InvalidInput, op, "polygon or geometry is required")
	}

	idx, err := indices.Parse(b.Index)
	if err != nil {
		return b, pipeline.Request{}, errs.E(errs.InvalidInput, op, err)
	}

	req := pipeline.Request{Polygon: poly, Index: idx, CloudTolerance: DefaultCloudTolerance}
	if b.CloudTolerance != nil {
		req.CloudTolerance = *b.CloudTolerance
	}
	if s := strings.TrimSpace(b.AsOf); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return b, pipeline.Request{}, errs.Errorf(errs.InvalidInput, op, "as_of must be YYYY-MM-DD, got %q", s)
		}
		req.AsOf = t
	}
	return b, req, nil
}

func (h *handlers) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	if h.d.RequestTimeout > 0 {
		return context.WithTimeout(r.Context(), h.d.RequestTimeout)
	}
	return context.WithCancel(r.Context())
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	_, req, err := ParseIndexBody(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	res, err := h.d.Pipeline.ProcessIndex(ctx, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) export(w http.ResponseWriter, r *http.Request) {
	body, req, err := ParseIndexBody(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if strings.TrimSpace(body.AreaID) == "" {
		h.fail(w, r, errs.Errorf(errs.InvalidInput, "parse_request", "area_id is required for export"))
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	res, err := h.d.Pipeline.Export(ctx, body.AreaID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) report(w http.ResponseWriter, r *http.Request) {
	if h.d.Reports == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{Kind: "unavailable", Message: "reports are not configured"}})
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	rep, err := h.d.Reports.Generate(ctx, chi.URLParam(r, "areaID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type errorDetail struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.InvalidInput:
		return http.StatusBadRequest
	case errs.NotFound:
		return http.StatusNotFound
	case errs.RemoteTimeout:
		return http.StatusGatewayTimeout
	case errs.StatisticsMissingKeys:
		return http.StatusUnprocessableEntity
	case errs.Remote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	kind := errs.KindOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.d.Log.ErrorContext(r.Context(), "request failed", "error", err)
		if !errors.Is(err, context.Canceled) {
			msg = "internal error"
		}
	} else {
		h.d.Log.WarnContext(r.Context(), "request rejected", "kind", kind, "error", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: string(kind), Message: msg, Retryable: errs.Retryable(err)}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
