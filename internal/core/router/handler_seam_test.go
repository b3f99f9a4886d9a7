package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/errs"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/pipeline"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/report"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/stats"
)

type fakePipeline struct {
	res     pipeline.Result
	err     error
	lastReq pipeline.Request
	lastID  string
}

func (f *fakePipeline) ProcessIndex(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
	f.lastReq = req
	return f.res, f.err
}

func (f *fakePipeline) Export(_ context.Context, areaID string, req pipeline.Request) (pipeline.ExportResult, error) {
	f.lastReq, f.lastID = req, areaID
	if f.err != nil {
		return pipeline.ExportResult{}, f.err
	}
	return pipeline.ExportResult{Result: f.res, AreaID: areaID, ImageURL: "https://cdn.test/x.png"}, nil
}

type fakeReports struct{ err error }

func (f fakeReports) Generate(_ context.Context, areaID string) (report.Report, error) {
	if f.err != nil {
		return report.Report{}, f.err
	}
	return report.Report{AreaID: areaID, Sections: []report.Section{{Index: "NDVI"}}}, nil
}

const farmBody = `{"polygon":[{"lat":0,"lng":30},{"lat":0,"lng":30.02},{"lat":0.02,"lng":30.02},{"lat":0.02,"lng":30}],"index":"NDVI","cloud_tolerance":20}`

func serve(t *testing.T, d Deps, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	if d.Log == nil {
		d.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	New(d).ServeHTTP(rr, req)
	return rr
}

func TestIndex_Ready(t *testing.T) {
	fp := &fakePipeline{res: pipeline.Result{
		Outcome:  pipeline.Ready,
		Artifact: stats.Artifact{Kind: stats.TileTemplate, TileURL: "https://t/{z}/{x}/{y}"},
		Stats:    stats.Result{Min: 0.1, Max: 0.8, Mean: 0.5},
	}}
	rr := serve(t, Deps{Pipeline: fp}, http.MethodPost, "/v1/index", farmBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}

	var got pipeline.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Outcome != pipeline.Ready || got.Stats.Mean != 0.5 {
		t.Errorf("got %+v", got)
	}
	if fp.lastReq.CloudTolerance != 20 {
		t.Errorf("cloud tolerance=%d want 20", fp.lastReq.CloudTolerance)
	}
}

func TestIndex_NoImageryIsOK(t *testing.T) {
	fp := &fakePipeline{res: pipeline.Result{Outcome: pipeline.NoImagery, Tried: []int{20}}}
	rr := serve(t, Deps{Pipeline: fp}, http.MethodPost, "/v1/index", farmBody)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"outcome":"no_imagery"`) {
		t.Errorf("body=%s", rr.Body.String())
	}
}

func TestIndex_ErrorKinds(t *testing.T) {
	cases := map[errs.Kind]int{
		errs.InvalidInput:          http.StatusBadRequest,
		errs.RemoteTimeout:         http.StatusGatewayTimeout,
		errs.StatisticsMissingKeys: http.StatusUnprocessableEntity,
		errs.Remote:                http.StatusBadGateway,
		errs.Internal:              http.StatusInternalServerError,
	}
	for kind, want := range cases {
		fp := &fakePipeline{err: errs.Errorf(kind, "op", "failed")}
		rr := serve(t, Deps{Pipeline: fp}, http.MethodPost, "/v1/index", farmBody)
		if rr.Code != want {
			t.Errorf("%s: status=%d want %d", kind, rr.Code, want)
		}

		var body errorBody
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", kind, err)
		}
		if body.Error.Kind != string(kind) {
			t.Errorf("kind=%q want %q", body.Error.Kind, kind)
		}
	}
}

func TestIndex_BadBodyNeverReachesPipeline(t *testing.T) {
	fp := &fakePipeline{}
	rr := serve(t, Deps{Pipeline: fp}, http.MethodPost, "/v1/index", `{"index":"NDVI"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status=%d want 400", rr.Code)
	}
	if fp.lastReq.Polygon != nil {
		t.Error("pipeline was called")
	}
}

func TestExport_RequiresArea(t *testing.T) {
	fp := &fakePipeline{res: pipeline.Result{Outcome: pipeline.Ready}}
	rr := serve(t, Deps{Pipeline: fp}, http.MethodPost, "/v1/export", farmBody)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status=%d want 400 without area_id", rr.Code)
	}

	withArea := strings.Replace(farmBody, `"index"`, `"area_id":"field-7","index"`, 1)
	rr = serve(t, Deps{Pipeline: fp}, http.MethodPost, "/v1/export", withArea)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if fp.lastID != "field-7" {
		t.Errorf("area=%q", fp.lastID)
	}
	if !strings.Contains(rr.Body.String(), "https://cdn.test/x.png") {
		t.Errorf("body=%s", rr.Body.String())
	}
}

func TestReports(t *testing.T) {
	rr := serve(t, Deps{Pipeline: &fakePipeline{}}, http.MethodPost, "/v1/reports/field-7", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("unconfigured status=%d want 503", rr.Code)
	}

	rr = serve(t, Deps{Pipeline: &fakePipeline{}, Reports: fakeReports{}}, http.MethodPost, "/v1/reports/field-7", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"area_id":"field-7"`) {
		t.Errorf("body=%s", rr.Body.String())
	}

	missing := fakeReports{err: errs.Errorf(errs.NotFound, "area", "unknown area")}
	rr = serve(t, Deps{Pipeline: &fakePipeline{}, Reports: missing}, http.MethodPost, "/v1/reports/ghost", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown area status=%d want 404", rr.Code)
	}
}

func TestProbesAndRequestID(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics") })
	d := Deps{Pipeline: &fakePipeline{}, Metrics: metrics}

	if rr := serve(t, d, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Errorf("healthz status=%d", rr.Code)
	}
	if rr := serve(t, d, http.MethodGet, "/metrics", ""); rr.Body.String() != "# metrics" {
		t.Errorf("metrics body=%q", rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	req.Header.Set("X-Request-ID", "abc123")
	out := httptest.NewRecorder()
	New(d).ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Errorf("readyz status=%d", out.Code)
	}
	if got := out.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("request id=%q want echoed abc123", got)
	}
}
