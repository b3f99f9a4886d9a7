package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_PipelineMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test"}})

	observability.IncCacheResult("miss")
	observability.IncCacheResult("hit_l2")
	observability.ObserveCacheOp("get", "ok", 0.002)
	observability.ObserveStage("statistics", 1.5)
	observability.IncCacheWriteFailure("queue_full")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()

	assertHasMetricLine(t, body, "cache_results_total", `outcome="miss"`)
	assertHasMetricLine(t, body, "cache_results_total", `outcome="hit_l2"`)
	assertHasMetricLine(t, body, "redis_operations_total", `op="get"`, `result="ok"`)
	assertHasMetricLine(t, body, "pipeline_stage_duration_seconds_bucket", `stage="statistics"`)
	assertHasMetricLine(t, body, "cache_write_failures_total", `reason="queue_full"`)
	assertHasMetricLine(t, body, "vipipeline_build_info", `version="test"`)
}
