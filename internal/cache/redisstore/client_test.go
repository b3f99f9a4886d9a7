package redisstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/metrics"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestNew_RequiresAddrAndReachableServer(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := New(ctx, "127.0.0.1:1"); err == nil {
		t.Fatal("expected ping error for unreachable server")
	}
}

func TestSetGetMGetDel_HappyPath(t *testing.T) {
	rc, mr := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.Set(ctx, "k2", []byte("v2")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL("k1"); ttl != 0 {
		t.Fatalf("entries must not expire, ttl=%s", ttl)
	}

	v, ok, err := rc.Get(ctx, "k1")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get k1 = %q %v %v", v, ok, err)
	}
	if _, ok, err := rc.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get missing = %v %v, want not found and no error", ok, err)
	}

	got, err := rc.MGet(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 || string(got["k1"]) != "v1" || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected values: %+v", got)
	}

	if err := rc.Del(ctx, "k1", "k2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if mr.Exists("k1") || mr.Exists("k2") {
		t.Fatal("keys survived Del")
	}
}

func TestSets(t *testing.T) {
	rc, _ := newMini(t)
	ctx := context.Background()

	if err := rc.SAddMany(ctx, []string{"cell:a", "cell:b"}, "vi:k1"); err != nil {
		t.Fatalf("SAddMany: %v", err)
	}
	if err := rc.SAddMany(ctx, []string{"cell:a"}, "vi:k2"); err != nil {
		t.Fatalf("SAddMany: %v", err)
	}

	got, err := rc.SMembers(ctx, "cell:a")
	if err != nil {
		t.Fatalf("SMembers: %v", err)
	}
	slices.Sort(got)
	if !slices.Equal(got, []string{"vi:k1", "vi:k2"}) {
		t.Fatalf("members=%v", got)
	}

	if err := rc.SRem(ctx, "cell:a", "vi:k1"); err != nil {
		t.Fatalf("SRem: %v", err)
	}
	got, _ = rc.SMembers(ctx, "cell:a")
	if !slices.Equal(got, []string{"vi:k2"}) {
		t.Fatalf("members after SRem=%v", got)
	}

	empty, err := rc.SMembers(ctx, "cell:none")
	if err != nil || len(empty) != 0 {
		t.Fatalf("SMembers on missing set = %v %v", empty, err)
	}
}

func TestPublishSubscribe(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := rc.Subscribe(ctx, "vi:evict")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := rc.Publish(ctx, "vi:evict", `["vi:k1"]`); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-msgs:
		if got != `["vi:k1"]` {
			t.Fatalf("payload=%q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	select {
	case _, ok := <-msgs:
		for ok {
			_, ok = <-msgs
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed after cancel")
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, _, err := rc.Get(ctx, "k"); err == nil {
		t.Fatalf("expected error on Get with canceled context")
	}
	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
}

func TestMetrics_Incremented(t *testing.T) {
	p := metrics.Init(metrics.Config{})

	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = rc.Set(ctx, "m1", []byte("x"))
	_, _, _ = rc.Get(ctx, "m1")
	_, _, _ = rc.Get(ctx, "nope")
	_ = rc.Del(ctx, "m1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		`redis_operations_total{op="set",result="ok"}`,
		`redis_operations_total{op="get",result="ok"}`,
		`redis_operations_total{op="get",result="miss"}`,
		`redis_operations_total{op="del",result="ok"}`,
		`redis_operation_duration_seconds_bucket{op="set"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s; got:\n%s", want, body)
		}
	}
}
