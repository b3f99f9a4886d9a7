package resultcache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/cache/keys"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/cache/redisstore"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
)

func field() geo.Polygon {
	return geo.Polygon{{Lat: 59.33, Lng: 18.06}, {Lat: 59.33, Lng: 18.07}, {Lat: 59.335, Lng: 18.07}}
}

func entry() Entry {
	return Entry{
		TileURL:        "https://tiles.example/maps/abc/tiles/{z}/{x}/{y}",
		Min:            0.1,
		Max:            0.8,
		Mean:           0.5,
		SceneDateToken: "2026-10-01",
		SceneID:        "COPERNICUS/S2_SR_HARMONIZED/20261001T102021",
		IndexType:      "NDVI",
		Scale:          100,
		CreatedAt:      time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC),
	}
}

func newMini(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return dial(t, mr), mr
}

func dial(t *testing.T, mr *miniredis.Miniredis) *redisstore.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cli, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func newCache(t *testing.T, l2 Backend, opts Options) *Cache {
	t.Helper()
	c, err := New(l2, opts, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func drain(t *testing.T, c *Cache) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPutThenGet_L1(t *testing.T) {
	cli, _ := newMini(t)
	c := newCache(t, cli, Options{})
	defer drain(t, c)

	fp := keys.New("vi", field(), "NDVI", 20, keys.Latest)
	if _, ok := c.Get(context.Background(), fp); ok {
		t.Fatal("hit on empty cache")
	}

	c.Put(context.Background(), fp, entry(), field())
	got, ok := c.Get(context.Background(), fp)
	if !ok {
		t.Fatal("miss after Put")
	}
	if got != entry() {
		t.Fatalf("got %+v want %+v", got, entry())
	}
}

func TestSurvivesRestartThroughL2(t *testing.T) {
	cli, mr := newMini(t)
	fp := keys.New("vi", field(), "NDVI", 20, "2026-10-01")

	c1 := newCache(t, cli, Options{})
	c1.Put(context.Background(), fp, entry(), field())
	drain(t, c1)
	if !mr.Exists(fp.Key()) {
		t.Fatal("entry not written to redis")
	}
	if ttl := mr.TTL(fp.Key()); ttl != 0 {
		t.Fatalf("entries carry no expiry, ttl=%s", ttl)
	}

	c2 := newCache(t, cli, Options{})
	defer drain(t, c2)
	got, ok := c2.Get(context.Background(), fp)
	if !ok || got.Mean != entry().Mean {
		t.Fatalf("Get after restart = %+v %v", got, ok)
	}
}

func TestUndecodableEntryIsMiss(t *testing.T) {
	cli, mr := newMini(t)
	fp := keys.New("vi", field(), "EVI", 20, keys.Latest)
	if err := mr.Set(fp.Key(), "{not json"); err != nil {
		t.Fatal(err)
	}

	c := newCache(t, cli, Options{})
	defer drain(t, c)
	if _, ok := c.Get(context.Background(), fp); ok {
		t.Fatal("undecodable entry served as a hit")
	}
}

func TestRedisDownIsMissAndPutDoesNotFail(t *testing.T) {
	cli, mr := newMini(t)
	c := newCache(t, cli, Options{OpTimeout: 50 * time.Millisecond})
	mr.Close()

	fp := keys.New("vi", field(), "NDVI", 30, keys.Latest)
	if _, ok := c.Get(context.Background(), fp); ok {
		t.Fatal("hit with redis down")
	}

	c.Put(context.Background(), fp, entry(), field())
	drain(t, c)
	if _, ok := c.Get(context.Background(), fp); !ok {
		t.Fatal("L1 should still serve the entry")
	}
}

// gatedBackend blocks every Set until release is closed.
type gatedBackend struct {
	release chan struct{}
	mu      sync.Mutex
	set     []string
	deleted []string
}

func (b *gatedBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (b *gatedBackend) Del(_ context.Context, ks ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, ks...)
	return nil
}

func (b *gatedBackend) Set(_ context.Context, key string, _ []byte) error {
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set = append(b.set, key)
	return nil
}

func (b *gatedBackend) written() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.set)
}

func TestFullQueueDropsWrites(t *testing.T) {
	be := &gatedBackend{release: make(chan struct{})}
	c := newCache(t, be, Options{WriteQueue: 1})

	for i := range 10 {
		c.Put(context.Background(), keys.New("vi", field(), "NDVI", 20+i, keys.Latest), entry(), field())
	}
	close(be.release)
	drain(t, c)

	if n := len(be.written()); n < 1 || n >= 10 {
		t.Fatalf("writes=%d, want some but not all", n)
	}
}

type recordingIndex struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (r *recordingIndex) Add(_ context.Context, key string, _ geo.Polygon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return r.err
}

func (r *recordingIndex) added() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.keys)
}

func TestOnlyLatestKeysAreIndexed(t *testing.T) {
	cli, _ := newMini(t)
	idx := &recordingIndex{}
	c := newCache(t, cli, Options{Index: idx})

	latest := keys.New("vi", field(), "NDVI", 20, keys.Latest)
	dated := keys.New("vi", field(), "NDVI", 20, "2026-10-01")
	c.Put(context.Background(), latest, entry(), field())
	c.Put(context.Background(), dated, entry(), field())
	drain(t, c)

	if got := idx.added(); !slices.Equal(got, []string{latest.Key()}) {
		t.Fatalf("indexed %v, want only %s", got, latest.Key())
	}
}

func TestIndexFailureDoesNotLoseEntry(t *testing.T) {
	cli, mr := newMini(t)
	c := newCache(t, cli, Options{Index: &recordingIndex{err: errors.New("boom")}})

	fp := keys.New("vi", field(), "NDVI", 20, keys.Latest)
	c.Put(context.Background(), fp, entry(), field())
	drain(t, c)
	if !mr.Exists(fp.Key()) {
		t.Fatal("entry lost after index failure")
	}
}

func TestInvalidateDropsBothTiers(t *testing.T) {
	cli, mr := newMini(t)
	c := newCache(t, cli, Options{})

	fp := keys.New("vi", field(), "NDVI", 20, keys.Latest)
	c.Put(context.Background(), fp, entry(), field())
	drain(t, c)
	if !mr.Exists(fp.Key()) {
		t.Fatal("entry not written")
	}

	if err := c.Invalidate(context.Background(), fp.Key()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if mr.Exists(fp.Key()) {
		t.Fatal("redis entry survived")
	}
	if _, ok := c.Get(context.Background(), fp); ok {
		t.Fatal("L1 entry survived")
	}
}

func TestInvalidateCancelsQueuedWrite(t *testing.T) {
	be := &gatedBackend{release: make(chan struct{})}
	idx := &recordingIndex{}
	c := newCache(t, be, Options{Index: idx})

	// the writer blocks on the first job, so the second stays queued
	first := keys.New("vi", field(), "NDVI", 20, keys.Latest)
	stale := keys.New("vi", field(), "NDVI", 30, keys.Latest)
	c.Put(context.Background(), first, entry(), field())
	c.Put(context.Background(), stale, entry(), field())

	if err := c.Invalidate(context.Background(), stale.Key()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	close(be.release)
	drain(t, c)

	if got := be.written(); !slices.Equal(got, []string{first.Key()}) {
		t.Fatalf("written %v: a queued write brought the invalidated key back", got)
	}
	if got := idx.added(); !slices.Equal(got, []string{first.Key()}) {
		t.Fatalf("indexed %v", got)
	}
	if _, ok := c.Get(context.Background(), stale); ok {
		t.Fatal("invalidated key still in L1")
	}
}

func TestPutAfterInvalidateIsWritten(t *testing.T) {
	be := &gatedBackend{release: make(chan struct{})}
	c := newCache(t, be, Options{})

	blocker := keys.New("vi", field(), "NDVI", 40, keys.Latest)
	fp := keys.New("vi", field(), "NDVI", 20, keys.Latest)
	c.Put(context.Background(), blocker, entry(), field())
	c.Put(context.Background(), fp, entry(), field())
	if err := c.Invalidate(context.Background(), fp.Key()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	c.Put(context.Background(), fp, entry(), field())
	close(be.release)
	drain(t, c)

	if got := be.written(); !slices.Equal(got, []string{blocker.Key(), fp.Key()}) {
		t.Fatalf("written %v, want the blocker and only the write queued after the invalidation", got)
	}
}

func TestInvalidateReachesOtherInstances(t *testing.T) {
	cliA, mr := newMini(t)
	cliB := dial(t, mr)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := newCache(t, cliA, Options{Bus: cliA, Channel: "vi:evict"})
	defer drain(t, a)
	b := newCache(t, cliB, Options{Bus: cliB, Channel: "vi:evict"})
	defer drain(t, b)
	if err := b.Listen(ctx); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	fp := keys.New("vi", field(), "NDVI", 20, keys.Latest)
	b.Put(ctx, fp, entry(), field())
	waitFor(t, "L2 write", func() bool { return mr.Exists(fp.Key()) })

	if err := a.Invalidate(ctx, fp.Key()); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if mr.Exists(fp.Key()) {
		t.Fatal("redis entry survived")
	}
	waitFor(t, "peer L1 eviction", func() bool {
		_, ok := b.Get(ctx, fp)
		return !ok
	})
}

func TestPutAfterCloseIsDropped(t *testing.T) {
	cli, mr := newMini(t)
	c := newCache(t, cli, Options{})
	drain(t, c)

	fp := keys.New("vi", field(), "NDVI", 20, keys.Latest)
	c.Put(context.Background(), fp, entry(), field())
	if mr.Exists(fp.Key()) {
		t.Fatal("write accepted after Close")
	}
}
