// Package resultcache stores finished index results keyed by request
// fingerprint. Reads go L1 (in-process LRU) then L2 (Redis); writes land in
// L1 immediately and reach L2 through a bounded background queue, so a slow
// or unavailable Redis never fails or delays a request.
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/cache/keys"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/observability"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
)

// Entry is a cached successful result. Entries never expire; a "latest" key
// goes stale when newer imagery lands and is dropped by invalidation.
type Entry struct {
	TileURL        string    `json:"tile_url"`
	Min            float64   `json:"min"`
	Max            float64   `json:"max"`
	Mean           float64   `json:"mean"`
	SceneDateToken string    `json:"scene_date_token"`
	SceneDate      time.Time `json:"scene_date"`
	SceneID        string    `json:"scene_id"`
	IndexType      string    `json:"index_type"`
	Scale          int       `json:"scale"`
	CreatedAt      time.Time `json:"created_at"`
}

type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	Del(ctx context.Context, keys ...string) error
}

// Indexer records which spatial cells a "latest" key covers.
type Indexer interface {
	Add(ctx context.Context, key string, poly geo.Polygon) error
}

// Bus carries evictions between instances that share an L2, so an
// invalidation applied by one instance also clears every other L1.
type Bus interface {
	Publish(ctx context.Context, channel, msg string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
}

type Options struct {
	L1Size     int
	WriteQueue int
	OpTimeout  time.Duration
	Index      Indexer
	Bus        Bus
	// Channel is the eviction channel on Bus.
	Channel string
}

type writeJob struct {
	ctx     context.Context
	seq     uint64
	key     string
	payload []byte
	poly    geo.Polygon
	latest  bool
}

type Cache struct {
	l1   *lru.Cache[string, Entry]
	l2   Backend
	opts Options
	log  *slog.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan writeJob
	wg     sync.WaitGroup

	// pending counts queued writes per key; tomb holds the highest job
	// sequence invalidated while writes for that key were still queued.
	pmu     sync.Mutex
	seq     uint64
	pending map[string]int
	tomb    map[string]uint64

	stopListen context.CancelFunc
	listenWG   sync.WaitGroup
}

// New starts the L2 writer. l2 may be nil for an L1-only cache.
func New(l2 Backend, opts Options, log *slog.Logger) (*Cache, error) {
	if opts.L1Size <= 0 {
		opts.L1Size = 1024
	}
	if opts.WriteQueue <= 0 {
		opts.WriteQueue = 256
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 250 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.Channel == "" {
		opts.Channel = "vi:evict"
	}
	l1, err := lru.New[string, Entry](opts.L1Size)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	c := &Cache{
		l1:   l1,
		l2:   l2,
		opts: opts,
		log:  log,
		jobs: make(chan writeJob, opts.WriteQueue),

		pending: make(map[string]int),
		tomb:    make(map[string]uint64),
	}
	c.wg.Add(1)
	go c.writer()
	return c, nil
}

// Get never fails: any L2 error or undecodable value is logged and counted as
// a miss.
func (c *Cache) Get(ctx context.Context, fp keys.Fingerprint) (Entry, bool) {
	key := fp.Key()
	if e, ok := c.l1.Get(key); ok {
		observability.IncCacheResult("hit_l1")
		return e, true
	}
	if c.l2 == nil {
		observability.IncCacheResult("miss")
		return Entry{}, false
	}

	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	raw, ok, err := c.l2.Get(opCtx, key)
	if err != nil {
		c.log.WarnContext(ctx, "cache read failed, treating as miss", "key", key, "error", err)
		observability.IncCacheResult("miss")
		return Entry{}, false
	}
	if !ok {
		observability.IncCacheResult("miss")
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.WarnContext(ctx, "cache entry undecodable, treating as miss", "key", key, "error", err)
		observability.IncCacheResult("miss")
		return Entry{}, false
	}
	c.l1.Add(key, e)
	observability.IncCacheResult("hit_l2")
	return e, true
}

// Put is fire-and-forget. The L1 write is immediate; the L2 write is queued
// and dropped when the queue is full.
func (c *Cache) Put(ctx context.Context, fp keys.Fingerprint, e Entry, poly geo.Polygon) {
	key := fp.Key()
	c.l1.Add(key, e)
	if c.l2 == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		c.fail(ctx, key, "encode", err)
		return
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.fail(ctx, key, "closed", errors.New("cache closed"))
		return
	}
	job := writeJob{
		ctx:     context.WithoutCancel(ctx),
		seq:     c.enqueue(key),
		key:     key,
		payload: payload,
		poly:    poly,
		latest:  fp.IsLatest(),
	}
	select {
	case c.jobs <- job:
	default:
		c.done(key)
		c.fail(ctx, key, "queue_full", errors.New("write queue full"))
	}
}

func (c *Cache) enqueue(key string) uint64 {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	c.seq++
	c.pending[key]++
	return c.seq
}

func (c *Cache) done(key string) {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	if c.pending[key]--; c.pending[key] <= 0 {
		delete(c.pending, key)
		delete(c.tomb, key)
	}
}

// dropped reports whether the job was invalidated after it was queued.
func (c *Cache) dropped(job writeJob) bool {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	t, ok := c.tomb[job.key]
	return ok && job.seq <= t
}

func (c *Cache) writer() {
	defer c.wg.Done()
	for job := range c.jobs {
		c.write(job)
	}
}

func (c *Cache) write(job writeJob) {
	defer c.done(job.key)
	if c.dropped(job) {
		return
	}
	ctx, cancel := context.WithTimeout(job.ctx, c.opts.OpTimeout)
	defer cancel()
	if err := c.l2.Set(ctx, job.key, job.payload); err != nil {
		c.fail(job.ctx, job.key, "redis", err)
		return
	}
	// an invalidation that raced the Set must still win
	if c.dropped(job) {
		if err := c.l2.Del(ctx, job.key); err != nil {
			c.fail(job.ctx, job.key, "redis", err)
		}
		return
	}
	if job.latest && c.opts.Index != nil {
		if err := c.opts.Index.Add(ctx, job.key, job.poly); err != nil {
			c.fail(job.ctx, job.key, "index", err)
		}
	}
}

func (c *Cache) fail(ctx context.Context, key, reason string, err error) {
	observability.IncCacheWriteFailure(reason)
	c.log.WarnContext(ctx, "CacheWriteFailed", "key", key, "reason", reason, "error", err)
}

// Invalidate drops keys from both tiers, cancels their queued L2 writes and
// tells other instances on the bus to drop them from their L1.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	c.evictLocal(keys)
	if c.l2 == nil {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	if err := c.l2.Del(opCtx, keys...); err != nil {
		return fmt.Errorf("invalidate %d keys: %w", len(keys), err)
	}
	if c.opts.Bus == nil {
		return nil
	}
	msg, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode eviction: %w", err)
	}
	if err := c.opts.Bus.Publish(opCtx, c.opts.Channel, string(msg)); err != nil {
		return fmt.Errorf("broadcast eviction of %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *Cache) evictLocal(keys []string) {
	c.pmu.Lock()
	for _, k := range keys {
		if c.pending[k] > 0 {
			c.tomb[k] = c.seq
		}
	}
	c.pmu.Unlock()
	for _, k := range keys {
		c.l1.Remove(k)
	}
}

// Listen subscribes to evictions from other instances. It returns once the
// first subscription is confirmed and resubscribes in the background after a
// dropped connection, until ctx ends or the cache is closed.
func (c *Cache) Listen(ctx context.Context) error {
	if c.opts.Bus == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	msgs, err := c.opts.Bus.Subscribe(ctx, c.opts.Channel)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe evictions: %w", err)
	}
	c.mu.Lock()
	c.stopListen = cancel
	c.mu.Unlock()

	c.listenWG.Add(1)
	go func() {
		defer c.listenWG.Done()
		for {
			if msgs != nil {
				for msg := range msgs {
					var ks []string
					if err := json.Unmarshal([]byte(msg), &ks); err != nil {
						c.log.Warn("undecodable eviction", "error", err)
						continue
					}
					c.evictLocal(ks)
				}
			}
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("eviction subscription lost, resubscribing")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			if msgs, err = c.opts.Bus.Subscribe(ctx, c.opts.Channel); err != nil {
				c.log.Warn("resubscribe evictions", "error", err)
				msgs = nil
			}
		}
	}()
	return nil
}

// Close stops accepting writes and waits for queued ones until ctx ends.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.stopListen != nil {
		c.stopListen()
	}
	if !c.closed {
		c.closed = true
		close(c.jobs)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		c.listenWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain cache writes: %w", ctx.Err())
	}
}
