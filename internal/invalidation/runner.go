// Package invalidation consumes scene-ingest announcements and drops the
// "latest" result entries whose polygons fall under the new scene.
package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/cache/keys"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/observability"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
)

type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

type CellIndex interface {
	Lookup(ctx context.Context, footprint geo.Polygon) ([]string, error)
	Remove(ctx context.Context, footprint geo.Polygon, keys ...string) error
}

type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

func (c Config) withDefaults() Config {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	if c.RebalanceTimeout <= 0 {
		c.RebalanceTimeout = 30 * time.Second
	}
	if c.GroupID == "" {
		c.GroupID = "vegindex-invalidator"
	}
	return c
}

type Runner struct {
	log      *slog.Logger
	cfg      Config
	cache    Invalidator
	idx      CellIndex
	ver      *sceneVersions
	assigned atomic.Bool
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func New(cfg Config, c Invalidator, idx CellIndex, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		log:   log,
		cfg:   cfg.withDefaults(),
		cache: c,
		idx:   idx,
		ver:   newSceneVersions(8192),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		r.log.Info("scene invalidation disabled")
		return nil
	}
	if r.cache == nil || r.idx == nil {
		return errors.New("invalidation runner: cache and cell index are required")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = r.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = r.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = r.cfg.RebalanceTimeout
	if r.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(r.cfg.Brokers, r.cfg.GroupID, cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("consumer group: %w", err)
	}

	h := &groupHandler{
		setup:   func(sarama.ConsumerGroupSession) { r.assigned.Store(true) },
		cleanup: func(sarama.ConsumerGroupSession) { r.assigned.Store(false) },
		process: r.handleMessage,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				r.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{r.cfg.Topic}, h); err != nil {
				r.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range group.Errors() {
			r.log.Error("kafka group error", "err", err)
		}
	}()

	r.log.Info("scene invalidation runner started",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID, "brokers", r.cfg.Brokers)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.log.Info("scene invalidation runner stopped")
}

// Ready reports whether the group currently holds partitions. A disabled
// runner is always ready.
func (r *Runner) Ready() bool {
	return !r.cfg.Enabled || r.assigned.Load()
}

// handleMessage returns an error only for failures worth redelivering.
// Undecodable or invalid events are logged and skipped.
func (r *Runner) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev SceneIngested
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncInvalidation("invalid")
		r.log.WarnContext(ctx, "skipping undecodable scene event", "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.IncInvalidation("invalid")
		r.log.WarnContext(ctx, "skipping invalid scene event", "offset", msg.Offset, "err", err)
		return nil
	}
	return r.Apply(ctx, ev)
}

// Apply drops every "latest" entry indexed under the event footprint.
func (r *Runner) Apply(ctx context.Context, ev SceneIngested) error {
	if !r.ver.newer(ev.SceneID, ev.Version) {
		observability.IncInvalidation("skip_version")
		return nil
	}
	footprint, err := ev.Polygon()
	if err != nil {
		observability.IncInvalidation("invalid")
		return nil
	}

	candidates, err := r.idx.Lookup(ctx, footprint)
	if err != nil {
		observability.IncInvalidation("error")
		return fmt.Errorf("lookup footprint: %w", err)
	}
	stale := latestOnly(candidates)
	if len(stale) > 0 {
		if err := r.cache.Invalidate(ctx, stale...); err != nil {
			observability.IncInvalidation("error")
			return fmt.Errorf("invalidate %d keys: %w", len(stale), err)
		}
		if err := r.idx.Remove(ctx, footprint, stale...); err != nil {
			r.log.WarnContext(ctx, "cell index cleanup failed", "scene", ev.SceneID, "keys", len(stale), "err", err)
		}
	}
	r.ver.mark(ev.SceneID, ev.Version)
	observability.IncInvalidation("ok")
	r.log.InfoContext(ctx, "scene invalidation applied",
		"scene", ev.SceneID, "version", ev.Version, "keys", len(stale))
	return nil
}

func latestOnly(ks []string) []string {
	marker := ":" + keys.Latest + ":"
	out := ks[:0:0]
	for _, k := range ks {
		if strings.Contains(k, marker) {
			out = append(out, k)
		}
	}
	return out
}

type groupHandler struct {
	setup   func(sarama.ConsumerGroupSession)
	cleanup func(sarama.ConsumerGroupSession)
	process func(context.Context, *sarama.ConsumerMessage) error
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	if h.setup != nil {
		h.setup(sess)
	}
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	if h.cleanup != nil {
		h.cleanup(sess)
	}
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for msg := range claim.Messages() {
		if err := h.process(ctx, msg); err != nil {
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
