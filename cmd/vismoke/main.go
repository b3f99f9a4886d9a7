// Command vismoke checks that the pipeline's dependencies are reachable with
// the current environment, and can announce a scene over a footprint to
// exercise cache invalidation end to end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/cache/cellindex"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/compute"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/config"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/httpclient"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/invalidation"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("vismoke", flag.ContinueOnError)
	inject := fs.String("announce", "", "scene id to announce on the invalidation topic over -footprint")
	version := fs.Uint64("version", 1, "version of the announced scene")
	footprintFile := fs.String("footprint", "", "GeoJSON footprint for -announce")
	skipCompute := fs.Bool("skip-compute", false, "do not authenticate against the compute service")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintln(out, "config:", err)
		return 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := 0
	check := func(name string, err error) {
		if err != nil {
			failed++
			_, _ = fmt.Fprintf(out, "%-10s FAIL %v\n", name, err)
			return
		}
		_, _ = fmt.Fprintf(out, "%-10s ok\n", name)
	}

	if cfg.Redis.Addr != "" {
		check("redis", testRedis(ctx, cfg.Redis))
	} else {
		_, _ = fmt.Fprintf(out, "%-10s skipped, REDIS_ADDR unset\n", "redis")
	}
	check("h3", testCells(cfg.Cache.CellRes))
	if !*skipCompute {
		check("compute", testCompute(ctx, cfg.Compute))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		check("kafka", testKafka(cfg.Kafka.Brokers))
	}
	if *inject != "" {
		check("announce", announce(cfg.Kafka, *inject, *version, *footprintFile))
	}

	if failed > 0 {
		return 1
	}
	return 0
}

func testRedis(ctx context.Context, rc config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:        rc.Addr,
		Password:    rc.Password,
		DB:          rc.DB,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	const key = "vismoke:probe"
	if err := client.Set(ctx, key, "ok", 30*time.Second).Err(); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	if v, err := client.Get(ctx, key).Result(); err != nil || v != "ok" {
		return fmt.Errorf("get: %q %v", v, err)
	}
	return nil
}

// a small field outside Stockholm
var probe = geo.Polygon{{Lat: 59.3293, Lng: 18.0686}, {Lat: 59.3293, Lng: 18.0786}, {Lat: 59.3343, Lng: 18.0786}}

func testCells(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("resolution %d outside 0..15", res)
	}
	cells, err := cellindex.Cells(probe, res)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		return fmt.Errorf("no cells at resolution %d", res)
	}
	return nil
}

func testCompute(ctx context.Context, cc config.ComputeConfig) error {
	c, err := compute.NewREST(cc.BaseURL, cc.Project,
		compute.WithHTTPClient(httpclient.NewOutbound(30*time.Second)),
		compute.WithCredentialsFile(cc.CredentialsFile))
	if err != nil {
		return err
	}
	return c.Connect(ctx)
}

func testKafka(brokers []string) error {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	defer func() { _ = client.Close() }()
	if len(client.Brokers()) == 0 {
		return fmt.Errorf("no brokers in metadata")
	}
	return nil
}

func announce(kc config.KafkaConfig, sceneID string, version uint64, footprintFile string) error {
	fp, err := footprint(footprintFile)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ev := invalidation.SceneIngested{
		Version:    version,
		SceneID:    sceneID,
		CapturedAt: now,
		TS:         now,
		Footprint:  fp,
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Successes = true
	prod, err := sarama.NewSyncProducer(kc.Brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	_, _, err = prod.SendMessage(&sarama.ProducerMessage{
		Topic: kc.InvalidationTopic,
		Key:   sarama.StringEncoder(sceneID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func footprint(path string) (json.RawMessage, error) {
	if path == "" {
		ring := probe.LngLat()
		return json.Marshal(map[string]any{"type": "Polygon", "coordinates": [][][2]float64{ring}})
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("footprint: %w", err)
	}
	return b, nil
}
