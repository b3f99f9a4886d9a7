package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.Addr != ":8090" {
		t.Errorf("addr=%q want :8090", cfg.Server.Addr)
	}
	if got := cfg.Pipeline.CloudTiers; len(got) != 4 || got[0] != 20 || got[3] != 50 {
		t.Errorf("cloud tiers=%v want [20 30 40 50]", got)
	}
	if cfg.Pipeline.LookbackDays != 30 {
		t.Errorf("lookback=%d want 30", cfg.Pipeline.LookbackDays)
	}
	if cfg.Budgets.Stats != 90*time.Second || cfg.Budgets.Count != 30*time.Second || cfg.Budgets.Tiles != 60*time.Second {
		t.Errorf("unexpected budgets %+v", cfg.Budgets)
	}
	if cfg.Render.Width != 800 || cfg.Render.Height != 600 || cfg.Render.Opacity != 0.6 {
		t.Errorf("unexpected render defaults %+v", cfg.Render)
	}
	if cfg.Kafka.InvalidationEnabled {
		t.Errorf("invalidation must be off by default")
	}
}

func TestLoad_EmptyRedisAddrIsL1Only(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Redis.Addr != "" {
		t.Fatalf("REDIS_ADDR=\"\" gave addr %q; want empty so the cache stays in process", cfg.Redis.Addr)
	}

	t.Setenv("REDIS_ADDR", "redis:6379")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("addr=%q want redis:6379", cfg.Redis.Addr)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PIPELINE_CLOUD_TIERS", "10,25")
	t.Setenv("BUDGET_STATS", "2m")
	t.Setenv("RENDER_FORMAT", "webp")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got := cfg.Pipeline.CloudTiers; len(got) != 2 || got[0] != 10 || got[1] != 25 {
		t.Errorf("cloud tiers=%v", got)
	}
	if cfg.Budgets.Stats != 2*time.Minute {
		t.Errorf("stats budget=%s", cfg.Budgets.Stats)
	}
	if cfg.Render.Format != "webp" {
		t.Errorf("format=%q", cfg.Render.Format)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("brokers=%v", cfg.Kafka.Brokers)
	}
}

func TestLoad_TuningFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	body := `
cloud_tiers: [15, 35, 60]
lookback_days: 45
scale_thresholds_km2: [5, 40, 80]
budgets:
  stats: 120s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIPELINE_TUNING_FILE", path)
	t.Setenv("BUDGET_COUNT", "10s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got := cfg.Pipeline.CloudTiers; len(got) != 3 || got[2] != 60 {
		t.Errorf("cloud tiers=%v", got)
	}
	if cfg.Pipeline.LookbackDays != 45 {
		t.Errorf("lookback=%d", cfg.Pipeline.LookbackDays)
	}
	if cfg.Pipeline.ScaleThresholdsKm2[0] != 5 {
		t.Errorf("thresholds=%v", cfg.Pipeline.ScaleThresholdsKm2)
	}
	if cfg.Budgets.Stats != 120*time.Second {
		t.Errorf("stats budget=%s", cfg.Budgets.Stats)
	}
	// untouched by the file
	if cfg.Budgets.Count != 10*time.Second {
		t.Errorf("count budget=%s", cfg.Budgets.Count)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"descending tiers":  {"PIPELINE_CLOUD_TIERS": "30,20"},
		"tier over 100":     {"PIPELINE_CLOUD_TIERS": "20,120"},
		"bad format":        {"RENDER_FORMAT": "gif"},
		"zero budget":       {"BUDGET_TILES": "0s"},
		"two thresholds":    {"PIPELINE_SCALE_THRESHOLDS_KM2": "10,50"},
		"invalidation only": {"KAFKA_INVALIDATION_ENABLED": "true"},
	}
	for name, envs := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range envs {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestReadTuning_MissingFile(t *testing.T) {
	if _, err := ReadTuning(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
