// Package config loads process configuration from the environment, with an
// optional YAML tuning file for the pipeline knobs operators adjust most.
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Log      LogConfig      `envPrefix:"LOG_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Cache    CacheConfig    `envPrefix:"CACHE_"`
	Compute  ComputeConfig  `envPrefix:"COMPUTE_"`
	Pipeline PipelineConfig `envPrefix:"PIPELINE_"`
	Budgets  Budgets        `envPrefix:"BUDGET_"`
	Render   RenderConfig   `envPrefix:"RENDER_"`
	Store    StoreConfig    `envPrefix:"STORE_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	Reports  ReportConfig   `envPrefix:"REPORT_"`
}

type ServerConfig struct {
	Addr            string        `env:"ADDR" envDefault:":8090"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"4m"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

type LogConfig struct {
	Level   string `env:"LEVEL" envDefault:"info"`
	Console bool   `env:"CONSOLE" envDefault:"false"`
	SampleN int    `env:"SAMPLE_N" envDefault:"0"`
}

type RedisConfig struct {
	// Addr is unset by default; without it results are cached in process only.
	Addr      string        `env:"ADDR"`
	Password  string        `env:"PASSWORD"`
	DB        int           `env:"DB" envDefault:"0"`
	OpTimeout time.Duration `env:"OP_TIMEOUT" envDefault:"250ms"`
}

type CacheConfig struct {
	KeyPrefix  string `env:"KEY_PREFIX" envDefault:"vi"`
	L1Size     int    `env:"L1_SIZE" envDefault:"1024"`
	WriteQueue int    `env:"WRITE_QUEUE" envDefault:"256"`
	// CellRes is the H3 resolution of the cell index used for invalidation.
	CellRes int `env:"CELL_RES" envDefault:"5"`
}

type ComputeConfig struct {
	BaseURL         string `env:"BASE_URL" envDefault:"https://earthengine.googleapis.com/v1"`
	Project         string `env:"PROJECT"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
	Collection      string `env:"COLLECTION" envDefault:"COPERNICUS/S2_SR_HARMONIZED"`
}

type PipelineConfig struct {
	TuningFile   string  `env:"TUNING_FILE"`
	CloudTiers   []int   `env:"CLOUD_TIERS" envSeparator:"," envDefault:"20,30,40,50"`
	LookbackDays int     `env:"LOOKBACK_DAYS" envDefault:"30"`
	BufferMeters float64 `env:"BUFFER_METERS" envDefault:"1000"`
	// ScaleThresholdsKm2 are the upper area bounds of the 100/150/200 m bands.
	ScaleThresholdsKm2 []float64 `env:"SCALE_THRESHOLDS_KM2" envSeparator:"," envDefault:"10,50,100"`
}

// Budgets bound each remote compute round trip.
type Budgets struct {
	Auth      time.Duration `env:"AUTH" envDefault:"20s" yaml:"auth"`
	Count     time.Duration `env:"COUNT" envDefault:"30s" yaml:"count"`
	SceneInfo time.Duration `env:"SCENE_INFO" envDefault:"30s" yaml:"scene_info"`
	Stats     time.Duration `env:"STATS" envDefault:"90s" yaml:"stats"`
	Tiles     time.Duration `env:"TILES" envDefault:"60s" yaml:"tiles"`
	Thumbnail time.Duration `env:"THUMBNAIL" envDefault:"60s" yaml:"thumbnail"`
	Download  time.Duration `env:"DOWNLOAD" envDefault:"30s" yaml:"download"`
	Render    time.Duration `env:"RENDER" envDefault:"45s" yaml:"render"`
}

type RenderConfig struct {
	// ChromeURL points at a remote DevTools endpoint; empty launches a local browser.
	ChromeURL   string  `env:"CHROME_URL"`
	BasemapURL  string  `env:"BASEMAP_URL" envDefault:"https://tile.openstreetmap.org/{z}/{x}/{y}.png"`
	Width       int     `env:"WIDTH" envDefault:"800"`
	Height      int     `env:"HEIGHT" envDefault:"600"`
	Opacity     float64 `env:"OPACITY" envDefault:"0.6"`
	Outline     string  `env:"OUTLINE" envDefault:"ff0000"`
	PadFraction float64 `env:"PAD_FRACTION" envDefault:"0.1"`
	Format      string  `env:"FORMAT" envDefault:"png"`
}

type StoreConfig struct {
	Endpoint      string `env:"ENDPOINT"`
	AccessKey     string `env:"ACCESS_KEY"`
	SecretKey     string `env:"SECRET_KEY"`
	Bucket        string `env:"BUCKET" envDefault:"vegindex-renders"`
	Region        string `env:"REGION" envDefault:"auto"`
	UseSSL        bool   `env:"USE_SSL" envDefault:"true"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`
}

type KafkaConfig struct {
	Brokers             []string `env:"BROKERS" envSeparator:","`
	EventsTopic         string   `env:"EVENTS_TOPIC" envDefault:"vegindex-events"`
	InvalidationEnabled bool     `env:"INVALIDATION_ENABLED" envDefault:"false"`
	InvalidationTopic   string   `env:"INVALIDATION_TOPIC" envDefault:"scene-ingest"`
	GroupID             string   `env:"GROUP_ID" envDefault:"vegindex-invalidator"`
}

type ReportConfig struct {
	AreasFile string `env:"AREAS_FILE"`
}

// Tuning is the shape of the YAML file named by PIPELINE_TUNING_FILE. Zero
// fields leave the environment value in place.
type Tuning struct {
	CloudTiers         []int     `yaml:"cloud_tiers"`
	LookbackDays       int       `yaml:"lookback_days"`
	BufferMeters       float64   `yaml:"buffer_meters"`
	ScaleThresholdsKm2 []float64 `yaml:"scale_thresholds_km2"`
	Budgets            Budgets   `yaml:"budgets"`
}

// Load parses the environment, applies the tuning file if set, and validates.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if path := cfg.Pipeline.TuningFile; path != "" {
		t, err := ReadTuning(path)
		if err != nil {
			return nil, err
		}
		cfg.Apply(t)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func ReadTuning(path string) (Tuning, error) {
	var t Tuning
	b, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(b, &t); err != nil {
		return t, fmt.Errorf("decode tuning file %s: %w", path, err)
	}
	return t, nil
}

func (c *Config) Apply(t Tuning) {
	if len(t.CloudTiers) > 0 {
		c.Pipeline.CloudTiers = t.CloudTiers
	}
	if t.LookbackDays > 0 {
		c.Pipeline.LookbackDays = t.LookbackDays
	}
	if t.BufferMeters > 0 {
		c.Pipeline.BufferMeters = t.BufferMeters
	}
	if len(t.ScaleThresholdsKm2) > 0 {
		c.Pipeline.ScaleThresholdsKm2 = t.ScaleThresholdsKm2
	}
	overlay := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	b := t.Budgets
	overlay(&c.Budgets.Auth, b.Auth)
	overlay(&c.Budgets.Count, b.Count)
	overlay(&c.Budgets.SceneInfo, b.SceneInfo)
	overlay(&c.Budgets.Stats, b.Stats)
	overlay(&c.Budgets.Tiles, b.Tiles)
	overlay(&c.Budgets.Thumbnail, b.Thumbnail)
	overlay(&c.Budgets.Download, b.Download)
	overlay(&c.Budgets.Render, b.Render)
}

func (c *Config) Validate() error {
	p := c.Pipeline
	if len(p.CloudTiers) == 0 {
		return fmt.Errorf("at least one cloud tier is required")
	}
	for i, t := range p.CloudTiers {
		if t < 0 || t > 100 {
			return fmt.Errorf("cloud tier %d out of range 0-100", t)
		}
		if i > 0 && t <= p.CloudTiers[i-1] {
			return fmt.Errorf("cloud tiers must be strictly ascending, got %v", p.CloudTiers)
		}
	}
	if p.LookbackDays < 1 {
		return fmt.Errorf("lookback days must be at least 1, got %d", p.LookbackDays)
	}
	if p.BufferMeters < 0 {
		return fmt.Errorf("buffer must not be negative, got %g", p.BufferMeters)
	}
	if len(p.ScaleThresholdsKm2) != 3 || !slices.IsSorted(p.ScaleThresholdsKm2) || p.ScaleThresholdsKm2[0] <= 0 {
		return fmt.Errorf("scale thresholds must be 3 ascending positive areas, got %v", p.ScaleThresholdsKm2)
	}
	for name, d := range map[string]time.Duration{
		"auth": c.Budgets.Auth, "count": c.Budgets.Count, "scene_info": c.Budgets.SceneInfo,
		"stats": c.Budgets.Stats, "tiles": c.Budgets.Tiles, "thumbnail": c.Budgets.Thumbnail,
		"download": c.Budgets.Download, "render": c.Budgets.Render,
	} {
		if d <= 0 {
			return fmt.Errorf("budget %s must be positive, got %s", name, d)
		}
	}
	if c.Render.Opacity < 0 || c.Render.Opacity > 1 {
		return fmt.Errorf("render opacity must be within [0,1], got %g", c.Render.Opacity)
	}
	if c.Render.Format != "png" && c.Render.Format != "webp" {
		return fmt.Errorf("render format must be png or webp, got %q", c.Render.Format)
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render size must be positive, got %dx%d", c.Render.Width, c.Render.Height)
	}
	if c.Cache.L1Size < 1 {
		return fmt.Errorf("cache L1 size must be at least 1, got %d", c.Cache.L1Size)
	}
	if c.Cache.CellRes < 0 || c.Cache.CellRes > 15 {
		return fmt.Errorf("cache cell resolution must be within 0-15, got %d", c.Cache.CellRes)
	}
	if c.Kafka.InvalidationEnabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("invalidation enabled but KAFKA_BROKERS is empty")
	}
	return nil
}
