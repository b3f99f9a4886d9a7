package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogBridge_CarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Service: "vipipeline"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithIndex(ctx, "NDVI")
	ctx = WithFingerprint(ctx, "00ff00ff00ff00ff")
	ctx = WithArea(ctx, "")
	log.InfoContext(ctx, "index ready", "scale", 100, "mean", 0.61)

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	want := map[string]any{
		"msg":         "index ready",
		"level":       "info",
		"service":     "vipipeline",
		"request_id":  "req-1",
		"index":       "NDVI",
		"fingerprint": "00ff00ff00ff00ff",
		"scale":       float64(100),
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("%s=%v want %v", k, line[k], v)
		}
	}
	if _, ok := line["area_id"]; ok {
		t.Error("empty area attached")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)

	log.Info("dropped")
	log.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		" DEBUG ": zerolog.DebugLevel,
		"error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestWithRequestIDMintsWhenEmpty(t *testing.T) {
	id := RequestID(WithRequestID(context.Background(), ""))
	if len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Fatalf("minted id %q is not a uuid", id)
	}
}
