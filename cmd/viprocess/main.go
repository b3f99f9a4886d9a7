// Command viprocess runs one index request outside the server and prints the
// result as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/app"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/config"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/errs"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/geo"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/indices"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/logger"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/pipeline"
)

type options struct {
	file    string
	points  string
	index   string
	cloud   int
	asOf    string
	area    string
	noRedis bool
	timeout time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("viprocess", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.file, "file", "", "GeoJSON file holding the polygon (- for stdin)")
	fs.StringVar(&o.points, "points", "", `polygon as "lat,lng;lat,lng;..."`)
	fs.StringVar(&o.index, "index", "NDVI", "index: "+strings.Join(indices.Names(), ", "))
	fs.IntVar(&o.cloud, "cloud", 30, "cloud tolerance, 0-100")
	fs.StringVar(&o.asOf, "as-of", "", "YYYY-MM-DD for historical mode")
	fs.StringVar(&o.area, "area", "", "area id; when set the result is exported with an image")
	fs.BoolVar(&o.noRedis, "no-redis", false, "use an in-process cache only")
	fs.DurationVar(&o.timeout, "timeout", 5*time.Minute, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if (o.file == "") == (o.points == "") {
		return o, errors.New("exactly one of -file and -points is required")
	}
	return o, nil
}

// ParsePoints reads "lat,lng;lat,lng;...".
func ParsePoints(s string) (geo.Polygon, error) {
	var out geo.Polygon
	for i, pair := range strings.Split(strings.TrimSpace(s), ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		lat, lng, ok := strings.Cut(pair, ",")
		if !ok {
			return nil, fmt.Errorf("point %d: expected lat,lng", i)
		}
		la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
		if err != nil {
			return nil, fmt.Errorf("point %d lat: %w", i, err)
		}
		ln, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
		if err != nil {
			return nil, fmt.Errorf("point %d lng: %w", i, err)
		}
		out = append(out, geo.LatLng{Lat: la, Lng: ln})
	}
	return out, nil
}

func buildRequest(o options, stdin io.Reader) (pipeline.Request, error) {
	var poly geo.Polygon
	var err error
	switch {
	case o.points != "":
		poly, err = ParsePoints(o.points)
	case o.file == "-":
		var b []byte
		if b, err = io.ReadAll(stdin); err == nil {
			poly, err = geo.FromGeoJSON(b)
		}
	default:
		var b []byte
		if b, err = os.ReadFile(o.file); err == nil {
			poly, err = geo.FromGeoJSON(b)
		}
	}
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("polygon: %w", err)
	}
	idx, err := indices.Parse(o.index)
	if err != nil {
		return pipeline.Request{}, err
	}
	req := pipeline.Request{Polygon: poly, Index: idx, CloudTolerance: o.cloud}
	if o.asOf != "" {
		if req.AsOf, err = time.Parse(time.DateOnly, o.asOf); err != nil {
			return pipeline.Request{}, fmt.Errorf("as-of: %w", err)
		}
	}
	return req, req.Validate()
}

func run(args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(stderr, err)
		}
		return 2
	}
	req, err := buildRequest(o, os.Stdin)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}
	if o.noRedis {
		cfg.Redis.Addr = ""
	}
	cfg.Kafka.InvalidationEnabled = false

	zl := logger.Build(logger.Config{
		Level:     cfg.Log.Level,
		Console:   true,
		Service:   "viprocess",
		Component: "cli",
	}, stderr)
	log := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		return 1
	}
	defer func() {
		// flush the async cache write before exiting
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	var out any
	if o.area != "" {
		out, err = a.Pipeline.Export(ctx, o.area, req)
	} else {
		out, err = a.Pipeline.ProcessIndex(ctx, req)
	}
	if err != nil {
		log.Error("processing failed", "kind", errs.KindOf(err), "err", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 1
	}
	return 0
}
