package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/indices"
)

func TestParsePoints(t *testing.T) {
	p, err := ParsePoints(" 0,30; 0,30.02 ;0.02,30.02;")
	require.NoError(t, err)
	require.Len(t, p, 3)
	assert.Equal(t, 30.02, p[1].Lng)

	_, err = ParsePoints("0;30")
	assert.Error(t, err)
	_, err = ParsePoints("a,b")
	assert.Error(t, err)
}

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-index", "evi"}, &stderr)
	assert.Error(t, err, "no polygon source")

	_, err = parseFlags([]string{"-file", "a.json", "-points", "0,0;0,1;1,1"}, &stderr)
	assert.Error(t, err, "two polygon sources")

	o, err := parseFlags([]string{"-points", "0,0;0,1;1,1", "-cloud", "45", "-as-of", "2026-09-01"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, 45, o.cloud)
}

func TestBuildRequest(t *testing.T) {
	o := options{points: "0,30;0,30.02;0.02,30.02", index: "ndre", cloud: 20, asOf: "2026-09-01"}
	req, err := buildRequest(o, nil)
	require.NoError(t, err)
	assert.Equal(t, indices.NDRE, req.Index)
	assert.False(t, req.Latest())

	geojson := `{"type":"Polygon","coordinates":[[[30,0],[30.02,0],[30.02,0.02],[30,0]]]}`
	req, err = buildRequest(options{file: "-", index: "NDVI", cloud: 20}, strings.NewReader(geojson))
	require.NoError(t, err)
	assert.Len(t, req.Polygon.Open(), 3)

	_, err = buildRequest(options{points: "0,30;0,30.02", index: "NDVI", cloud: 20}, nil)
	assert.Error(t, err, "two points")

	_, err = buildRequest(options{points: "0,30;0,30.02;0.02,30.02", index: "NDVI", cloud: 140}, nil)
	assert.Error(t, err, "tolerance")
}

func TestRunRejectsBadFlagsBeforeConnecting(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-points", "0,30;0,30.02", "-index", "NDVI"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Empty(t, stdout.String())
}
