package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"image"
	"image/png"

	"github.com/chromedp/chromedp"
)

// Browser renders with headless Chrome: basemap tiles, the index tile layer
// and the polygon outline in a Leaflet page, captured once every layer has
// loaded.
type Browser struct {
	// RemoteURL is a DevTools websocket endpoint; empty starts a local Chrome.
	RemoteURL  string
	BasemapURL string
	Style      Style
}

var page = template.Must(template.New("map").Parse(`<!doctype html>
<html><head><meta charset="utf-8">
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"></script>
<style>html,body,#map{margin:0;width:{{.Width}}px;height:{{.Height}}px}</style>
</head><body><div id="map"></div><script>
const map = L.map('map', {zoomControl: false, attributionControl: false});
const ring = {{.Ring}};
const outline = L.polygon(ring, {color: '#{{.Outline}}', weight: 2, fill: false});
map.fitBounds(outline.getBounds(), {padding: [{{.Pad}}, {{.Pad}}]});
let pending = 2;
function loaded() {
  if (--pending === 0) {
    const d = document.createElement('div');
    d.id = 'done';
    d.style.cssText = 'position:absolute;width:1px;height:1px';
    document.body.appendChild(d);
  }
}
L.tileLayer({{.Basemap}}).on('load', loaded).addTo(map);
L.tileLayer({{.Tiles}}, {opacity: {{.Opacity}}}).on('load', loaded).addTo(map);
outline.addTo(map);
</script></body></html>`))

type pageData struct {
	Width, Height int
	Ring          [][2]float64
	Outline       string
	Pad           int
	Basemap       string
	Tiles         string
	Opacity       float64
}

func (b *Browser) html(req Request) ([]byte, error) {
	s := b.Style.withDefaults()
	ring := make([][2]float64, 0, len(req.Polygon))
	for _, v := range req.Polygon.Open() {
		ring = append(ring, [2]float64{v.Lat, v.Lng})
	}
	var buf bytes.Buffer
	err := page.Execute(&buf, pageData{
		Width:   s.Width,
		Height:  s.Height,
		Ring:    ring,
		Outline: s.Outline,
		Pad:     int(float64(min(s.Width, s.Height)) * s.PadFraction),
		Basemap: b.BasemapURL,
		Tiles:   req.TileURL,
		Opacity: s.Opacity,
	})
	if err != nil {
		return nil, fmt.Errorf("map page: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *Browser) Render(ctx context.Context, req Request) (image.Image, error) {
	if req.TileURL == "" {
		return nil, fmt.Errorf("browser render: no tile layer")
	}
	doc, err := b.html(req)
	if err != nil {
		return nil, err
	}

	var alloc context.Context
	var cancelAlloc context.CancelFunc
	if b.RemoteURL != "" {
		alloc, cancelAlloc = chromedp.NewRemoteAllocator(ctx, b.RemoteURL)
	} else {
		alloc, cancelAlloc = chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	}
	defer cancelAlloc()
	tab, cancelTab := chromedp.NewContext(alloc)
	defer cancelTab()

	s := b.Style.withDefaults()
	var shot []byte
	err = chromedp.Run(tab,
		chromedp.EmulateViewport(int64(s.Width), int64(s.Height)),
		chromedp.Navigate("data:text/html;base64,"+base64.StdEncoding.EncodeToString(doc)),
		chromedp.WaitReady("#done", chromedp.ByID),
		chromedp.CaptureScreenshot(&shot),
	)
	if err != nil {
		return nil, fmt.Errorf("browser render: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}
