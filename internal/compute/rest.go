package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/errs"
	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/httpclient"
)

var Scopes = []string{
	"https://www.googleapis.com/auth/earthengine",
	"https://www.googleapis.com/auth/cloud-platform",
}

const defaultMaxDownload = 32 << 20

// RESTClient speaks the Earth Engine style REST API. Construct it once per
// process and Connect before use.
type RESTClient struct {
	base        string
	project     string
	plain       *http.Client
	credsFile   string
	ts          oauth2.TokenSource
	maxDownload int64

	mu        sync.Mutex
	authed    *http.Client
	connected atomic.Bool
}

var _ Service = (*RESTClient)(nil)

type Option func(*RESTClient)

func WithHTTPClient(c *http.Client) Option {
	return func(r *RESTClient) {
		if c != nil {
			r.plain = c
		}
	}
}

// WithTokenSource skips credential discovery.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(r *RESTClient) { r.ts = ts }
}

// WithCredentialsFile reads a service-account JSON key. Without it the
// application default credentials are used.
func WithCredentialsFile(path string) Option {
	return func(r *RESTClient) { r.credsFile = path }
}

func WithMaxDownload(n int64) Option {
	return func(r *RESTClient) {
		if n > 0 {
			r.maxDownload = n
		}
	}
}

func NewREST(baseURL, project string, opts ...Option) (*RESTClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("compute base url %q is not absolute", baseURL)
	}
	if strings.TrimSpace(project) == "" {
		return nil, errors.New("compute project is required")
	}
	c := &RESTClient{
		base:        strings.TrimRight(baseURL, "/"),
		project:     project,
		plain:       httpclient.NewOutbound(0),
		maxDownload: defaultMaxDownload,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *RESTClient) Connect(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected.Load() {
		return nil
	}

	ts := c.ts
	if ts == nil {
		// token refreshes outlive the connecting request
		bg := context.WithoutCancel(ctx)
		var creds *google.Credentials
		var err error
		if c.credsFile != "" {
			b, rerr := os.ReadFile(c.credsFile)
			if rerr != nil {
				return fmt.Errorf("read credentials: %w", rerr)
			}
			creds, err = google.CredentialsFromJSON(bg, b, Scopes...)
		} else {
			creds, err = google.FindDefaultCredentials(bg, Scopes...)
		}
		if err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
		ts = creds.TokenSource
	}
	ts = oauth2.ReuseTokenSource(nil, ts)
	if _, err := ts.Token(); err != nil {
		return fmt.Errorf("fetch access token: %w", err)
	}

	c.authed = &http.Client{
		Transport: &oauth2.Transport{Source: ts, Base: c.plain.Transport},
		Timeout:   c.plain.Timeout,
	}
	c.connected.Store(true)
	return nil
}

func (c *RESTClient) Connected() bool { return c.connected.Load() }

func (c *RESTClient) client() (*http.Client, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed, nil
}

func (c *RESTClient) Count(ctx context.Context, coll Collection) (int, error) {
	var n float64
	if err := c.value(ctx, coll.Size(), &n); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (c *RESTClient) Scene(ctx context.Context, coll Collection) (SceneInfo, error) {
	var props map[string]any
	if err := c.value(ctx, SceneProperties(coll), &props); err != nil {
		return SceneInfo{}, err
	}
	idx, _ := props["system:index"].(string)
	ms, _ := props["system:time_start"].(float64)
	if idx == "" || ms == 0 {
		return SceneInfo{}, fmt.Errorf("scene properties incomplete: %v", props)
	}
	cloud, _ := props[CloudProperty].(float64)
	return SceneInfo{
		ID:         coll.Filters.CollectionID + "/" + idx,
		CapturedAt: time.UnixMilli(int64(ms)).UTC(),
		CloudPct:   cloud,
	}, nil
}

func (c *RESTClient) ReduceRegion(ctx context.Context, img Image, region Geometry, scale float64) (map[string]float64, error) {
	var raw map[string]*float64
	if err := c.value(ctx, ReduceMinMaxMean(img, region, scale), &raw); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		if v != nil {
			out[k] = *v
		}
	}
	return out, nil
}

func (c *RESTClient) GetMap(ctx context.Context, img Image, vis Vis) (string, error) {
	body := map[string]any{
		"expression":           expression(img.Node),
		"fileFormat":           "AUTO_JPEG_PNG",
		"bandIds":              vis.Bands,
		"visualizationOptions": visOptions(vis),
	}
	var resp struct {
		Name string `json:"name"`
	}
	if err := c.post(ctx, "maps", body, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", errors.New("map response without name")
	}
	return fmt.Sprintf("%s/%s/tiles/{z}/{x}/{y}", c.base, resp.Name), nil
}

func (c *RESTClient) GetThumbnail(ctx context.Context, img Image, p ThumbnailParams) (string, error) {
	crs := p.CRS
	if crs == "" {
		crs = "EPSG:3857"
	}
	body := map[string]any{
		"expression":           expression(ThumbnailOf(img, p.Region, p.Width, p.Height).Node),
		"fileFormat":           "PNG",
		"bandIds":              p.Vis.Bands,
		"visualizationOptions": visOptions(p.Vis),
		"grid":                 map[string]any{"crsCode": crs},
	}
	var resp struct {
		Name string `json:"name"`
	}
	if err := c.post(ctx, "thumbnails", body, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", errors.New("thumbnail response without name")
	}
	return fmt.Sprintf("%s/%s:getPixels", c.base, resp.Name), nil
}

// Download fetches a thumbnail. The access token is only attached to URLs
// on the compute host.
func (c *RESTClient) Download(ctx context.Context, rawURL string) ([]byte, error) {
	hc := c.plain
	if strings.HasPrefix(rawURL, c.base+"/") {
		authed, err := c.client()
		if err != nil {
			return nil, err
		}
		hc = authed
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.E(errs.Internal, "download", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apiErr("download", resp)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownload+1))
	if err != nil {
		return nil, fmt.Errorf("download body: %w", err)
	}
	if int64(len(b)) > c.maxDownload {
		return nil, fmt.Errorf("download exceeds %d bytes", c.maxDownload)
	}
	return b, nil
}

func (c *RESTClient) value(ctx context.Context, n Node, out any) error {
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.post(ctx, "value:compute", map[string]any{"expression": expression(n)}, &resp); err != nil {
		return err
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return fmt.Errorf("%s: empty result", n.Function())
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", n.Function(), err)
	}
	return nil
}

func (c *RESTClient) post(ctx context.Context, method string, in, out any) error {
	hc, err := c.client()
	if err != nil {
		return err
	}
	b, err := json.Marshal(in)
	if err != nil {
		return errs.E(errs.Internal, method, err)
	}
	u := fmt.Sprintf("%s/projects/%s/%s", c.base, url.PathEscape(c.project), method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return errs.E(errs.Internal, method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return apiErr(method, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

func expression(n Node) map[string]any {
	return map[string]any{
		"result": "0",
		"values": map[string]Node{"0": n},
	}
}

func visOptions(v Vis) map[string]any {
	n := len(v.Bands)
	if n == 0 {
		n = 1
	}
	ranges := make([]map[string]float64, n)
	for i := range ranges {
		ranges[i] = map[string]float64{"min": v.Min, "max": v.Max}
	}
	opts := map[string]any{"ranges": ranges}
	if len(v.Palette) > 0 {
		opts["paletteColors"] = v.Palette
	}
	return opts
}

func apiErr(op string, resp *http.Response) error {
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}
	err := fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	if resp.StatusCode == http.StatusGatewayTimeout || body.Error.Status == "DEADLINE_EXCEEDED" {
		return errs.E(errs.RemoteTimeout, op, err)
	}
	return errs.E(errs.Remote, op, err)
}
