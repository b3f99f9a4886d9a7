// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"net"
	"net/http"
	"time"

	"github.com/mohammed-shakir/vegindex-pipeline/internal/core/observability"
)

// NewOutbound creates a new outbound http client. timeout is a hard ceiling
// above the per-call budgets; zero means 2 minutes.
func NewOutbound(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: Timed(transport),
		Timeout:   timeout,
	}
}

type timed struct{ next http.RoundTripper }

// Timed records upstream latency per host.
func Timed(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return timed{next: next}
}

func (t timed) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(r)
	observability.ObserveUpstream(r.URL.Host, time.Since(start).Seconds())
	return resp, err
}
