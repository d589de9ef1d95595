package httpclient

import (
	"net/http"
	"time"
)

// sharedTransport backs every pooled client so all upstream service calls
// draw from one connection pool.
var sharedTransport = newTransport()

// newTransport clones DefaultTransport to keep proxy and HTTP/2 settings,
// then raises the idle pool limits for the handful of upstreams we call.
func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 20
	t.MaxIdleConnsPerHost = 10
	t.IdleConnTimeout = 120 * time.Second
	return t
}

// NewPooledClient returns an http.Client on the shared transport with a
// per-client request timeout.
func NewPooledClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport,
	}
}
