package httpclient

import (
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

// New returns a client for calls to a single upstream API. Timeout bounds the
// whole exchange, body included.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	transport.ResponseHeaderTimeout = timeout

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
