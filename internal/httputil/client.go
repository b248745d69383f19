package httputil

import (
	"net/http"
	"time"
)

// NewClient creates an HTTP client with the given timeout and pooled
// transport settings shared by all outbound callers (webhook delivery, demo
// clients). Connection reuse matters here: webhook subscribers are hit
// repeatedly from the dispatcher loop.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
