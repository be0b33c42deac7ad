// Package upstream implements the HTTP client for the Chat Completions
// backend: a tuned shared transport, circuit breaking, response
// decompression and SSE stream consumption.
package upstream

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// transportConfig holds transport settings tuned for long-lived LLM
// streaming over a small set of upstream hosts.
var transportConfig = struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration

	H2ReadIdleTimeout time.Duration
	H2PingTimeout     time.Duration
}{
	MaxIdleConns:        1000,
	MaxIdleConnsPerHost: 100,
	MaxConnsPerHost:     0, // let HTTP/2 multiplex

	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ResponseHeaderTimeout: 600 * time.Second, // large prompts take minutes before first byte
	DialTimeout:           30 * time.Second,
	KeepAlive:             30 * time.Second,

	H2ReadIdleTimeout: 30 * time.Second,
	H2PingTimeout:     15 * time.Second,
}

var (
	sharedTransport     *http.Transport
	sharedTransportOnce sync.Once
)

// SharedTransport returns the singleton transport used for all upstream
// requests.
func SharedTransport() *http.Transport {
	sharedTransportOnce.Do(func() {
		sharedTransport = newTransport()
	})
	return sharedTransport
}

func newTransport() *http.Transport {
	t := &http.Transport{
		MaxIdleConns:        transportConfig.MaxIdleConns,
		MaxIdleConnsPerHost: transportConfig.MaxIdleConnsPerHost,
		MaxConnsPerHost:     transportConfig.MaxConnsPerHost,
		IdleConnTimeout:     transportConfig.IdleConnTimeout,

		TLSHandshakeTimeout:   transportConfig.TLSHandshakeTimeout,
		ExpectContinueTimeout: transportConfig.ExpectContinueTimeout,
		ResponseHeaderTimeout: transportConfig.ResponseHeaderTimeout,

		DialContext: (&net.Dialer{
			Timeout:   transportConfig.DialTimeout,
			KeepAlive: transportConfig.KeepAlive,
		}).DialContext,

		ForceAttemptHTTP2: true,

		// Decompression is handled explicitly so zstd and brotli work too.
		DisableCompression: true,

		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},

		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,
	}
	configureHTTP2(t)
	return t
}

// configureHTTP2 enables keep-alive pings so stalled streams are
// detected instead of hanging until the response header timeout.
func configureHTTP2(t *http.Transport) {
	h2, err := http2.ConfigureTransports(t)
	if err != nil {
		return
	}
	h2.ReadIdleTimeout = transportConfig.H2ReadIdleTimeout
	h2.PingTimeout = transportConfig.H2PingTimeout
}
