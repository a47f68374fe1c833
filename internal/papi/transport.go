package papi

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewHTTPClient builds the client used for PAPI calls: HTTP/2 over TLS when
// the server offers it, HTTP/1.1 otherwise, each request bounded by timeout.
// rootCAs, if non-nil, replaces the system pool.
func NewHTTPClient(timeout time.Duration, rootCAs *x509.CertPool) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    rootCAs,
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
