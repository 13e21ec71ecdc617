package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultProbeTimeout bounds a single HTTP probe so a dead network fails fast
// instead of hanging the caller.
const DefaultProbeTimeout = 5 * time.Second

// HTTPProber implements Prober with a HEAD request against a probe URL.
// Any HTTP response at all, including an error status, proves the network is
// reachable; only transport-level failures count as offline.
type HTTPProber struct {
	url    string
	client *http.Client
}

// HTTPProberOption configures an HTTPProber.
type HTTPProberOption func(*HTTPProber)

// WithHTTPClient sets a custom HTTP client for probes.
func WithHTTPClient(client *http.Client) HTTPProberOption {
	return func(p *HTTPProber) {
		p.client = client
	}
}

// NewHTTPProber creates a prober against the given URL.
func NewHTTPProber(url string, opts ...HTTPProberOption) *HTTPProber {
	p := &HTTPProber{
		url: url,
		client: &http.Client{
			Timeout: DefaultProbeTimeout,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false, fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	return true, nil
}

// Compile-time interface check
var _ Prober = (*HTTPProber)(nil)
