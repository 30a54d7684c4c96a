// Package recon provides the network-facing collaborators consumed by the
// scan engine: the HTTP reachability prober and the DNS resolver.
package recon

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/vulnverified/blindspot/internal/engine"
)

const probeMaxRedirects = 5

// HTTPProber implements engine.Prober. A domain is reachable when any
// supported scheme produces a complete HTTP response within the timeout;
// the status code does not matter. Timeouts, refusals, TLS failures and
// DNS failures all collapse into "unreachable".
type HTTPProber struct {
	UserAgent string

	transport *http.Transport
}

// NewHTTPProber builds a prober with a shared transport. Certificate errors
// are ignored: a host behind a broken certificate still answers.
func NewHTTPProber(userAgent string) *HTTPProber {
	return &HTTPProber{
		UserAgent: userAgent,
		transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// Probe tries https then http against the domain's default ports.
func (p *HTTPProber) Probe(ctx context.Context, domain string, timeout time.Duration) engine.ProbeResult {
	client := &http.Client{
		Transport: p.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= probeMaxRedirects {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	var lastErr error
	for _, scheme := range []string{"https", "http"} {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.attempt(attemptCtx, client, scheme, domain)
		cancel()
		if err == nil {
			return engine.ProbeResult{Reachable: true, Scheme: scheme}
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	res := engine.ProbeResult{}
	if lastErr != nil {
		res.Err = lastErr.Error()
	}
	return res
}

func (p *HTTPProber) attempt(ctx context.Context, client *http.Client, scheme, domain string) error {
	url := fmt.Sprintf("%s://%s", scheme, domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	// Any response means the domain answers; the body is irrelevant.
	resp.Body.Close()
	return nil
}
