// Package probe sends one request to each of a list of hello endpoints and
// collects what came back. Endpoints are probed concurrently and a failure on
// one does not affect the others.
package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTargets are the four endpoints started by hello-server with its
// built-in configuration.
var DefaultTargets = []string{
	"https://127.0.0.1:4430",
	"http://127.0.0.1:8000",
	"https://[::1]:4430",
	"http://[::1]:8000",
}

// DefaultPath is the request path sent when none is configured
const DefaultPath = "/lol"

// Target is one endpoint to probe
type Target struct {
	URL *url.URL
}

// ParseTarget parses an http:// or https:// base URL
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid target %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Target{}, fmt.Errorf("invalid target %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return Target{}, fmt.Errorf("invalid target %q: missing host", raw)
	}
	return Target{URL: u}, nil
}

// TLS reports whether the target is reached over TLS
func (t Target) TLS() bool {
	return t.URL.Scheme == "https"
}

// Name renders the target as "<tcp:127.0.0.1:4430 tls>"
func (t Target) Name() string {
	if t.TLS() {
		return "<tcp:" + t.URL.Host + " tls>"
	}
	return "<tcp:" + t.URL.Host + ">"
}

// requestURL appends path to the target, joining them with exactly one slash
func (t Target) requestURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(t.URL.String(), "/") + path
}

// Options controls how targets are probed
type Options struct {
	// RootCAs verifies https targets; nil means the system pool
	RootCAs *x509.CertPool
	// ServerName overrides the name checked against the server certificate
	ServerName string
	Path       string
	Method     string
	Timeout    time.Duration
}

// Result is the outcome for one target
type Result struct {
	Target Target
	Status int
	Header http.Header
	Body   []byte
	// Proto is the negotiated HTTP protocol, e.g. HTTP/1.1
	Proto string
	Err   error
}

// Run probes every target and returns results in target order
func Run(ctx context.Context, targets []Target, opts Options) []Result {
	results := make([]Result, len(targets))

	var g errgroup.Group
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			results[i] = probeOne(ctx, t, opts)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func probeOne(ctx context.Context, t Target, opts Options) Result {
	res := Result{Target: t}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	path := opts.Path
	if path == "" {
		path = DefaultPath
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, t.requestURL(path), nil)
	if err != nil {
		res.Err = fmt.Errorf("failed to create request: %w", err)
		return res
	}
	req.Close = true

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    opts.RootCAs,
				ServerName: opts.ServerName,
				MinVersion: tls.VersionTLS12,
			},
			DisableKeepAlives: true,
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("request failed: %w", err)
		return res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		res.Err = fmt.Errorf("failed to read response: %w", err)
		return res
	}

	res.Status = resp.StatusCode
	res.Header = resp.Header
	res.Body = body
	res.Proto = resp.Proto
	return res
}
