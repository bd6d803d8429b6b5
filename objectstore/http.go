package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/jacobsa/cryptofs/cferrors"
	"github.com/jacobsa/cryptofs/cflog"
	"golang.org/x/time/rate"
)

// HTTPTransport is the production Transport: JSON bodies over HTTP
// against the dumb storage server of §6. Its shape is lifted directly
// from gitiles.Service (google-slothfs/gitiles/client.go) — a base URL,
// an http.Client, and a rate.Limiter — generalized from gitiles'
// read-only GET-with-XSS-tag protocol to plain JSON GET/POST/DELETE,
// since our server is not a Gitiles instance and has no XSS tag to
// strip.
type HTTPTransport struct {
	addr    url.URL
	client  http.Client
	limiter *rate.Limiter
	agent   string
}

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	// Address is the base URL of the object store server.
	Address string

	// SustainedQPS and BurstQPS bound how fast the client issues RPCs;
	// zero values fall back to sensible defaults, as in
	// gitiles.Options.
	SustainedQPS float64
	BurstQPS     int

	// UserAgent is reported on every request.
	UserAgent string

	// HTTPClient lets callers substitute their own client (timeouts,
	// TLS config, proxies); the zero value is http.Client{}, which
	// inherits the transport's default timeout per §5.
	HTTPClient http.Client
}

// NewHTTPTransport constructs an HTTPTransport from opts.
func NewHTTPTransport(opts HTTPOptions) (*HTTPTransport, error) {
	addr, err := url.Parse(opts.Address)
	if err != nil {
		return nil, fmt.Errorf("objectstore: parsing address %q: %v", opts.Address, err)
	}

	if opts.SustainedQPS == 0 {
		opts.SustainedQPS = 50
	}
	if opts.BurstQPS == 0 {
		opts.BurstQPS = int(10 * opts.SustainedQPS)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "cryptofs"
	}

	return &HTTPTransport{
		addr:    *addr,
		client:  opts.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(opts.SustainedQPS), opts.BurstQPS),
		agent:   opts.UserAgent,
	}, nil
}

// Do implements Transport.
func (t *HTTPTransport) Do(ctx context.Context, method, path string, body, dest interface{}) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	u := t.addr
	u.Path = u.Path + path

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("objectstore: marshaling request body: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return &cferrors.TransportError{URL: u.String(), Cause: err}
	}
	req.Header.Set("User-Agent", t.agent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &cferrors.TransportError{URL: u.String(), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &cferrors.TransportError{Status: resp.StatusCode, URL: u.String()}
	}

	if dest == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &cferrors.TransportError{Status: resp.StatusCode, URL: u.String(), Cause: err}
	}
	return nil
}

// Retrying wraps a Transport so that a failed RPC is retried exactly
// once before being surfaced, per the propagation policy of §7:
// "transport errors may be retried once locally but never silently
// hidden" — the retry is transparent to Client, but a second failure is
// returned as-is, still a *cferrors.TransportError.
type Retrying struct {
	Transport
}

// Do implements Transport.
func (r Retrying) Do(ctx context.Context, method, path string, body, dest interface{}) error {
	err := r.Transport.Do(ctx, method, path, body, dest)
	if err == nil {
		return nil
	}
	cflog.Printf("retrying %s %s after error: %v", method, path, err)
	return r.Transport.Do(ctx, method, path, body, dest)
}
