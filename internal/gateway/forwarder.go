// Package gateway relays authenticated requests to the downstream claims service.
package gateway

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/claims-gateway/claims_gateway/internal/apperr"
)

// Request is an inbound request to relay.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// Response carries the downstream status and a JSON body. Body is `{}` when the
// downstream payload is not JSON.
type Response struct {
	Status int
	Body   []byte
}

var emptyObject = []byte("{}")

// Forwarder performs exactly one downstream call per request and never follows redirects.
type Forwarder struct {
	baseURL string
	client  *http.Client
}

// NewForwarder builds a forwarder for baseURL with the given per-call timeout.
func NewForwarder(baseURL string, timeout time.Duration) *Forwarder {
	return &Forwarder{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// URL builds the downstream address for path and query.
func (f *Forwarder) URL(path, rawQuery string) string {
	target := f.baseURL + "/" + strings.TrimPrefix(path, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Forward relays req and returns the downstream status unchanged.
func (f *Forwarder) Forward(ctx context.Context, req Request) (Response, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, f.URL(req.Path, req.RawQuery), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, apperr.Validation(fmt.Sprintf("invalid downstream request: %v", err))
	}
	for key, values := range req.Header {
		if strings.EqualFold(key, "Host") {
			continue
		}
		for _, v := range values {
			out.Header.Add(key, v)
		}
	}

	resp, err := f.client.Do(out)
	if err != nil {
		return Response{}, apperr.UpstreamUnavailable("Downstream service unavailable", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err == nil {
			defer gz.Close()
			reader = gz
		}
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return Response{}, apperr.UpstreamUnavailable("Downstream service unavailable", err)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || !json.Valid(body) {
		body = emptyObject
	}
	return Response{Status: resp.StatusCode, Body: body}, nil
}
