// Package httpclient is the shared JSON client for the provider integrations.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"custodial-wallet-go/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const maxErrorBody = 4096

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// New returns an HTTP client with a tuned transport and HTTP/2 enabled.
func New() (*http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("unable to configure http2 transport: %w", err)
	}

	return &http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// Request describes one JSON call to a provider.
type Request struct {
	Provider string
	Method   string
	URL      string
	Headers  map[string]string
	Body     any
}

// DoJSON sends req and decodes a 2xx response body into out. out may be nil.
func DoJSON(ctx context.Context, client *http.Client, req Request, out any) error {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("unable to encode %s request: %w", req.Provider, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return fmt.Errorf("unable to build %s request: %w", req.Provider, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		metrics.ObserveProviderRequest(req.Provider, "error", time.Since(start))
		zap.L().Warn("Provider request failed",
			zap.String("provider", req.Provider),
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(err))
		return fmt.Errorf("%s request failed: %w", req.Provider, err)
	}
	defer resp.Body.Close()
	metrics.ObserveProviderRequest(req.Provider, strconv.Itoa(resp.StatusCode), time.Since(start))

	zap.L().Debug("Provider response received",
		zap.String("provider", req.Provider),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Provider: req.Provider, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("unable to decode %s response: %w", req.Provider, err)
	}
	return nil
}

// IsRetryable reports whether a provider call may succeed if repeated:
// transport failures, 408, 429 and 5xx responses.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode >= 500
	}
	return true
}

// StatusCode returns the provider status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
