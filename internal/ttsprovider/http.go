package ttsprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// requestBody is the OpenAI-compatible synthesis request shape shared by
// all three upstreams. Chatterbox-only fields are omitted for
// other providers.
type requestBody struct {
	Model          string   `json:"model"`
	Input          string   `json:"input"`
	Voice          string   `json:"voice"`
	ResponseFormat string   `json:"response_format"`
	Speed          float64  `json:"speed"`
	Exaggeration   *float64 `json:"exaggeration,omitempty"`
	CfgWeight      *float64 `json:"cfg_weight,omitempty"`
	Language       string   `json:"language,omitempty"`
}

// httpDoer POSTs synthesis requests to an upstream and classifies
// non-200 responses as RetryableError; the call times out at 30s by
// default. It makes exactly one attempt per call; retry/backoff
// belongs to the callers (the pre-gen engine's per-item retry, the
// prefetcher's continue-on-failure loop), not to the pool itself, so an
// UpstreamHTTPError is always surfaced verbatim here.
type httpDoer struct {
	client *http.Client
}

func newHTTPDoer(timeout time.Duration) *httpDoer {
	return &httpDoer{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: timeout,
				IdleConnTimeout:       10 * time.Second,
			},
		},
	}
}

func (d *httpDoer) post(ctx context.Context, url string, body requestBody) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ttsprovider: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ttsprovider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := d.client.Do(req)
	if err != nil {
		return nil, &RetryableError{StatusCode: 0, Body: err.Error()}
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError {
		errBody, _ := io.ReadAll(res.Body)
		return nil, &RetryableError{
			StatusCode: res.StatusCode,
			Body:       string(errBody),
			RetryAfter: parseRetryAfter(res.Header.Get("Retry-After")),
		}
	}

	if res.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("ttsprovider: upstream error (status %d): %s", res.StatusCode, string(errBody))
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("ttsprovider: read response: %w", err)
	}
	return data, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
