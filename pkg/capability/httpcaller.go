package capability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPCaller implements HttpCaller over net/http with per-request timeouts.
type HTTPCaller struct {
	client *http.Client
}

// NewHTTPCaller creates an HTTP caller backed by the given client.
// A nil client uses a dedicated default client (never http.DefaultClient,
// so per-request timeouts stay under the engine's control).
func NewHTTPCaller(client *http.Client) *HTTPCaller {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPCaller{client: client}
}

// Request performs one HTTP request. Non-2xx statuses are not errors here;
// success classification belongs to the api_call executor.
func (c *HTTPCaller) Request(ctx context.Context, method, url string, headers map[string]string, body string, timeout time.Duration) (*HTTPResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("http: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http: read response body: %w", err)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return &HTTPResponse{
		Status:  resp.StatusCode,
		Headers: respHeaders,
		Body:    string(respBody),
	}, nil
}
