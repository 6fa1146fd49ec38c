package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxBodyBytes caps how much of a response body HTTPTool reads.
const DefaultMaxBodyBytes = 10 << 20

// HTTPTool performs HTTP requests.
//
// Input keys:
//   - url (required)
//   - method: GET, POST, PUT, PATCH, DELETE or HEAD; default GET
//   - query: map of query parameters added to url
//   - headers: map of request headers
//   - body: a string is sent as is; any other value is sent as JSON
//
// Output keys: status_code, headers, body (string) and, for JSON responses,
// json (the decoded body).
type HTTPTool struct {
	client  *http.Client
	maxBody int64
}

// HTTPOption configures an HTTPTool.
type HTTPOption func(*HTTPTool)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPTool) { h.client = c }
}

// WithTimeout sets the client timeout. The caller's context still applies.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPTool) { h.client.Timeout = d }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(h *HTTPTool) { h.maxBody = n }
}

// NewHTTPTool creates an HTTPTool with a 30 second timeout.
func NewHTTPTool(opts ...HTTPOption) *HTTPTool {
	h := &HTTPTool{
		client:  &http.Client{Timeout: 30 * time.Second},
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns "http_request".
func (h *HTTPTool) Name() string {
	return "http_request"
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// Call executes the request. Non-2xx statuses are returned as results, not
// errors; transport failures are errors.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	rawURL, ok := input["url"].(string)
	if !ok || rawURL == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if query, ok := input["query"].(map[string]interface{}); ok {
		q := target.Query()
		for k, v := range query {
			q.Set(k, fmt.Sprint(v))
		}
		target.RawQuery = q.Encode()
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if !allowedMethods[method] {
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}

	var body io.Reader
	jsonBody := false
	switch b := input["body"].(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(data)
		jsonBody = true
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if jsonBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprint(value))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	result := map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt == "application/json" {
		var decoded interface{}
		if err := json.Unmarshal(respBody, &decoded); err == nil {
			result["json"] = decoded
		}
	}
	return result, nil
}
