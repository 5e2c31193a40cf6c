package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/itsneelabh/bloxgate/core"
)

// API path prefixes for the upstream service families. Each family gets its
// own circuit breaker so an outage in one does not trip the others.
const (
	ServiceDDI       = "ddi"
	ServiceUniversal = "universalinfra"
	ServiceATCFW     = "atcfw"
	ServiceInsights  = "insights"
	ServiceIAM       = "iam"
)

var servicePrefixes = map[string]string{
	ServiceDDI:       "/api/ddi/v1",
	ServiceUniversal: "/api/universalinfra/v1",
	ServiceATCFW:     "/api/atcfw/v1",
	ServiceInsights:  "/api/insights/v1",
	ServiceIAM:       "/api/iam/v2",
}

// successBody is returned for 204 and empty responses so every call yields a
// JSON document.
var successBody = json.RawMessage(`{"success": true}`)

// Client is the authenticated REST client for the remote DDI SaaS. It issues
// single requests with no retries; the resilience pipeline owns retry and
// breaker behavior.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     core.Logger
	observer   RequestObserver
}

// RequestObserver receives one record per HTTP request, successful or not.
// A zero status means the request never got a response.
type RequestObserver func(method, path string, status int, duration time.Duration)

// NewClient builds a client from configuration. The transport is wrapped with
// otelhttp so upstream calls appear as child spans.
func NewClient(cfg core.UpstreamConfig, logger core.Logger) *Client {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(transport),
		},
		logger: logger,
	}
}

// SetObserver installs the per-request metrics hook. Call before serving
// traffic; the client does not synchronize access to it.
func (c *Client) SetObserver(fn RequestObserver) {
	c.observer = fn
}

// ServiceForPath reports which service family an API path belongs to, for
// metric labels.
func ServiceForPath(path string) string {
	for service, prefix := range servicePrefixes {
		if strings.HasPrefix(path, prefix+"/") {
			return service
		}
	}
	return "other"
}

// ServicePath joins a service family prefix with a resource path.
func ServicePath(service, resource string) string {
	prefix, ok := servicePrefixes[service]
	if !ok {
		prefix = "/api/" + service + "/v1"
	}
	return prefix + "/" + strings.TrimLeft(resource, "/")
}

// Request issues one HTTP request and returns the response body. Empty
// bodies, bare "{}" and 204 responses all normalize to {"success": true}.
func (c *Client) Request(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body for %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	// The upstream answers 501 to DELETE requests that carry a Content-Type
	// header, so DELETE goes out without one.
	if method != http.MethodDelete {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.observer != nil {
			c.observer(method, path, 0, time.Since(start))
		}
		return nil, c.classifyTransport(ctx, method, path, err)
	}
	defer resp.Body.Close()
	if c.observer != nil {
		c.observer(method, path, resp.StatusCode, time.Since(start))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classifyTransport(ctx, method, path, err)
	}

	c.logger.Debug("upstream_request", map[string]interface{}{
		"method":      method,
		"path":        path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return normalizeBody(data), nil
	}
	return nil, c.classifyStatus(resp, method, path, data)
}

func (c *Client) classifyTransport(ctx context.Context, method, path string, err error) error {
	if ctx.Err() == context.Canceled || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s %s", ErrCanceled, method, path)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Method: method, Path: path, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Method: method, Path: path, Err: err}
	}
	return &TransportError{Method: method, Path: path, Err: err}
}

func (c *Client) classifyStatus(resp *http.Response, method, path string, body []byte) error {
	status := resp.StatusCode
	switch {
	case status == http.StatusTooManyRequests:
		return &RateLimitedError{
			Method:     method,
			Path:       path,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case status >= 500:
		return &ServerError{StatusCode: status, Method: method, Path: path, Body: string(body)}
	default:
		return &ClientError{StatusCode: status, Method: method, Path: path, Body: string(body)}
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func normalizeBody(data []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) {
		return successBody
	}
	return json.RawMessage(trimmed)
}

// Get issues a GET against a service resource path.
func (c *Client) Get(ctx context.Context, service, resource string, query url.Values) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodGet, ServicePath(service, resource), query, nil)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, service, resource string, body interface{}) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPost, ServicePath(service, resource), nil, body)
}

// Patch issues a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, service, resource string, body interface{}) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPatch, ServicePath(service, resource), nil, body)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, service, resource string, body interface{}) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodPut, ServicePath(service, resource), nil, body)
}

// Delete issues a DELETE. No body, no Content-Type.
func (c *Client) Delete(ctx context.Context, service, resource string) (json.RawMessage, error) {
	return c.Request(ctx, http.MethodDelete, ServicePath(service, resource), nil, nil)
}

// ListQuery builds the standard upstream list parameters.
func ListQuery(filter, fields, orderBy string, limit, offset int) url.Values {
	q := url.Values{}
	if filter != "" {
		q.Set("_filter", filter)
	}
	if fields != "" {
		q.Set("_fields", fields)
	}
	if orderBy != "" {
		q.Set("_order_by", orderBy)
	}
	if limit > 0 {
		q.Set("_limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("_offset", strconv.Itoa(offset))
	}
	return q
}
