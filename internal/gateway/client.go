package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// maxResponseBodySize limits how much of a response body is read for
	// classification; list endpoints can be large.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB

	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second
)

// Request is one call against the gateway. Body, when non-nil, is encoded
// as JSON.
type Request struct {
	Name   string // operation name, used for logging only
	Method string
	Path   string
	Body   any
}

// Response is the raw outcome of a request.
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
	BytesSent  int64
	BytesRecv  int64
}

// Doer is the HTTP capability tasks depend on.
type Doer interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// Client sends requests to a gateway base URL.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a client for baseURL. A nil httpClient gets a client
// with DefaultTimeout; a nil logger disables request tracing.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     logger,
	}
}

// Do sends req and reads the response body. A non-nil error means no
// response was received (or the request could not be built); HTTP error
// statuses are returned as a normal Response.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return Response{Duration: time.Since(start)}, fmt.Errorf("encoding %s body: %w", req.Name, err)
		}
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return Response{Duration: time.Since(start)}, fmt.Errorf("building %s request: %w", req.Name, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	c.logRequest(req, httpReq, payload)

	resp, err := c.http.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		c.logError(req, err, duration)
		return Response{Duration: duration, BytesSent: int64(len(payload))}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	_, _ = io.Copy(io.Discard, resp.Body) // drain remaining body
	duration = time.Since(start)
	if err != nil {
		c.logError(req, err, duration)
		return Response{StatusCode: resp.StatusCode, Duration: duration, BytesSent: int64(len(payload))},
			fmt.Errorf("reading %s response: %w", req.Name, err)
	}

	c.logResponse(req, resp, respBody, duration)

	return Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Duration:   duration,
		BytesSent:  int64(len(payload)),
		BytesRecv:  int64(len(respBody)),
	}, nil
}
