// Package transport provides HTTP and WebSocket transport implementations for exchange communication.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"resty.dev/v3"

	"blinktrade/pkg/core"
)

// Client wraps a resty HTTP client with logging and configuration.
// Requests are never retried: a trade call replayed after a timeout could
// execute twice.
type Client struct {
	client *resty.Client
	logger zerolog.Logger
	config *core.Config
}

// Response represents an HTTP response with its status code, body, and headers.
type Response struct {
	// StatusCode is the HTTP status code returned by the server.
	StatusCode int

	// Body contains the raw response body bytes.
	Body []byte

	// Headers contains the response headers as key-value pairs.
	Headers map[string]string
}

func sonicEncoder(w io.Writer, v any) error {
	return core.JSON.NewEncoder(w).Encode(v)
}

func sonicDecoder(r io.Reader, v any) error {
	return core.JSON.NewDecoder(r).Decode(v)
}

// NewClient creates a new HTTP client with the specified configuration.
// JSON bodies are encoded with sonic using the shared message codec.
func NewClient(config *core.Config, logger zerolog.Logger) *Client {
	client := resty.New()
	client.SetTimeout(config.Timeout)
	client.SetRetryCount(0)
	client.AddContentTypeEncoder("application/json", sonicEncoder)
	client.AddContentTypeDecoder("application/json", sonicDecoder)

	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("http request")
		return nil
	})

	return &Client{
		client: client,
		logger: logger,
		config: config,
	}
}

func paramsToStringMap(params core.Params) map[string]string {
	result := make(map[string]string)
	for k, v := range params {
		switch val := v.(type) {
		case string:
			result[k] = val
		case int:
			result[k] = strconv.Itoa(val)
		case int64:
			result[k] = strconv.FormatInt(val, 10)
		case float64:
			result[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			result[k] = strconv.FormatBool(val)
		default:
			result[k] = fmt.Sprintf("%v", val)
		}
	}
	return result
}

// Do executes an HTTP request and returns the response.
// It sets headers, query parameters, and body from the request object.
func (c *Client) Do(ctx context.Context, req *core.Request) (*Response, error) {
	r := c.client.R().SetContext(ctx)

	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}

	if len(req.Query) > 0 {
		r.SetQueryParams(paramsToStringMap(req.Query))
	}

	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json")
		r.SetBody(req.Body)
	}

	method := strings.ToUpper(req.Method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return nil, fmt.Errorf("unsupported http method: %s", req.Method)
	}

	resp, err := r.Execute(method, req.Path)
	if err != nil {
		c.logger.Error().Err(err).
			Str("method", method).
			Str("path", req.Path).
			Msg("http request failed")
		return nil, fmt.Errorf("http request: %w", err)
	}

	body := resp.Bytes()

	c.logger.Debug().
		Str("method", method).
		Str("path", req.Path).
		Int("status", resp.StatusCode()).
		Int("size", len(body)).
		Msg("http response")

	headers := make(map[string]string)
	for k, v := range resp.Header() {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       body,
		Headers:    headers,
	}, nil
}

// Get performs an HTTP GET request to the specified path with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, query core.Params) (*Response, error) {
	req := core.NewRequest(http.MethodGet, path)
	if query != nil {
		req.SetQueryParams(query)
	}
	return c.Do(ctx, req)
}

// Post performs an HTTP POST request to the specified path with the given body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	req := core.NewRequest(http.MethodPost, path).SetBody(body)
	return c.Do(ctx, req)
}

// SetBaseURL sets the base URL for all subsequent requests.
func (c *Client) SetBaseURL(url string) {
	c.client.SetBaseURL(url)
}

// SetHeader sets a default header for all subsequent requests.
func (c *Client) SetHeader(key, value string) {
	c.client.SetHeader(key, value)
}

// SetTimeout sets the request timeout duration.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.SetTimeout(timeout)
}

// Close releases idle connections held by the underlying client.
func (c *Client) Close() error {
	return c.client.Close()
}

// IsSuccess returns true if the response status code indicates success (2xx).
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError returns true if the response status code indicates an error (4xx or 5xx).
func (r *Response) IsError() bool {
	return r.StatusCode >= http.StatusBadRequest
}

// Unmarshal parses the response body into the provided value using sonic.
func (r *Response) Unmarshal(v any) error {
	return core.JSON.Unmarshal(r.Body, v)
}
