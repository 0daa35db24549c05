// Package client provides an HTTP client for the aftp API with retries for
// reads.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fruitsalade/aftp/pkg/protocol"
	"github.com/fruitsalade/aftp/pkg/retry"
)

// Client talks to one aftp server.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	logger      *zap.Logger

	mu       sync.RWMutex
	clientID string
	token    string
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
	// ClientID is sent verbatim as the Authorization header.
	ClientID string
	// Token, when set, is sent as a bearer token instead of ClientID.
	Token  string
	Logger *zap.Logger
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		logger:      cfg.Logger,
		clientID:    cfg.ClientID,
		token:       cfg.Token,
	}
}

// SetToken sets the bearer token for requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// applyAuth adds the Authorization header if the client has an identity.
func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.clientID != "":
		req.Header.Set("Authorization", c.clientID)
	}
}

type requestIDKey struct{}

// WithRequestID makes every request sent with ctx carry id, so a call can be
// found in the server logs under an ID the caller chose.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// pinRequestID gives one logical call a single ID shared by its retries.
func pinRequestID(ctx context.Context) context.Context {
	if requestIDFrom(ctx) != "" {
		return ctx
	}
	return WithRequestID(ctx, uuid.NewString())
}

// prepare sets the identity and request ID headers on req.
func (c *Client) prepare(req *http.Request) {
	c.applyAuth(req)
	id := requestIDFrom(req.Context())
	if id == "" {
		id = uuid.NewString()
	}
	req.Header.Set(protocol.RequestIDHeader, id)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
	// RequestID is the ID the server logged the request under.
	RequestID string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	if e.RequestID != "" {
		msg += " [request " + e.RequestID + "]"
	}
	return msg
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// IsNotFound reports whether the server answered 404.
func IsNotFound(err error) bool { return StatusCode(err) == http.StatusNotFound }

// IsForbidden reports whether the server answered 403.
func IsForbidden(err error) bool { return StatusCode(err) == http.StatusForbidden }

// readError turns an error response into an *APIError. 5xx and 429 are
// marked retryable.
func readError(resp *http.Response) error {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		RequestID:  resp.Header.Get(protocol.RequestIDHeader),
	}
	if apiErr.RequestID == "" && resp.Request != nil {
		apiErr.RequestID = resp.Request.Header.Get(protocol.RequestIDHeader)
	}
	var body protocol.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Details = body.Details
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return retry.Retryable(apiErr)
	}
	return apiErr
}

// endpoint builds the URL of route for a slash-separated entry path.
func (c *Client) endpoint(route, path string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString(route)
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

// do sends one request and returns the response when its status is want.
func (c *Client) do(ctx context.Context, method, target string, body io.Reader, size int64, want ...int) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.ContentLength = size
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	req.Header.Set("Accept-Encoding", "gzip")
	c.prepare(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.Retryable(err)
	}
	for _, code := range want {
		if resp.StatusCode == code {
			return resp, nil
		}
	}
	defer resp.Body.Close()
	err = readError(resp)
	c.logger.Debug("request failed",
		zap.String("method", method),
		zap.String("url", target),
		zap.String("request_id", req.Header.Get(protocol.RequestIDHeader)),
		zap.Error(err))
	return nil, err
}

// decodeJSON reads a JSON body, inflating it when the server gzipped it.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		defer gr.Close()
		reader = gr
	}
	return json.NewDecoder(reader).Decode(v)
}

// getJSON performs a retried GET and decodes the answer into T.
func getJSON[T any](ctx context.Context, c *Client, target string) (*T, error) {
	ctx = pinRequestID(ctx)
	return retry.DoWithResult(ctx, c.retryConfig, func() (*T, error) {
		resp, err := c.do(ctx, http.MethodGet, target, nil, 0, http.StatusOK)
		if err != nil {
			return nil, err
		}
		var v T
		if err := decodeJSON(resp, &v); err != nil {
			return nil, err
		}
		return &v, nil
	})
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) (*protocol.HealthResponse, error) {
	return getJSON[protocol.HealthResponse](ctx, c, c.baseURL+"/health")
}

// Tree returns the entry at path with its immediate children.
func (c *Client) Tree(ctx context.Context, path string) (*protocol.FlatTree, error) {
	return getJSON[protocol.FlatTree](ctx, c, c.endpoint("/api/v1/tree", path))
}

// Children lists the entries directly below path.
func (c *Client) Children(ctx context.Context, path string) ([]protocol.FlatItem, error) {
	resp, err := getJSON[protocol.ChildrenResponse](ctx, c, c.endpoint("/api/v1/children", path))
	if err != nil {
		return nil, err
	}
	return resp.Children, nil
}

// Subtree returns everything below path.
func (c *Client) Subtree(ctx context.Context, path string) (*protocol.Subtree, error) {
	return getJSON[protocol.Subtree](ctx, c, c.endpoint("/api/v1/subtree", path))
}

// Raw opens the content of the file at path. A positive length requests a
// byte range starting at offset. The second result is the number of bytes
// the reader will yield, or -1 if the server did not say.
func (c *Client) Raw(ctx context.Context, path string, offset, length int64) (io.ReadCloser, int64, error) {
	target := c.endpoint("/api/v1/raw", path)
	ctx = pinRequestID(ctx)
	resp, err := retry.DoWithResult(ctx, c.retryConfig, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		if offset > 0 || length > 0 {
			end := ""
			if length > 0 {
				end = fmt.Sprintf("%d", offset+length-1)
			}
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%s", offset, end))
		}
		c.prepare(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retry.Retryable(err)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			defer resp.Body.Close()
			return nil, readError(resp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

// Mkdir creates a folder at path. Writes are not retried.
func (c *Client) Mkdir(ctx context.Context, path string) (*protocol.FlatTree, error) {
	resp, err := c.do(ctx, http.MethodPut, c.endpoint("/api/v1/tree", path), nil, 0, http.StatusCreated)
	if err != nil {
		return nil, unwrapRetryable(err)
	}
	var out protocol.FlatTree
	return &out, decodeJSON(resp, &out)
}

// Put creates a file at path holding the bytes of content. Empty content
// is rejected because the server would create a folder instead.
func (c *Client) Put(ctx context.Context, path string, content io.Reader, size int64) (*protocol.FlatTree, error) {
	if size == 0 {
		return nil, errors.New("cannot store an empty file")
	}
	if size < 0 {
		data, err := io.ReadAll(content)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			return nil, errors.New("cannot store an empty file")
		}
		content, size = bytes.NewReader(data), int64(len(data))
	}
	resp, err := c.do(ctx, http.MethodPut, c.endpoint("/api/v1/tree", path), content, size, http.StatusCreated)
	if err != nil {
		return nil, unwrapRetryable(err)
	}
	var out protocol.FlatTree
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("uploaded", zap.String("path", path), zap.Int64("size", size))
	return &out, nil
}

// Delete removes the entry at path and everything below it, returning the
// removed entry.
func (c *Client) Delete(ctx context.Context, path string) (*protocol.FlatTree, error) {
	resp, err := c.do(ctx, http.MethodDelete, c.endpoint("/api/v1/tree", path), nil, 0, http.StatusOK)
	if err != nil {
		return nil, unwrapRetryable(err)
	}
	var out protocol.FlatTree
	return &out, decodeJSON(resp, &out)
}

// unwrapRetryable strips the retry marker from errors of calls that are
// never retried.
func unwrapRetryable(err error) error {
	var re retry.RetryableError
	if errors.As(err, &re) {
		return re.Err
	}
	return err
}
