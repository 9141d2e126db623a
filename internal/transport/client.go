// Package transport is the resilient request client every backend call goes
// through. It owns timeouts, failure classification and the retry policy; no
// caller above it retries on its own.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout        = 15 * time.Second
	defaultMaxRetries     = 2
	defaultRetryBaseDelay = 300 * time.Millisecond

	HeaderSessionID = "X-Session-Id"
	HeaderRequestID = "X-Request-Id"
)

// CredentialSource supplies the session id attached to outgoing requests.
// An empty string means no session is known yet.
type CredentialSource interface {
	Current() string
}

// Recorder receives request outcomes. internal/metrics provides the Prometheus one.
type Recorder interface {
	ObserveRequest(method, outcome string, elapsed time.Duration)
	ObserveRetry(method string, kind Kind)
}

type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int // retry budget for idempotent methods
	RetryBaseDelay time.Duration
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		Timeout:        defaultTimeout,
		MaxRetries:     defaultMaxRetries,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
}

// RequestOptions tune a single call.
type RequestOptions struct {
	Timeout time.Duration
	// Retries overrides the method-derived retry budget when non-nil.
	Retries *int
	// RetryOnce opts a non-idempotent call that is known to be safely
	// re-issuable into exactly one retry.
	RetryOnce bool
	// Anonymous suppresses the session header.
	Anonymous bool
	Header    http.Header
	Query     url.Values
}

// RawBody is sent as-is instead of being JSON encoded (multipart uploads).
type RawBody struct {
	ContentType string
	Data        []byte
}

// Retries is a helper for RequestOptions.Retries.
func Retries(n int) *int { return &n }

// Response is a successful (2xx) backend response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Attempts is how many tries it took to get this response.
	Attempts int
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if v == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &Error{
			Kind:      KindHTTP,
			Status:    r.StatusCode,
			Code:      CodeInvalidResponse,
			Retryable: boolPtr(false),
			Message:   "response body is not valid JSON for the expected shape",
			Details:   err.Error(),
			Err:       err,
		}
	}
	return nil
}

type Client struct {
	cfg      Config
	baseURL  string
	client   *http.Client
	creds    CredentialSource
	recorder Recorder
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithCredentials(src CredentialSource) Option {
	return func(c *Client) { c.creds = src }
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay < 0 {
		cfg.RetryBaseDelay = 0
	}
	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		// Timeouts are enforced per attempt through the request context.
		client: &http.Client{},
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured backend base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// SetCredentials attaches the session source after construction; the session
// cache itself is built on top of this client.
func (c *Client) SetCredentials(src CredentialSource) { c.creds = src }

// Do sends the request and decodes a successful JSON body into out.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts *RequestOptions) error {
	resp, err := c.Send(ctx, method, path, body, opts)
	if err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		te := err.(*Error)
		te.Method, te.Path, te.Attempts = method, path, resp.Attempts
		return te
	}
	return nil
}

// Send performs the call with timeout and retry. Any returned error is a *Error.
func (c *Client) Send(ctx context.Context, method, path string, body any, opts *RequestOptions) (*Response, error) {
	if opts == nil {
		opts = &RequestOptions{}
	}
	method = strings.ToUpper(method)

	var payload []byte
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case RawBody:
		payload, contentType = b.Data, b.ContentType
	case *RawBody:
		payload, contentType = b.Data, b.ContentType
	default:
		b2, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{
				Kind:      KindHTTP,
				Code:      "invalid_request",
				Retryable: boolPtr(false),
				Message:   "could not encode request body",
				Details:   err.Error(),
				Method:    method,
				Path:      path,
				Err:       err,
			}
		}
		payload = b2
	}

	target := c.baseURL + path
	if len(opts.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + opts.Query.Encode()
	}

	budget := c.retryBudget(method, opts)
	started := time.Now()

	for attempt := 1; ; attempt++ {
		resp, terr := c.attempt(ctx, method, target, payload, contentType, opts)
		if terr == nil {
			resp.Attempts = attempt
			c.observe(method, "success", started)
			return resp, nil
		}
		terr.Method, terr.Path, terr.Attempts = method, path, attempt

		if attempt > budget || !terr.ShouldRetry() {
			c.logger.Warn("request failed",
				"method", method,
				"path", path,
				"kind", terr.Kind,
				"status", terr.Status,
				"code", terr.Code,
				"attempts", attempt,
			)
			c.observe(method, string(terr.Kind), started)
			return nil, terr
		}

		delay := c.cfg.RetryBaseDelay * time.Duration(attempt)
		c.logger.Debug("retrying request",
			"method", method,
			"path", path,
			"kind", terr.Kind,
			"status", terr.Status,
			"attempt", attempt,
			"delay", delay,
		)
		if c.recorder != nil {
			c.recorder.ObserveRetry(method, terr.Kind)
		}
		if err := c.sleep(ctx, delay); err != nil {
			cancelled := cancelledError(err)
			cancelled.Method, cancelled.Path, cancelled.Attempts = method, path, attempt
			c.observe(method, string(cancelled.Kind), started)
			return nil, cancelled
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, target string, payload []byte, contentType string, opts *RequestOptions) (*Response, *Error) {
	timeout := c.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(actx, method, target, rdr)
	if err != nil {
		return nil, &Error{
			Kind:      KindNetwork,
			Retryable: boolPtr(false),
			Message:   "could not build request",
			Details:   err.Error(),
			Err:       err,
		}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if !opts.Anonymous && c.creds != nil {
		if sid := c.creds.Current(); sid != "" {
			req.Header.Set(HeaderSessionID, sid)
		}
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(ctx, timeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(ctx, timeout, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpError(resp.StatusCode, data)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) retryBudget(method string, opts *RequestOptions) int {
	if opts.Retries != nil {
		if *opts.Retries < 0 {
			return 0
		}
		return *opts.Retries
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return c.cfg.MaxRetries
	}
	if opts.RetryOnce {
		return 1
	}
	return 0
}

func (c *Client) observe(method, outcome string, started time.Time) {
	if c.recorder != nil {
		c.recorder.ObserveRequest(method, outcome, time.Since(started))
	}
}

// classify maps a failed round trip onto the taxonomy. Cancellation by the
// caller is reported as a non-retryable network error.
func classify(parent context.Context, timeout time.Duration, err error) *Error {
	if parent.Err() != nil {
		return cancelledError(parent.Err())
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &Error{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("request timed out after %s", timeout),
			Details: err.Error(),
			Err:     err,
		}
	}
	return &Error{
		Kind:    KindNetwork,
		Message: "network request failed",
		Details: err.Error(),
		Err:     err,
	}
}

func cancelledError(err error) *Error {
	return &Error{
		Kind:      KindNetwork,
		Retryable: boolPtr(false),
		Message:   "request cancelled",
		Details:   err.Error(),
		Err:       err,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
