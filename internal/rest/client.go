// Package rest is the client for the REST collaborators of the sync core:
// conversation list, message history, fallback send, mark-read and user
// lookup. Every response is a {success, data, error} envelope and a
// success:false envelope is a failure whatever the HTTP status.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

// APIError is a response the server rejected, either with success:false or
// with an HTTP error status.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: rejected with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: rejected with status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

// errorText flattens the envelope's error, which servers send either as a
// string or as an object with a message field.
func (e envelope) errorText() string {
	if len(e.Error) == 0 || string(e.Error) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(e.Error, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Error, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(e.Error)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string

	Timeout            time.Duration
	RetryMaxElapsed    time.Duration
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Client calls the REST collaborators. Reads and mark-read are retried with
// exponential backoff; a send is never retried, since a retry after a lost
// response would post the message twice. Every call goes through one
// circuit breaker.
type Client struct {
	baseURL         string
	token           string
	http            *http.Client
	cb              *gobreaker.CircuitBreaker
	retryMaxElapsed time.Duration
	metrics         *metrics.Metrics
	logger          *zap.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	maxFailures := opts.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	st := gobreaker.Settings{
		Name:        "rest",
		MaxRequests: 1,
		Timeout:     opts.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A rejection the server answered deliberately says nothing about
		// its health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &Client{
		baseURL:         opts.BaseURL,
		token:           opts.Token,
		http:            hc,
		cb:              gobreaker.NewCircuitBreaker(st),
		retryMaxElapsed: opts.RetryMaxElapsed,
		metrics:         opts.Metrics,
		logger:          logger,
	}
}

type request struct {
	op         string
	method     string
	path       []string
	body       any
	idempotent bool
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	call := func() error {
		_, err := c.cb.Execute(func() (any, error) {
			return nil, c.roundTrip(ctx, req, out)
		})
		return err
	}

	var err error
	if req.idempotent {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = c.retryMaxElapsed
		err = backoff.Retry(func() error {
			if err := call(); err != nil {
				if !retryable(err) {
					return backoff.Permanent(err)
				}
				c.logger.Debug("retrying request", zap.String("op", req.op), zap.Error(err))
				return err
			}
			return nil
		}, backoff.WithContext(b, ctx))
	} else {
		err = call()
	}
	c.metrics.RESTCall(req.op, err)
	return err
}

func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

func (c *Client) roundTrip(ctx context.Context, req request, out any) error {
	u, err := url.JoinPath(c.baseURL, req.path...)
	if err != nil {
		return fmt.Errorf("%s: build url: %w", req.op, err)
	}

	var body io.Reader
	if req.body != nil {
		buf, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", req.op, err)
		}
		body = bytes.NewReader(buf)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return fmt.Errorf("%s: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", req.op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", req.op, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Op: req.op, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("%s: decode envelope: %w", req.op, err)
	}
	if !env.Success || resp.StatusCode >= 400 {
		return &APIError{Op: req.op, StatusCode: resp.StatusCode, Message: env.errorText()}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s: decode data: %w", req.op, err)
		}
	}
	return nil
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
