// Package api is the only code that talks to the field-operations backend.
// One Client is built at startup and handed to every field domain.
package api

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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL       = "http://103.118.158.127/api"
	DefaultTimeout       = 15 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// Options configures a Client. Zero values fall back to the defaults above;
// a negative RetryAttempts disables retries.
type Options struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	HTTPClient    *http.Client
	Logger        logrus.FieldLogger
	// Token returns the bearer token to send, or "" to send none.
	Token func() string
}

// Client wraps net/http with the backend's conventions: base URL, JSON
// bodies, bounded retries for transport failures and classified errors.
type Client struct {
	baseURL    string
	http       *http.Client
	retries    int
	retryDelay time.Duration
	log        logrus.FieldLogger
	token      func() string
	sleep      func(context.Context, time.Duration) error
}

// New validates opts and returns a ready client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("api: invalid base url %q", base)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := opts.RetryAttempts
	switch {
	case retries < 0:
		retries = 0
	case retries == 0:
		retries = DefaultRetryAttempts
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	return &Client{
		baseURL:    base,
		http:       httpClient,
		retries:    retries,
		retryDelay: delay,
		log:        logger,
		token:      opts.Token,
		sleep:      sleepContext,
	}, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Get issues a GET and decodes the response into out (which may be nil).
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

// Do performs one logical request. Transport failures are retried up to the
// configured bound with a linearly growing delay; HTTP status errors are
// returned immediately. A POST is only resent when it never left the client.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		payload = encoded
	}
	requestID := uuid.NewString()
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			c.log.WithFields(logrus.Fields{
				"request_id": requestID,
				"method":     method,
				"path":       path,
				"attempt":    attempt,
			}).Warn("retrying request")
			if err := c.sleep(ctx, c.retryDelay*time.Duration(attempt)); err != nil {
				return transportError(method, path, err)
			}
		}
		err := c.once(ctx, requestID, method, path, query, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(method, err) || ctx.Err() != nil {
			return err
		}
	}
	c.log.WithFields(logrus.Fields{"request_id": requestID, "path": path}).Error("all retry attempts failed")
	return lastErr
}

func (c *Client) once(ctx context.Context, requestID, method, path string, query url.Values, payload []byte, out any) error {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &Error{Kind: KindUnknown, Method: method, Path: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if token := strings.TrimSpace(c.token()); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	fields := logrus.Fields{"request_id": requestID, "method": method, "path": path}
	c.log.WithFields(fields).Debug("api request")
	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		apiErr := transportError(method, path, err)
		c.log.WithFields(fields).WithField("kind", apiErr.Kind.String()).WithError(err).Error("api transport error")
		return apiErr
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(method, path, err)
	}
	fields["status"] = resp.StatusCode
	fields["duration_ms"] = time.Since(started).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{
			Kind:          kindForStatus(resp.StatusCode),
			Status:        resp.StatusCode,
			Method:        method,
			Path:          path,
			ServerMessage: serverMessage(data),
		}
		c.log.WithFields(fields).WithField("kind", apiErr.Kind.String()).Error("api error response")
		return apiErr
	}
	c.log.WithFields(fields).Debug("api response")

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Kind: KindDecode, Method: method, Path: path, Err: err}
	}
	return nil
}

// retryable reports whether a failed attempt may be sent again. Idempotent
// methods retry on any transport failure; other methods only when the
// connection could not be established.
func retryable(method string, err error) bool {
	if !IsTransient(err) {
		return false
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
