// Package guardclient calls the abuse guard HTTP endpoint from services that do
// not embed the guard.
package guardclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrBadRequest means the guard rejected the call itself, e.g. an unknown action.
	ErrBadRequest = errors.New("guardclient: bad request")
	// ErrUnavailable means the guard could not be reached or failed internally.
	ErrUnavailable = errors.New("guardclient: guard unavailable")
)

// Request carries the raw caller identity and the optional checks. The guard
// hashes identifiers on its side.
type Request struct {
	UserID   string
	DeviceID string
	// ClientIP is sent as X-Forwarded-For.
	ClientIP string
	Email    string

	ContentBody  string
	PendingCount *int64
	PendingMax   int64
}

type body struct {
	ContentBody  string `json:"contentBody,omitempty"`
	PendingCount *int64 `json:"pendingCount,omitempty"`
	PendingMax   int64  `json:"pendingMax,omitempty"`
	Email        string `json:"email,omitempty"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	failOpen   bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client, which has a 2s timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithFailClosed makes Check report "not allowed" when the guard is unavailable.
// The default is to allow.
func WithFailClosed() Option {
	return func(c *Client) { c.failOpen = false }
}

// New creates a client for the guard at baseURL, e.g. "http://abuseguard:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Second},
		failOpen:   true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check asks whether the caller may perform action. A rate-limited caller gets
// (false, nil). When the guard is unavailable the error wraps ErrUnavailable and
// allowed follows the fail-open setting.
func (c *Client) Check(ctx context.Context, action string, req Request) (bool, error) {
	payload, err := json.Marshal(body{
		ContentBody:  req.ContentBody,
		PendingCount: req.PendingCount,
		PendingMax:   req.PendingMax,
		Email:        req.Email,
	})
	if err != nil {
		return c.failOpen, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/guard/"+url.PathEscape(action), bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	setHeader(httpReq.Header, "X-User-Id", req.UserID)
	setHeader(httpReq.Header, "X-Device-Id", req.DeviceID)
	setHeader(httpReq.Header, "X-Forwarded-For", req.ClientIP)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.failOpen, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return false, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return false, fmt.Errorf("%w: status %d", ErrBadRequest, resp.StatusCode)
	default:
		return c.failOpen, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

func setHeader(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}
