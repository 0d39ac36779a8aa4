package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/applock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBaseURL is the public demo backend.
const DefaultBaseURL = "https://dummyjson.com"

// RequestIDHeader carries a fresh uuid on every request.
const RequestIDHeader = "X-Request-ID"

const maxBodyBytes = 1 << 20

// HTTPError is a non-2xx answer. It unwraps to applock.ErrUnauthorized for
// 401 and to applock.ErrServer otherwise.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return applock.ErrUnauthorized
	}
	return applock.ErrServer
}

// Client implements applock.AuthClient.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (15s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a Client for baseURL, or DefaultBaseURL when empty.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login posts the credentials. The profile is the response object without
// its tokens.
func (c *Client) Login(ctx context.Context, username, password string) (applock.LoginResult, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return applock.LoginResult{}, err
	}
	raw, err := c.do(ctx, http.MethodPost, "/auth/login", "", body)
	if err != nil {
		return applock.LoginResult{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return applock.LoginResult{}, fmt.Errorf("%w: decode login response: %v", applock.ErrServer, err)
	}
	var res applock.LoginResult
	if v, ok := fields["accessToken"]; ok {
		_ = json.Unmarshal(v, &res.Token)
	}
	if v, ok := fields["username"]; ok {
		_ = json.Unmarshal(v, &res.Username)
	}
	delete(fields, "accessToken")
	delete(fields, "refreshToken")
	profile, err := json.Marshal(fields)
	if err != nil {
		return applock.LoginResult{}, fmt.Errorf("%w: encode profile: %v", applock.ErrServer, err)
	}
	res.Profile = profile
	return res, nil
}

// FetchProfile reads the current user for token.
func (c *Client) FetchProfile(ctx context.Context, token string) (applock.Profile, error) {
	raw, err := c.do(ctx, http.MethodGet, "/auth/me", token, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: profile is not JSON", applock.ErrServer)
	}
	return applock.Profile(raw), nil
}

// Get fetches path and returns the raw body. It backs query cache fetchers.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, "", nil)
}

func (c *Client) do(ctx context.Context, method, path, token string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", reqID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", applock.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", applock.ErrNetwork, err)
	}
	c.log.Debug("request done",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", reqID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Message: errorMessage(raw, resp.Status)}
	}
	return raw, nil
}

// errorMessage prefers the body's message, then its error field.
func errorMessage(raw []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return fallback
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}
