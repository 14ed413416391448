package httpcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/AndreiTuhkru/sessionwatch"
)

// DefaultStatusPath is the session-status endpoint served by statusapi.
const DefaultStatusPath = "/session/status"

// maxBodyBytes caps how much of a status response is read.
const maxBodyBytes = 64 << 10

var (
	// ErrUnexpectedStatus is returned for a response code other than 200, 401 or 403.
	ErrUnexpectedStatus = errors.New("unexpected session status code")
	// ErrMalformedStatus is returned when the body is not a session status object.
	ErrMalformedStatus = errors.New("malformed session status body")
	// ErrInvalidBaseURL is returned by New for a base URL without scheme and host.
	ErrInvalidBaseURL = errors.New("invalid base url")
)

// Client polls the session-status endpoint. It is safe for concurrent use.
type Client struct {
	base      *url.URL
	endpoint  *url.URL
	client    *http.Client
	token     string
	userAgent string

	seed []*http.Cookie
}

// Option customises a Client.
type Option func(*Client) error

// WithHTTPClient replaces the transport. A client without a cookie jar gets one.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc != nil {
			c.client = hc
		}
		return nil
	}
}

// WithStatusPath overrides DefaultStatusPath.
func WithStatusPath(path string) Option {
	return func(c *Client) error {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("status path %q must start with /", path)
		}
		c.endpoint = c.base.JoinPath(path)
		return nil
	}
}

// WithSessionCookie seeds the jar with a session cookie for the endpoint host.
func WithSessionCookie(cookie *http.Cookie) Option {
	return func(c *Client) error {
		if cookie == nil || cookie.Name == "" {
			return errors.New("session cookie requires a name")
		}
		c.seed = append(c.seed, cookie)
		return nil
	}
}

// WithBearerToken sends Authorization: Bearer token with every check.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.token = strings.TrimSpace(token)
		return nil
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// New creates a Client for baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, baseURL)
	}

	c := &Client{
		base:      base,
		endpoint:  base.JoinPath(DefaultStatusPath),
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: "sessionwatch",
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		clone := *c.client
		clone.Jar = jar
		c.client = &clone
	}
	if len(c.seed) > 0 {
		c.SetCookies(c.seed)
		c.seed = nil
	}

	return c, nil
}

// Endpoint returns the full status URL.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// SetCookies stores cookies for the endpoint host, e.g. after an interactive login.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.client.Jar.SetCookies(c.endpoint, cookies)
}

// Check implements sessionwatch.Checker.
func (c *Client) Check(ctx context.Context) (sessionwatch.SessionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.String(), nil)
	if err != nil {
		return sessionwatch.SessionStatus{}, fmt.Errorf("%w: %v", sessionwatch.ErrCheckFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return sessionwatch.SessionStatus{}, fmt.Errorf("%w: %v", sessionwatch.ErrCheckFailed, err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxBodyBytes)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		_, _ = io.Copy(io.Discard, body)
		return sessionwatch.SessionStatus{IsAuthenticated: false}, nil
	default:
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		return sessionwatch.SessionStatus{}, fmt.Errorf("%w: %w: GET %s: %d %s",
			sessionwatch.ErrCheckFailed, ErrUnexpectedStatus, c.endpoint.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var raw struct {
		IsAuthenticated *bool `json:"is_authenticated"`
	}
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return sessionwatch.SessionStatus{}, fmt.Errorf("%w: %w: %v", sessionwatch.ErrCheckFailed, ErrMalformedStatus, err)
	}
	if raw.IsAuthenticated == nil {
		return sessionwatch.SessionStatus{}, fmt.Errorf("%w: %w: missing is_authenticated", sessionwatch.ErrCheckFailed, ErrMalformedStatus)
	}

	return sessionwatch.SessionStatus{IsAuthenticated: *raw.IsAuthenticated}, nil
}
