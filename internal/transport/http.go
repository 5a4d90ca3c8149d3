package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every HTTP request.
	DefaultTimeout = 15 * time.Second

	// maxInflight bounds concurrent HTTP calls per account.
	maxInflight = 4
)

// ErrorKind classifies an HTTP pipeline failure so callers can decide
// recovery without string matching.
type ErrorKind int

const (
	// KindTransport covers network and TLS level failures.
	KindTransport ErrorKind = iota
	// KindStatus is a response with a non-2xx status code.
	KindStatus
	// KindParse is a response whose body cannot be interpreted.
	KindParse
)

// Error is the typed failure of one HTTP or WebSocket operation.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("%s: http status %d", e.Op, e.Status)
	case KindParse:
		return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status from an error chain, or 0.
func StatusCode(err error) int {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindStatus {
		return te.Status
	}
	return 0
}

// Client is the HTTP pipeline of one account. All requests share one cookie
// jar scoped to the service host, so the session cookie set at login rides
// along on every subsequent call, including the WebSocket dial.
type Client struct {
	base      *url.URL
	jar       http.CookieJar
	http      *http.Client
	userAgent string
	sem       chan struct{}
}

// New creates a client for the given service base URL.
func New(baseURL, userAgent string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base: base,
		jar:  jar,
		http: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
		userAgent: userAgent,
		sem:       make(chan struct{}, maxInflight),
	}, nil
}

// Get performs a GET request against the service.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.resolve(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: "GET " + path, Err: err}
	}
	return c.do(req, "GET "+path)
}

// PostForm performs a form-encoded POST request against the service.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolve(path).String(),
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: "POST " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, "POST "+path)
}

// ClearCookies drops the whole jar, forcing the next login to start clean.
func (c *Client) ClearCookies() {
	if jar, err := cookiejar.New(nil); err == nil {
		c.jar = jar
		c.http.Jar = jar
	}
}

// Close releases idle connections held by the pipeline.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-req.Context().Done():
		return nil, &Error{Kind: KindTransport, Op: op, Err: req.Context().Err()}
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindStatus, Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (c *Client) resolve(path string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	return &u
}
