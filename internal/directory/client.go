// Package directory is the REST client for the marketplace's auth, supplier
// and order services. Every call is a single request/response; nothing is
// retried.
package directory

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
	"unicode/utf8"

	"github.com/google/go-querystring/query"
	"github.com/rs/zerolog/log"
)

// maxErrorBody caps how much of a failed response body is kept on APIError.
const maxErrorBody = 512

// ErrAuthFailed is returned by Login when the credentials are rejected.
var ErrAuthFailed = errors.New("directory: login failed")

// APIError is a non-2xx response from a directory endpoint.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("directory: %s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("directory: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Unauthorized reports whether the server rejected the credential.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Authorizer attaches the caller's credential to outgoing requests.
// *auth.Context satisfies it.
type Authorizer interface {
	Authorize(req *http.Request)
}

// Client talks to the marketplace REST API.
type Client struct {
	baseURL string
	http    *http.Client
	auth    Authorizer
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL    string        // e.g. http://127.0.0.1:8000/api/v1
	Auth       Authorizer    // optional; requests are anonymous without it
	HTTPClient *http.Client  // optional
	Timeout    time.Duration // used when HTTPClient is nil; defaults to 15s
}

// New creates a Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("directory: base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("directory: base url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
		auth:    opts.Auth,
	}, nil
}

// do issues one request. body, when non-nil, is sent as JSON; params, when
// non-nil, is encoded into the query string from its `url` tags. A 2xx
// response body is returned raw.
func (c *Client) do(ctx context.Context, op, method, path string, params, body any, anonymous bool) ([]byte, error) {
	u := c.baseURL + path
	if params != nil {
		v, err := query.Values(params)
		if err != nil {
			return nil, fmt.Errorf("directory: %s: encode query: %w", op, err)
		}
		if enc := v.Encode(); enc != "" {
			u += "?" + enc
		}
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("directory: %s: encode body: %w", op, err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, fmt.Errorf("directory: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !anonymous && c.auth != nil {
		c.auth.Authorize(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directory: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("directory: %s: read body: %w", op, err)
	}
	log.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("directory request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: clipBody(string(data))}
	}
	return data, nil
}

// clipBody trims s to at most maxErrorBody bytes without splitting a rune.
func clipBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// decode unmarshals a response body for op.
func decode(op string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("directory: %s: decode: %w", op, err)
	}
	return nil
}

// LoginResult holds the tokens issued at login.
type LoginResult struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login exchanges email and password for a bearer credential. Rejected
// credentials yield an error wrapping ErrAuthFailed.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	data, err := c.do(ctx, "login", http.MethodPost, "/auth/login/", nil, body, true)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return LoginResult{}, fmt.Errorf("%w: %s", ErrAuthFailed, apiErr.Error())
		}
		return LoginResult{}, err
	}
	var res LoginResult
	if err := decode("login", data, &res); err != nil {
		return LoginResult{}, err
	}
	if res.Access == "" {
		return LoginResult{}, fmt.Errorf("%w: response carried no access token", ErrAuthFailed)
	}
	return res, nil
}
