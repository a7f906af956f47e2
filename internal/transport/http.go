// Package transport talks to the processes under test: plain HTTP/JSON
// request/response, JSON-RPC over HTTP, and socket.io push subscriptions
// over websocket.
package transport

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

const (
	defaultRequestTimeout = 30 * time.Second

	// Upper bound on a response body. Raw blocks on a regression chain are
	// far smaller.
	maxResponseSize = 32 << 20
)

// Endpoint describes a single request relative to the client's base URL.
type Endpoint struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header

	// Body is JSON-encoded when not nil.
	Body interface{}
}

// Response is a successfully received response. Body holds the raw JSON.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPClient issues JSON requests against a single base URL.
//
// HTTPClient is safe for concurrent use by multiple goroutines.
type HTTPClient struct {
	baseURL  *url.URL
	client   *http.Client
	username string
	password string
	timeout  time.Duration
}

// HTTPOption sets an optional parameter on an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithBasicAuth sets the credentials sent with every request.
func WithBasicAuth(username, password string) HTTPOption {
	return func(c *HTTPClient) {
		c.username = username
		c.password = password
	}
}

// WithTimeout bounds every request/response round trip.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) { c.timeout = d }
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = client }
}

// NewHTTPClient returns a client for remote, which must be an absolute
// http(s) URL.
func NewHTTPClient(remote string, options ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return nil, fmt.Errorf("invalid remote %q: %w", remote, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid remote %q: scheme must be http or https", remote)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid remote %q: missing host", remote)
	}

	c := &HTTPClient{
		baseURL: u,
		client:  &http.Client{},
		timeout: defaultRequestTimeout,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the remote the client was created with.
func (c *HTTPClient) BaseURL() string { return c.baseURL.String() }

func (c *HTTPClient) resolve(ep Endpoint) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(ep.Path, "/")
	if len(ep.Query) > 0 {
		u.RawQuery = ep.Query.Encode()
	}
	return u.String()
}

// Call sends the request described by ep and decodes the JSON response into
// result, unless result is nil.
//
// A connection failure yields a *TransportError. A status other than 200 or
// 201, or a body that is not JSON, yields a *ProtocolError; the raw response
// is still returned alongside it.
func (c *HTTPClient) Call(ctx context.Context, ep Endpoint, result interface{}) (*Response, error) {
	method := ep.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.resolve(ep)

	var body io.Reader
	if ep.Body != nil {
		bz, err := json.Marshal(ep.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(bz)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range ep.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method, URL: target, Err: err}
	}
	defer httpResp.Body.Close()

	bz, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize+1))
	if err != nil {
		return nil, &TransportError{Op: method, URL: target, Err: fmt.Errorf("reading response: %w", err)}
	}
	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       bz,
	}
	if len(bz) > maxResponseSize {
		return resp, &ProtocolError{
			StatusCode: resp.StatusCode,
			URL:        target,
			Err:        fmt.Errorf("response exceeds %d bytes", maxResponseSize),
		}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return resp, &ProtocolError{StatusCode: resp.StatusCode, URL: target, Body: truncate(bz)}
	}

	if !json.Valid(bz) {
		return resp, &ProtocolError{
			StatusCode: resp.StatusCode,
			URL:        target,
			Body:       truncate(bz),
			Err:        errors.New("response is not JSON"),
		}
	}
	if result != nil {
		if err := json.Unmarshal(bz, result); err != nil {
			return resp, &ProtocolError{
				StatusCode: resp.StatusCode,
				URL:        target,
				Body:       truncate(bz),
				Err:        fmt.Errorf("decoding response: %w", err),
			}
		}
	}
	return resp, nil
}
