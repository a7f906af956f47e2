package mockcoreserver

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// And combines expectations; the first failing one wins.
func And(fns ...ExpectFunc) ExpectFunc {
	return func(req *http.Request) error {
		for _, fn := range fns {
			if err := fn(req); err != nil {
				return err
			}
		}
		return nil
	}
}

// MethodShouldBe expects the HTTP method.
func MethodShouldBe(method string) ExpectFunc {
	return func(req *http.Request) error {
		if req.Method != method {
			return fmt.Errorf("method %s, expected %s", req.Method, method)
		}
		return nil
	}
}

// QueryShouldHave expects every listed query value.
func QueryShouldHave(expected url.Values) ExpectFunc {
	return func(req *http.Request) error {
		actual := req.URL.Query()
		for k, vals := range expected {
			for i, v := range vals {
				if i >= len(actual[k]) || actual[k][i] != v {
					return fmt.Errorf("query %s=%v, expected %v", k, actual[k], vals)
				}
			}
		}
		return nil
	}
}

// BodyShouldBeEmpty expects a request without a body.
func BodyShouldBeEmpty() ExpectFunc {
	return BodyShouldBeSame("")
}

// BodyShouldBeSame expects the exact request body.
func BodyShouldBeSame(expected string) ExpectFunc {
	return func(req *http.Request) error {
		body, err := peekBody(req)
		if err != nil {
			return err
		}
		if string(body) != expected {
			return fmt.Errorf("body %q, expected %q", body, expected)
		}
		return nil
	}
}

// BasicAuthShouldBe expects the credentials of every request.
func BasicAuthShouldBe(username, password string) ExpectFunc {
	return func(req *http.Request) error {
		u, p, ok := req.BasicAuth()
		if !ok || u != username || p != password {
			return fmt.Errorf("basic auth %q/%q, expected %q/%q", u, p, username, password)
		}
		return nil
	}
}

func peekBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	buf, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}
