package mockcoreserver

import (
	"bytes"
	"io"
	"net/http"
)

type (
	ExpectFunc        func(req *http.Request) error
	HandlerFunc       func(w http.ResponseWriter, req *http.Request) error
	HandlerOptionFunc func(opt *respOption, req *http.Request) error
)

type respOption struct {
	status int
	body   io.Reader
	header http.Header
}

// Call is a call expectation structure
type Call struct {
	handlerFunc HandlerFunc
	expectFunc  ExpectFunc
	actualCnt   int
	expectedCnt int
}

// Respond sets a response by a request
func (c *Call) Respond(opts ...HandlerOptionFunc) *Call {
	c.handlerFunc = func(w http.ResponseWriter, req *http.Request) error {
		ro := &respOption{
			status: http.StatusOK,
			body:   bytes.NewReader(nil),
			header: make(http.Header),
		}
		for _, opt := range opts {
			if err := opt(ro, req); err != nil {
				return err
			}
		}
		for k, vals := range ro.header {
			for _, v := range vals {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(ro.status)
		_, err := io.Copy(w, ro.body)
		return err
	}
	return c
}

// Expect sets an expectation on a request
func (c *Call) Expect(fn ExpectFunc) *Call {
	c.expectFunc = fn
	return c
}

// Times sets the expected number of calls
func (c *Call) Times(cnt int) *Call {
	c.expectedCnt = cnt
	return c
}

// Once sets only one expected call
func (c *Call) Once() *Call {
	return c.Times(1)
}

// Forever do not use number expected calls for a mock
func (c *Call) Forever() *Call {
	return c.Times(-1)
}

func (c *Call) available() bool {
	return c.expectedCnt == -1 || c.actualCnt < c.expectedCnt
}

func (c *Call) execute(w http.ResponseWriter, req *http.Request) error {
	c.actualCnt++
	if c.expectFunc != nil {
		if err := c.expectFunc(req); err != nil {
			return err
		}
	}
	if c.handlerFunc != nil {
		return c.handlerFunc(w, req)
	}
	return nil
}
