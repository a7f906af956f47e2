// Package mockcoreserver provides in-process stand-ins for the full-node
// daemon and the indexer: expectation-driven HTTP and JSON-RPC servers, and
// a simulated regression chain that can back both.
package mockcoreserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
)

type requestKey struct{}

// Request is a decoded JSON-RPC request.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// Param decodes positional parameter i into v.
func (r Request) Param(i int, v interface{}) error {
	if i >= len(r.Params) {
		return fmt.Errorf("%s: missing parameter %d", r.Method, i)
	}
	return json.Unmarshal(r.Params[i], v)
}

// RequestFromContext returns the JSON-RPC request being served.
func RequestFromContext(ctx context.Context) (Request, bool) {
	req, ok := ctx.Value(requestKey{}).(Request)
	return req, ok
}

// HTTPServer is a mock http server
// the idea is to use this server in a test flow to check requests and passed response
type HTTPServer struct {
	t        testing.TB
	mux      *http.ServeMux
	guard    sync.Mutex
	handlers map[string]*handler
	srv      *httptest.Server
}

// NewHTTPServer returns a mock http server. It is not listening until Start.
func NewHTTPServer(t testing.TB) *HTTPServer {
	return &HTTPServer{
		t:        t,
		mux:      http.NewServeMux(),
		handlers: make(map[string]*handler),
	}
}

// On returns a call structure to setup afterwards
func (s *HTTPServer) On(pattern string) *Call {
	s.guard.Lock()
	defer s.guard.Unlock()
	h, ok := s.handlers[pattern]
	if !ok {
		h = &handler{
			t:       s.t,
			pattern: pattern,
		}
		s.handlers[pattern] = h
		s.mux.Handle(pattern, h)
	}
	c := &Call{}
	h.guard.Lock()
	h.calls = append(h.calls, c)
	h.guard.Unlock()
	return c
}

// Handle mounts a plain handler, bypassing call expectations.
func (s *HTTPServer) Handle(pattern string, h http.Handler) {
	s.guard.Lock()
	defer s.guard.Unlock()
	s.mux.Handle(pattern, h)
}

// Start starts serving on a loopback port and stops the server when the
// test ends.
func (s *HTTPServer) Start() {
	s.guard.Lock()
	defer s.guard.Unlock()
	s.srv = httptest.NewServer(s.mux)
	s.t.Cleanup(s.Stop)
}

// URL returns the base URL of a started server.
func (s *HTTPServer) URL() string {
	s.guard.Lock()
	defer s.guard.Unlock()
	return s.srv.URL
}

// Stop stops http server
func (s *HTTPServer) Stop() {
	s.guard.Lock()
	srv := s.srv
	s.guard.Unlock()
	if srv != nil {
		srv.CloseClientConnections()
		srv.Close()
	}
}

// JRPCServer is a mock JSON-RPC server dispatching on the method name.
type JRPCServer struct {
	t       testing.TB
	httpSrv *HTTPServer
	guard   sync.Mutex
	calls   map[string][]*Call
}

// NewJRPCServer returns a mock JSON-RPC server. It is not listening until
// Start.
func NewJRPCServer(t testing.TB) *JRPCServer {
	return &JRPCServer{
		t:       t,
		httpSrv: NewHTTPServer(t),
		calls:   make(map[string][]*Call),
	}
}

// Start ...
func (s *JRPCServer) Start() {
	s.httpSrv.Handle("/", http.HandlerFunc(s.serve))
	s.httpSrv.Start()
}

// URL ...
func (s *JRPCServer) URL() string { return s.httpSrv.URL() }

// Stop ...
func (s *JRPCServer) Stop() { s.httpSrv.Stop() }

// On registers an expectation for a method. Expectations for the same
// method are consumed in registration order.
func (s *JRPCServer) On(method string) *Call {
	s.guard.Lock()
	defer s.guard.Unlock()
	call := &Call{}
	s.calls[method] = append(s.calls[method], call)
	return call
}

func (s *JRPCServer) serve(w http.ResponseWriter, req *http.Request) {
	buf, err := peekBody(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var jReq Request
	if err := json.Unmarshal(buf, &jReq); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.guard.Lock()
	defer s.guard.Unlock()
	call := s.findCall(jReq.Method)
	if call == nil {
		s.t.Errorf("unexpected call of method %s", jReq.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write(mustMarshal(&response{
			Result: json.RawMessage("null"),
			Error:  btcjson.ErrRPCMethodNotFound,
			ID:     jReq.ID,
		}))
		return
	}
	ctx := context.WithValue(req.Context(), requestKey{}, jReq)
	if err := call.execute(w, req.WithContext(ctx)); err != nil {
		s.t.Errorf("method %s: %v", jReq.Method, err)
	}
}

func (s *JRPCServer) findCall(method string) *Call {
	for _, call := range s.calls[method] {
		if call.available() {
			return call
		}
	}
	return nil
}
