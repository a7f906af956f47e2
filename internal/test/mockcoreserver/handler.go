package mockcoreserver

import (
	"net/http"
	"sync"
	"testing"
)

type handler struct {
	pattern string
	calls   []*Call
	guard   sync.Mutex
	t       testing.TB
}

// ServeHTTP ...
func (h *handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.guard.Lock()
	defer h.guard.Unlock()
	c := h.findCall()
	if c == nil {
		h.t.Errorf("URL %s: call not found", req.URL.String())
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	if err := c.execute(w, req); err != nil {
		h.t.Errorf("URL %s: %s", req.URL.String(), err.Error())
	}
}

func (h *handler) findCall() *Call {
	for _, c := range h.calls {
		if c.available() {
			return c
		}
	}
	return nil
}
