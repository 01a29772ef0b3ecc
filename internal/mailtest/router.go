// Package mailtest provides an in-memory mail agent and an HTTP transport
// that routes requests by host, so protocol code can be tested without a
// network.
package mailtest

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Router is an http.RoundTripper dispatching every request to the handler
// registered for its host. Unknown hosts fail like unreachable ones.
type Router struct {
	mu    sync.RWMutex
	hosts map[string]http.Handler
}

func NewRouter() *Router {
	return &Router{hosts: make(map[string]http.Handler)}
}

func (r *Router) Handle(host string, h http.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[strings.ToLower(host)] = h
}

func (r *Router) Remove(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, strings.ToLower(host))
}

func (r *Router) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	r.mu.RLock()
	h, ok := r.hosts[strings.ToLower(host)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("dial %s: no route to host", host)
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

// Client returns an http.Client using the router as transport.
func (r *Router) Client() *http.Client {
	return &http.Client{Transport: r}
}

// StaticText serves body for GET requests to path and 404 otherwise.
func StaticText(path, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, body)
	})
}
