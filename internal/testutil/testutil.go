// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// LoopbackAddr is the client address of requests built by
// NewLoopbackRequest. tsweb only serves /debug routes to loopback clients.
const LoopbackAddr = "127.0.0.1:40000"

// NewLoopbackRequest creates a test request that appears to come from the
// local machine.
func NewLoopbackRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = LoopbackAddr
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
