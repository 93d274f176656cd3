package testutil

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServeLoopbackRequest(t *testing.T) {
	t.Parallel()

	var gotAddr string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAddr = r.RemoteAddr
		w.WriteHeader(http.StatusTeapot)
	})
	w := Serve(t, h, NewLoopbackRequest(http.MethodGet, "/debug/x"))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, LoopbackAddr, gotAddr)
}
