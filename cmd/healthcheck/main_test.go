package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveBody(status int, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestCheck(t *testing.T) {
	client := &http.Client{Timeout: time.Second}

	t.Run("ready", func(t *testing.T) {
		srv := serveBody(http.StatusOK, `{"status":"ready"}`)
		defer srv.Close()
		assert.NoError(t, check(client, srv.URL))
	})

	t.Run("plain 200", func(t *testing.T) {
		srv := serveBody(http.StatusOK, `ok`)
		defer srv.Close()
		assert.NoError(t, check(client, srv.URL))
	})

	t.Run("not ready names the component", func(t *testing.T) {
		srv := serveBody(http.StatusServiceUnavailable,
			`{"status":"not_ready","components":{"database":{"status":"down","error":"connection refused"},"initial_load":{"status":"complete"}}}`)
		defer srv.Close()
		err := check(client, srv.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 503")
		assert.Contains(t, err.Error(), "database=down (connection refused)")
		assert.NotContains(t, err.Error(), "initial_load")
	})

	t.Run("unexpected status in 200", func(t *testing.T) {
		srv := serveBody(http.StatusOK, `{"status":"draining"}`)
		defer srv.Close()
		assert.Error(t, check(client, srv.URL))
	})

	t.Run("unreachable", func(t *testing.T) {
		assert.Error(t, check(client, "http://127.0.0.1:1/readyz"))
	})
}
