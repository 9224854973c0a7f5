package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

// NetworkSkipEnv disables tests that listen on loopback TCP.
const NetworkSkipEnv = "SYNC_TEST_SKIP_NETWORK"

// SkipIfNoNetwork skips t when NetworkSkipEnv is set, for sandboxes
// without loopback sockets.
func SkipIfNoNetwork(t testing.TB) {
	t.Helper()
	if os.Getenv(NetworkSkipEnv) != "" {
		t.Skipf("skipping network test: %s is set", NetworkSkipEnv)
	}
}

// NewServer starts an httptest server closed at the end of t, skipping t
// when networking is disabled.
func NewServer(t testing.TB, handler http.Handler) *httptest.Server {
	t.Helper()
	SkipIfNoNetwork(t)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}
