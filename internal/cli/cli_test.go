package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umamaheshmadala/sync-warp-sub014/internal/db"
	"github.com/umamaheshmadala/sync-warp-sub014/internal/testutil"
)

type env struct {
	configFile string
	dataDir    string
}

func newEnv(t *testing.T, backendURL string) env {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	e := env{
		configFile: filepath.Join(home, "config.yaml"),
		dataDir:    filepath.Join(home, "data"),
	}
	body := fmt.Sprintf(`
global:
  data_dir: %s
  config_dir: %s
logging:
  level: error
`, e.dataDir, filepath.Join(home, "conf"))
	if backendURL != "" {
		body += fmt.Sprintf("backend:\n  url: %s\n  api_key: anon\n", backendURL)
	}
	require.NoError(t, os.WriteFile(e.configFile, []byte(body), 0o600))
	return e
}

func (e env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.configFile}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr), "expected ExitError, got %v", err)
	return exitErr.Code
}

func TestVersion(t *testing.T) {
	e := newEnv(t, "")
	out, err := e.run(t, "version")
	require.NoError(t, err)
	require.Equal(t, "syncc test\n", out)
}

func TestUseAndContext(t *testing.T) {
	e := newEnv(t, "")

	out, err := e.run(t, "context")
	require.NoError(t, err)
	require.Equal(t, "(no context set)\n", out)

	_, err = e.run(t, "use")
	require.Equal(t, ExitCodeValidation, exitCode(t, err))

	out, err = e.run(t, "use", "42", "--user", "u1", "--name", "team")
	require.NoError(t, err)
	require.Equal(t, "user:u1 conversation:team\n", out)

	out, err = e.run(t, "context")
	require.NoError(t, err)
	require.Equal(t, "user:u1 conversation:team\n", out)

	_, err = e.run(t, "context", "clear")
	require.NoError(t, err)
	out, err = e.run(t, "context")
	require.NoError(t, err)
	require.Equal(t, "(no context set)\n", out)
}

func TestSendWithoutConversation(t *testing.T) {
	e := newEnv(t, "")
	_, err := e.run(t, "--user", "u1", "send", "hi")
	require.Equal(t, ExitCodeValidation, exitCode(t, err))
}

func TestInvalidConfigFlag(t *testing.T) {
	e := newEnv(t, "")
	_, err := e.run(t, "--log-format", "xml", "version")
	require.Equal(t, ExitCodeValidation, exitCode(t, err))
}

func TestCacheListAndRemove(t *testing.T) {
	e := newEnv(t, "")

	out, err := e.run(t, "cache", "ls")
	require.NoError(t, err)
	require.Equal(t, "(no cached entries)\n", out)

	ctx := context.Background()
	database, err := db.Open(ctx, db.Config{Path: filepath.Join(e.dataDir, "cache.db")})
	require.NoError(t, err)
	kv := db.NewKVRepository(database)
	require.NoError(t, kv.SetItem(ctx, "cache:conversation/42/messages", `{"key":["conversation","42","messages"],"data":[{"id":"a"},{"id":"b"}]}`))
	require.NoError(t, kv.SetItem(ctx, "cache:notifications/u1", `{"key":["notifications","u1"],"data":[]}`))
	require.NoError(t, kv.SetItem(ctx, "session", "unrelated"))
	require.NoError(t, database.Close())

	out, err = e.run(t, "cache", "ls")
	require.NoError(t, err)
	require.Contains(t, out, "conversation/42/messages")
	require.Contains(t, out, "notifications/u1")
	require.NotContains(t, out, "session")

	out, err = e.run(t, "cache", "ls", "conversation")
	require.NoError(t, err)
	require.Contains(t, out, "conversation/42/messages")
	require.NotContains(t, out, "notifications/u1")

	_, err = e.run(t, "cache", "rm")
	require.Equal(t, ExitCodeValidation, exitCode(t, err))

	out, err = e.run(t, "cache", "rm", "conversation/42/messages")
	require.NoError(t, err)
	require.Equal(t, "removed conversation/42/messages\n", out)

	out, err = e.run(t, "cache", "rm", "--all")
	require.NoError(t, err)
	require.Equal(t, "removed 1 entries\n", out)

	out, err = e.run(t, "cache", "ls")
	require.NoError(t, err)
	require.Equal(t, "(no cached entries)\n", out)
}

func sendServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return testutil.NewServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rest/v1/rpc/send_message":
			if status != http.StatusOK {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"message":"unavailable"}`))
				return
			}
			var p map[string]string
			_ = json.NewDecoder(r.Body).Decode(&p)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":              "srv-1",
				"client_id":       p["client_id"],
				"conversation_id": p["conversation_id"],
				"sender_id":       "u1",
				"content":         p["content"],
				"created_at":      time.Now().UTC(),
			})
		case "/rest/v1/messages":
			_ = json.NewEncoder(w).Encode([]map[string]any{{
				"id":              "srv-0",
				"conversation_id": "42",
				"sender_id":       "u1",
				"content":         "earlier",
				"status":          "read",
				"created_at":      time.Now().UTC(),
			}})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSendPrintsConfirmedStatus(t *testing.T) {
	e := newEnv(t, sendServer(t, http.StatusOK).URL)

	out, err := e.run(t, "--user", "u1", "send", "-c", "42", "hello", "there")
	require.NoError(t, err)
	require.Equal(t, "✓ Sent  srv-1\n", out)
}

func TestSendFailureExitsWithNetworkCode(t *testing.T) {
	e := newEnv(t, sendServer(t, http.StatusServiceUnavailable).URL)

	out, err := e.run(t, "--user", "u1", "send", "-c", "42", "hello")
	require.Equal(t, ExitCodeNetwork, exitCode(t, err))
	require.Contains(t, out, "! Failed to send  tmp-")
}

func TestMessagesShowsReceipts(t *testing.T) {
	e := newEnv(t, sendServer(t, http.StatusOK).URL)

	_, err := e.run(t, "use", "42", "--user", "u1")
	require.NoError(t, err)

	out, err := e.run(t, "messages")
	require.NoError(t, err)
	require.Contains(t, out, "me")
	require.Contains(t, out, "earlier  ✓✓")
}
