package karasu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func withVersion(t *testing.T, v string) {
	t.Helper()
	old := version
	version = v
	t.Cleanup(func() { version = old })
}

// releaseServer serves a canned release-feed payload and counts hits.
func releaseServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestUpdater(t *testing.T, feedURL string, tx Transactor) *SelfUpdater {
	t.Helper()
	cfg := &Config{Values: map[string]string{
		"KARASU_RELEASE_URL": feedURL,
		"TMPDIR":             t.TempDir(),
	}}
	return &SelfUpdater{
		Config:    cfg,
		Exec:      NewExecutor(context.Background()),
		Tx:        tx,
		Installed: func(context.Context, string) bool { return true },
		Compare: func(_ context.Context, a, b string) (int, error) {
			switch {
			case a == b:
				return 0, nil
			case a < b:
				return -1, nil
			default:
				return 1, nil
			}
		},
		Confirm:   func(string, ...any) (bool, error) { return true, nil },
		FetchRepo: func(_ context.Context, destDir string) error { return os.MkdirAll(destDir, 0o755) },
		Build: func(_ context.Context, u *BuildUnit) ([]string, error) {
			artifact := filepath.Join(u.Handle.Dir, "karasu-2.0.0-1-x86_64.pkg.tar.zst")
			return []string{artifact}, os.WriteFile(artifact, []byte("pkg"), 0o644)
		},
		client: newHTTPClient(),
	}
}

func TestSelfUpdateRebuildsAndInstalls(t *testing.T) {
	withVersion(t, "1.0.0")
	srv, hits := releaseServer(t, http.StatusOK, `{"tag_name":"v2.0.0"}`)
	tx := &recordingTx{}
	u := newTestUpdater(t, srv.URL, tx)

	require.NoError(t, u.EnsureLatest(context.Background()))
	require.Equal(t, int32(1), hits.Load())
	require.Equal(t, 1, tx.calls)
	require.Empty(t, tx.names)
	require.Len(t, tx.artifacts, 1)
}

func TestSelfUpdateNoopWhenCurrent(t *testing.T) {
	withVersion(t, "2.0.0")
	srv, _ := releaseServer(t, http.StatusOK, `{"tag_name":"v2.0.0"}`)
	tx := &recordingTx{}
	u := newTestUpdater(t, srv.URL, tx)

	require.NoError(t, u.EnsureLatest(context.Background()))
	require.Zero(t, tx.calls)
}

func TestSelfUpdateSkipsWhenDisabled(t *testing.T) {
	withVersion(t, "1.0.0")
	srv, hits := releaseServer(t, http.StatusOK, `{"tag_name":"v2.0.0"}`)
	tx := &recordingTx{}
	u := newTestUpdater(t, srv.URL, tx)
	u.Config.Values["KARASU_SELF_UPDATE"] = "0"

	require.NoError(t, u.EnsureLatest(context.Background()))
	require.Zero(t, hits.Load())
	require.Zero(t, tx.calls)
}

func TestSelfUpdateSkipsDevBuilds(t *testing.T) {
	withVersion(t, "dev")
	srv, hits := releaseServer(t, http.StatusOK, `{"tag_name":"v2.0.0"}`)
	u := newTestUpdater(t, srv.URL, &recordingTx{})

	require.NoError(t, u.EnsureLatest(context.Background()))
	require.Zero(t, hits.Load())
}

func TestSelfUpdateSkipsUnpackagedInstall(t *testing.T) {
	withVersion(t, "1.0.0")
	srv, hits := releaseServer(t, http.StatusOK, `{"tag_name":"v2.0.0"}`)
	u := newTestUpdater(t, srv.URL, &recordingTx{})
	u.Installed = func(context.Context, string) bool { return false }

	require.NoError(t, u.EnsureLatest(context.Background()))
	require.Zero(t, hits.Load())
}

func TestSelfUpdateRespectsDecline(t *testing.T) {
	withVersion(t, "1.0.0")
	srv, _ := releaseServer(t, http.StatusOK, `{"tag_name":"v2.0.0"}`)
	tx := &recordingTx{}
	u := newTestUpdater(t, srv.URL, tx)
	u.Confirm = func(string, ...any) (bool, error) { return false, nil }

	require.NoError(t, u.EnsureLatest(context.Background()))
	require.Zero(t, tx.calls)
}

func TestSelfUpdateFeedFailuresAreNonFatal(t *testing.T) {
	withVersion(t, "1.0.0")
	for _, tc := range []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, ""},
		{"draft release", http.StatusOK, `{"tag_name":"v2.0.0","draft":true}`},
		{"prerelease", http.StatusOK, `{"tag_name":"v2.0.0-rc1","prerelease":true}`},
		{"empty tag", http.StatusOK, `{}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := releaseServer(t, tc.status, tc.body)
			tx := &recordingTx{}
			u := newTestUpdater(t, srv.URL, tx)

			// The user's actual command must still run after a bad check.
			require.NoError(t, u.EnsureLatest(context.Background()))
			require.Zero(t, tx.calls)
		})
	}
}
