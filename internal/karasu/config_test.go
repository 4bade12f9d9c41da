package karasu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "karasu.conf")
	content := `# comment
KARASU_CACHE_DIR = /var/cache/karasu
KARASU_EDITOR="nano"
KARASU_MAX_JOBS=3

malformed line without equals
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/var/cache/karasu", cfg.CacheDir)
	require.Equal(t, "nano", cfg.Editor)
	require.Equal(t, 3, cfg.MaxJobs)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.NotEmpty(t, cfg.CacheDir)
	require.NotEmpty(t, cfg.Editor)
	require.GreaterOrEqual(t, cfg.MaxJobs, 1)
	require.Equal(t, "/tmp", cfg.Values["TMPDIR"])
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "karasu.conf")
	require.NoError(t, os.WriteFile(path, []byte("KARASU_CACHE_DIR=/from/file\n"), 0o644))

	t.Setenv("KARASU_CACHE_DIR", "/from/env")
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/from/env", cfg.CacheDir)
}

func TestConfigEndpoints(t *testing.T) {
	cfg := &Config{Values: map[string]string{}}
	require.Equal(t, "https://aur.archlinux.org/rpc/", cfg.RPCURL())
	require.Equal(t, "https://aur.archlinux.org", cfg.CloneBase())

	cfg.Values["KARASU_RPC_URL"] = "http://localhost:8080/rpc/"
	cfg.Values["KARASU_MIRROR_BASE"] = "http://localhost:8080/"
	require.Equal(t, "http://localhost:8080/rpc/", cfg.RPCURL())
	require.Equal(t, "http://localhost:8080", cfg.CloneBase())
}
