package karasu

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Session is the process-wide pipeline state: the working cache, the
// dependency resolution, and the collected build results. It replaces any
// notion of global "current resolution" state; every stage receives it
// explicitly. The cache root is exclusively owned via an flock so two
// concurrent karasu processes cannot share one session directory.
type Session struct {
	Config  *Config
	Cache   *Cache
	Results map[string]*BuildResult

	lockFile *os.File
}

// NewSession prepares the session cache directory and takes the lock.
func NewSession(cfg *Config) (*Session, error) {
	root := filepath.Join(cfg.CacheDir, "session")
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", cfg.CacheDir, err)
	}

	lockPath := filepath.Join(cfg.CacheDir, "session.lock")
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lf.Close()
		return nil, fmt.Errorf("another karasu session owns %s", cfg.CacheDir)
	}

	return &Session{
		Config:   cfg,
		Cache:    NewCache(root),
		Results:  make(map[string]*BuildResult),
		lockFile: lf,
	}, nil
}

// LogPath returns the per-package build log file path.
func (s *Session) LogPath(name string) string {
	return filepath.Join(s.Config.CacheDir, "logs", name+".log")
}

// Close releases the session lock. The cache tree is left in place for
// post-mortem inspection; Purge removes it explicitly.
func (s *Session) Close() error {
	if s.lockFile == nil {
		return nil
	}
	unix.Flock(int(s.lockFile.Fd()), unix.LOCK_UN)
	err := s.lockFile.Close()
	s.lockFile = nil
	return err
}

// Purge removes the session cache tree.
func (s *Session) Purge() error {
	return s.Cache.Purge()
}
