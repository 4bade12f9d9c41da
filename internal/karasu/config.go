package karasu

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string

	CacheDir    string // session cache root, one subdirectory per recipe
	Editor      string
	FileManager string
	MaxJobs     int
}

// Load /etc/karasu.conf and apply defaults
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge KARASU_* env overrides
	mergeEnvOverrides(cfg)

	// Ensure TMPDIR has a default
	if tmp := cfg.Values["TMPDIR"]; tmp == "" {
		cfg.Values["TMPDIR"] = "/tmp"
	}

	initConfig(cfg)
	return cfg, nil
}

// Merge KARASU_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "KARASU_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	cfg.CacheDir = cfg.Values["KARASU_CACHE_DIR"]
	if cfg.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "/"
		}
		cfg.CacheDir = filepath.Join(home, ".cache", "karasu")
	}

	cfg.Editor = cfg.Values["KARASU_EDITOR"]
	if cfg.Editor == "" {
		cfg.Editor = os.Getenv("EDITOR")
	}
	if cfg.Editor == "" {
		cfg.Editor = "vi"
	}

	// The file manager is optional; when unset the checkpoint falls back to
	// running the editor once per recipe directory.
	cfg.FileManager = cfg.Values["KARASU_FILE_MANAGER"]

	cfg.MaxJobs = runtime.NumCPU()
	if v := cfg.Values["KARASU_MAX_JOBS"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxJobs = n
		}
	}

	Debug = cfg.Values["KARASU_DEBUG"] == "1"
}

// RPCURL returns the recipe metadata endpoint base.
func (cfg *Config) RPCURL() string {
	if v := cfg.Values["KARASU_RPC_URL"]; v != "" {
		return v
	}
	return "https://aur.archlinux.org/rpc/"
}

// CloneBase returns the base URL recipe git repositories are cloned from.
func (cfg *Config) CloneBase() string {
	if v := cfg.Values["KARASU_MIRROR_BASE"]; v != "" {
		return strings.TrimRight(v, "/")
	}
	return "https://aur.archlinux.org"
}
