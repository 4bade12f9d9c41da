package karasu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Builder runs each recipe's own build procedure as an untrusted external
// subprocess inside the recipe's subdirectory. Nothing from the recipe is
// ever evaluated in-process.
type Builder struct {
	Session *Session
	Exec    *Executor
	Timeout time.Duration // per-build; 0 means no limit
}

// Build compiles one unit with makepkg and returns the artifact paths it
// produced. A timeout or an artifact-less run is a BuildError.
func (b *Builder) Build(ctx context.Context, unit *BuildUnit) ([]string, error) {
	dir := unit.Handle.Dir

	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	logPath := b.Session.LogPath(unit.Name)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, &BuildError{Name: unit.Name, Err: err}
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, &BuildError{Name: unit.Name, Err: err}
	}
	defer logFile.Close()

	// Recipes may pin upstream signing keys; import them before makepkg
	// verifies sources. Best-effort: missing keyservers surface later as a
	// makepkg verification failure with a usable log.
	if err := b.importSigningKeys(ctx, unit, logFile); err != nil && Debug {
		colWarn.Printf("key import for %s: %v\n", unit.Name, err)
	}

	ex := *b.Exec
	ex.Context = ctx
	ex.Interactive = false
	ex.ApplyIdlePriority = true

	cmd := exec.Command("makepkg", "-s", "-f", "--cleanbuild", "--noconfirm")
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = strings.NewReader("")

	if err := ex.Run(cmd); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &BuildError{Name: unit.Name, Err: fmt.Errorf("timed out after %s", b.Timeout)}
		}
		return nil, &BuildError{Name: unit.Name, Err: fmt.Errorf("%w (log: %s)", err, logPath)}
	}

	artifacts, err := collectArtifacts(dir)
	if err != nil {
		return nil, &BuildError{Name: unit.Name, Err: err}
	}
	if len(artifacts) == 0 {
		return nil, &BuildError{Name: unit.Name, Err: fmt.Errorf("no artifacts produced (log: %s)", logPath)}
	}
	return artifacts, nil
}

// collectArtifacts globs the built packages out of a recipe directory.
func collectArtifacts(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.pkg.tar.zst"))
	if err != nil {
		return nil, err
	}
	// Older makepkg configurations emit xz packages.
	xzMatches, err := filepath.Glob(filepath.Join(dir, "*.pkg.tar.xz"))
	if err != nil {
		return nil, err
	}
	matches = append(matches, xzMatches...)
	sort.Strings(matches)
	return matches, nil
}

// importSigningKeys sources validpgpkeys from the PKGBUILD in a subshell and
// receives them into the user keyring.
func (b *Builder) importSigningKeys(ctx context.Context, unit *BuildUnit, logFile *os.File) error {
	ex := *b.Exec
	ex.Context = ctx

	script := `set -a; source PKGBUILD >/dev/null 2>&1 || true; for k in "${validpgpkeys[@]}"; do echo "$k"; done`
	cmd := exec.Command("bash", "-c", script)
	cmd.Dir = unit.Handle.Dir
	out, err := ex.Output(cmd)
	if err != nil {
		return err
	}

	var keys []string
	for _, line := range strings.Split(string(out), "\n") {
		if k := strings.TrimSpace(line); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	args := append([]string{"--keyserver", "hkps://keys.openpgp.org", "--recv-keys"}, keys...)
	gpg := exec.Command("gpg", args...)
	gpg.Stdout = logFile
	gpg.Stderr = logFile
	gpg.Stdin = strings.NewReader("")
	return ex.Run(gpg)
}
