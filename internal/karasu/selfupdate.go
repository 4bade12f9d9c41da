package karasu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	defaultReleaseURL = "https://api.github.com/repos/karasu-pm/karasu/releases/latest"
	defaultSelfRepo   = "https://github.com/karasu-pm/karasu.git"
)

// releaseInfo is the release-feed payload for the latest tagged release.
type releaseInfo struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// SelfUpdater keeps the running binary current: before real work starts it
// checks the release feed, and when a newer tag exists, rebuilds karasu from
// its own recipe through the normal build path and reinstalls it. A failed
// check is reported and ignored; the user's actual command still runs.
type SelfUpdater struct {
	Config    *Config
	Session   *Session
	Exec      *Executor
	Tx        Transactor
	NoConfirm bool

	// Compare orders two version strings; defaults to the manager's vercmp.
	Compare func(ctx context.Context, a, b string) (int, error)
	// Installed reports whether the manager tracks the named package.
	Installed func(ctx context.Context, name string) bool
	// Confirm, FetchRepo and Build are overridable for tests; defaults are
	// the terminal prompt, a git clone of the release branch, and the
	// makepkg Builder.
	Confirm   func(format string, a ...any) (bool, error)
	FetchRepo func(ctx context.Context, destDir string) error
	Build     BuildFunc

	client *http.Client
}

// NewSelfUpdater wires the updater to the package manager backend.
func NewSelfUpdater(cfg *Config, session *Session, ex *Executor, pm *Pacman) *SelfUpdater {
	u := &SelfUpdater{
		Config:    cfg,
		Session:   session,
		Exec:      ex,
		Tx:        pm,
		Compare:   pm.Vercmp,
		Installed: pm.IsInstalled,
		Confirm: func(format string, a ...any) (bool, error) {
			return askForConfirmation(colNote, format, a...)
		},
		client: newHTTPClient(),
	}
	return u
}

// EnsureLatest runs the version check and, on user confirmation, the
// rebuild-and-reinstall. Unreachable release feeds degrade to a warning.
func (u *SelfUpdater) EnsureLatest(ctx context.Context) error {
	if u.Config.Values["KARASU_SELF_UPDATE"] == "0" {
		return nil
	}
	if version == "dev" {
		// Source checkouts update through their own tree.
		return nil
	}
	if !u.Installed(ctx, "karasu") {
		// Not a packaged install; there is nothing for the manager to
		// replace.
		return nil
	}

	latest, err := u.latestRelease(ctx)
	if err != nil {
		colWarn.Printf("unable to check for a newer karasu release: %v\n", err)
		return nil
	}

	ord, err := u.Compare(ctx, version, latest)
	if err != nil {
		return err
	}
	if ord >= 0 {
		return nil
	}

	colArrow.Print("-> ")
	colInfo.Printf("karasu update available: %s -> %s\n", version, latest)

	if !u.NoConfirm {
		ok, err := u.Confirm("Rebuild and install karasu %s now?", latest)
		if err != nil {
			return err
		}
		if !ok {
			colNote.Println("Self-update skipped.")
			return nil
		}
	}

	return u.install(ctx, latest)
}

// latestRelease queries the release feed and returns the newest stable tag,
// with any leading "v" stripped for vercmp.
func (u *SelfUpdater) latestRelease(ctx context.Context) (string, error) {
	url := u.Config.Values["KARASU_RELEASE_URL"]
	if url == "" {
		url = defaultReleaseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release feed returned %s", resp.Status)
	}

	var rel releaseInfo
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", fmt.Errorf("invalid release payload: %w", err)
	}
	if rel.Draft {
		return "", fmt.Errorf("latest tagged release is still a draft")
	}
	if rel.Prerelease {
		return "", fmt.Errorf("latest tagged release is a prerelease")
	}

	tag := strings.TrimSpace(rel.TagName)
	if tag == "" {
		return "", fmt.Errorf("release payload carries no tag")
	}
	return strings.TrimPrefix(tag, "v"), nil
}

// install rebuilds karasu from a fresh checkout of its own recipe and hands
// the artifacts to the package manager.
func (u *SelfUpdater) install(ctx context.Context, latest string) error {
	tmpRoot := filepath.Join(u.Config.Values["TMPDIR"], "karasu-self-update")
	if err := os.RemoveAll(tmpRoot); err != nil {
		return err
	}
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		return err
	}
	checkout := filepath.Join(tmpRoot, "karasu")

	colArrow.Print("-> ")
	colInfo.Println("Fetching the karasu recipe")
	fetch := u.FetchRepo
	if fetch == nil {
		fetch = u.cloneSelf
	}
	if err := fetch(ctx, checkout); err != nil {
		return err
	}

	colArrow.Print("-> ")
	colInfo.Printf("Building karasu %s\n", latest)
	build := u.Build
	if build == nil {
		builder := &Builder{Session: u.Session, Exec: u.Exec}
		build = builder.Build
	}
	unit := &BuildUnit{Name: "karasu", Handle: &RecipeHandle{Name: "karasu", Dir: checkout}}
	artifacts, err := build(ctx, unit)
	if err != nil {
		return err
	}
	if len(artifacts) == 0 {
		return &BuildError{Name: "karasu", Err: fmt.Errorf("self-update build produced no artifacts")}
	}

	colArrow.Print("-> ")
	colInfo.Println("Installing the rebuilt karasu")
	if err := u.Tx.Install(ctx, nil, artifacts); err != nil {
		return err
	}

	colArrow.Print("-> ")
	colSuccess.Println("karasu updated. The new version takes effect on the next run.")
	return nil
}

func (u *SelfUpdater) cloneSelf(ctx context.Context, destDir string) error {
	repo := u.Config.Values["KARASU_SELF_REPO"]
	if repo == "" {
		repo = defaultSelfRepo
	}
	ex := *u.Exec
	ex.Context = ctx
	cmd := exec.Command("git", "clone", "--depth", "1", repo, destDir)
	if err := ex.Run(cmd); err != nil {
		return &FetchError{Name: "karasu", Err: err}
	}
	return nil
}
