package karasu

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Checkpoint is the single consolidated review step: the whole batch of
// cloned recipe directories is handed to the user once, and the set of
// directories whose content changed is reported back. Entry and exit each
// take one content snapshot; nothing in between is persisted.
type Checkpoint struct {
	Cache  *Cache
	Config *Config
	Exec   *Executor // interactive executor for the editor / file manager

	// Confirm asks the user a yes/no question. Overridable for tests;
	// defaults to the terminal prompt. A read failure (closed stdin) is an
	// error, not an answer.
	Confirm func(format string, a ...any) (bool, error)
	// Regen rebuilds a recipe's metadata after an edit. Defaults to
	// `makepkg --printsrcinfo` in the recipe directory.
	Regen func(name string) error
}

func NewCheckpoint(cache *Cache, cfg *Config, exec *Executor) *Checkpoint {
	cp := &Checkpoint{
		Cache:  cache,
		Config: cfg,
		Exec:   exec,
		Confirm: func(format string, a ...any) (bool, error) {
			return askForConfirmation(colNote, format, a...)
		},
	}
	cp.Regen = cp.regenSrcinfo
	return cp
}

// Review presents the batch for inspection and editing, blocking until the
// user confirms completion. It returns the names whose directory content
// changed, compared once at exit against a snapshot taken once at entry.
func (cp *Checkpoint) Review(handles []*RecipeHandle) ([]string, error) {
	if len(handles) == 0 {
		return nil, nil
	}

	before := make(map[string]string, len(handles))
	for _, h := range handles {
		digest, err := cp.Cache.Digest(h.Name)
		if err != nil {
			return nil, fmt.Errorf("snapshotting %s: %w", h.Name, err)
		}
		before[h.Name] = digest
	}

	colArrow.Print("-> ")
	colInfo.Printf("%d recipe(s) cloned for review:\n", len(handles))
	for _, h := range handles {
		fmt.Printf("  - %s (%s)\n", colNote.Sprint(h.Name), h.Recipe.Version)
	}

	view, err := cp.Confirm("View recipe build scripts before editing?")
	if err != nil {
		return nil, err
	}
	if view {
		if err := cp.preview(handles); err != nil {
			return nil, err
		}
	}

	edit, err := cp.Confirm("Edit recipes in %s before building?", cp.editorName())
	if err != nil {
		return nil, err
	}
	if !edit {
		return nil, nil
	}

	if err := cp.openEditor(handles); err != nil {
		return nil, err
	}

	// Control only returns to the pipeline on explicit confirmation.
	for {
		done, err := cp.Confirm("Done editing? Continue with the build?")
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		if err := cp.openEditor(handles); err != nil {
			return nil, err
		}
	}

	var modified []string
	for _, h := range handles {
		digest, err := cp.Cache.Digest(h.Name)
		if err != nil {
			return nil, fmt.Errorf("comparing %s: %w", h.Name, err)
		}
		if digest != before[h.Name] {
			cp.Cache.MarkDirty(h.Name)
			modified = append(modified, h.Name)
		}
	}

	if len(modified) > 0 {
		// Edits invalidate the generated metadata; regenerate it so the
		// second resolution pass parses what the user actually changed.
		for _, name := range modified {
			if err := cp.Regen(name); err != nil {
				return nil, err
			}
		}
	}
	return modified, nil
}

// preview pages each recipe's PKGBUILD through the scrollable viewer.
func (cp *Checkpoint) preview(handles []*RecipeHandle) error {
	for _, h := range handles {
		data, err := os.ReadFile(filepath.Join(h.Dir, "PKGBUILD"))
		if err != nil {
			return fmt.Errorf("reading PKGBUILD for %s: %w", h.Name, err)
		}
		if err := RunPager(h.Name+"/PKGBUILD", strings.Split(string(data), "\n")); err != nil {
			return err
		}
	}
	return nil
}

func (cp *Checkpoint) editorName() string {
	if cp.Config.FileManager != "" {
		return cp.Config.FileManager
	}
	return cp.Config.Editor
}

// openEditor hands the batch to the user's file manager in one invocation,
// or, when none is configured, to the editor once per recipe directory.
func (cp *Checkpoint) openEditor(handles []*RecipeHandle) error {
	if fm := cp.Config.FileManager; fm != "" {
		cmd := exec.Command(fm, cp.Cache.Root)
		if err := cp.Exec.Run(cmd); err != nil {
			return fmt.Errorf("%s exited with failure: %w", fm, err)
		}
		return nil
	}
	for _, h := range handles {
		cmd := exec.Command(cp.Config.Editor, filepath.Join(h.Dir, "PKGBUILD"))
		cmd.Dir = h.Dir
		if err := cp.Exec.Run(cmd); err != nil {
			return fmt.Errorf("%s exited with failure: %w", cp.Config.Editor, err)
		}
	}
	return nil
}

// regenSrcinfo rebuilds .SRCINFO from the edited PKGBUILD.
func (cp *Checkpoint) regenSrcinfo(name string) error {
	dir := cp.Cache.Dir(name)
	out, err := os.Create(filepath.Join(dir, ".SRCINFO"))
	if err != nil {
		return err
	}
	defer out.Close()

	cmd := exec.Command("makepkg", "--printsrcinfo")
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	cmd.Stdin = strings.NewReader("")
	ex := *cp.Exec
	ex.Interactive = false
	if err := ex.Run(cmd); err != nil {
		return fmt.Errorf("makepkg --printsrcinfo failed in %s: %w", dir, err)
	}
	return nil
}
