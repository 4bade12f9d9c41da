package karasu

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestCheckpoint wires a checkpoint with stubbed confirmation and
// metadata regeneration, defaulting to "don't view, don't edit".
func newTestCheckpoint(t *testing.T, cache *Cache) *Checkpoint {
	t.Helper()
	cfg := &Config{Values: map[string]string{}, Editor: "true"}

	cp := NewCheckpoint(cache, cfg, NewExecutor(context.Background()))
	cp.Regen = func(string) error { return nil }
	cp.Confirm = confirmSequence(false, false)
	return cp
}

func cloneOne(t *testing.T, cache *Cache, src *fakeSource, name string) *RecipeHandle {
	t.Helper()
	h, err := cache.Clone(context.Background(), src, name)
	require.NoError(t, err)
	return h
}

func TestReviewReportsNoChangesWhenDeclined(t *testing.T) {
	src := newFakeSource()
	src.addRecipe("pkga", "1.0")
	cache := NewCache(filepath.Join(t.TempDir(), "session"))
	h := cloneOne(t, cache, src, "pkga")

	cp := newTestCheckpoint(t, cache)
	modified, err := cp.Review([]*RecipeHandle{h})
	require.NoError(t, err)
	require.Empty(t, modified)
	require.Empty(t, cache.ListDirty())
}

func TestReviewDetectsModifiedDirectories(t *testing.T) {
	src := newFakeSource()
	src.addRecipe("pkga", "1.0")
	src.addRecipe("pkgb", "1.0")
	cache := NewCache(filepath.Join(t.TempDir(), "session"))
	ha := cloneOne(t, cache, src, "pkga")
	hb := cloneOne(t, cache, src, "pkgb")

	cp := newTestCheckpoint(t, cache)
	// Answer: don't view, do edit, done editing.
	cp.Confirm = confirmSequence(false, true, true)
	// The "editor" appends a line to pkga's PKGBUILD, standing in for an
	// interactive edit of just that recipe.
	cfgEdit(t, cp, ha)

	modified, err := cp.Review([]*RecipeHandle{ha, hb})
	require.NoError(t, err)
	require.Equal(t, []string{"pkga"}, modified)
	require.Equal(t, []string{"pkga"}, cache.ListDirty())
}

// confirmSequence returns a Confirm stub answering the scripted sequence,
// then true forever.
func confirmSequence(answers ...bool) func(string, ...any) (bool, error) {
	i := 0
	return func(string, ...any) (bool, error) {
		if i < len(answers) {
			i++
			return answers[i-1], nil
		}
		return true, nil
	}
}

func TestReviewAbortsWhenPromptFails(t *testing.T) {
	src := newFakeSource()
	src.addRecipe("pkga", "1.0")
	cache := NewCache(filepath.Join(t.TempDir(), "session"))
	h := cloneOne(t, cache, src, "pkga")

	cp := newTestCheckpoint(t, cache)
	// Stdin closed mid-review: the checkpoint must surface the error
	// instead of treating it as "no" and relaunching the editor forever.
	promptErr := fmt.Errorf("reading confirmation: %w", io.EOF)
	calls := 0
	cp.Confirm = func(string, ...any) (bool, error) {
		calls++
		switch calls {
		case 1:
			return false, nil // don't view
		case 2:
			return true, nil // do edit
		default:
			return false, promptErr
		}
	}

	_, err := cp.Review([]*RecipeHandle{h})
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 3, calls)
}

// cfgEdit replaces the checkpoint's editor with a script that rewrites the
// handle's PKGBUILD, standing in for an interactive edit.
func cfgEdit(t *testing.T, cp *Checkpoint, h *RecipeHandle) {
	t.Helper()
	script := filepath.Join(t.TempDir(), "edit.sh")
	content := "#!/bin/sh\necho '# edited' >> " + filepath.Join(h.Dir, "PKGBUILD") + "\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	cp.Config.Editor = script
	cp.Config.FileManager = ""
}

func TestReviewEmptyBatchIsNoop(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "session"))
	cp := NewCheckpoint(cache, &Config{Values: map[string]string{}}, NewExecutor(context.Background()))
	modified, err := cp.Review(nil)
	require.NoError(t, err)
	require.Empty(t, modified)
}
