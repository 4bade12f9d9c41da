package karasu

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"lukechampine.com/blake3"
)

// RecipeHandle owns one recipe subdirectory of the session cache plus the
// dependency declarations last parsed from it.
type RecipeHandle struct {
	Name   string
	Dir    string
	Recipe *Recipe
}

// Cache owns the per-session working directory, one subdirectory per recipe
// name. It tracks which subdirectories diverged from their pristine fetch so
// user edits are never silently discarded.
type Cache struct {
	Root string

	mu       sync.Mutex
	handles  map[string]*RecipeHandle
	pristine map[string]string // name -> blake3 digest recorded after fetch
	dirty    map[string]bool
}

func NewCache(root string) *Cache {
	return &Cache{
		Root:     root,
		handles:  make(map[string]*RecipeHandle),
		pristine: make(map[string]string),
		dirty:    make(map[string]bool),
	}
}

// Dir returns the subdirectory a recipe of the given name occupies.
func (c *Cache) Dir(name string) string {
	return filepath.Join(c.Root, name)
}

// Clone materializes the recipe source for name into its subdirectory and
// returns a handle. Idempotent: an existing unmodified subdirectory is
// refreshed from the source; a modified one is preserved as-is and flagged
// dirty instead of being overwritten.
func (c *Cache) Clone(ctx context.Context, src RecipeSource, name string) (*RecipeHandle, error) {
	dir := c.Dir(name)

	if _, err := os.Stat(dir); err == nil {
		digest, err := hashDir(dir)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", dir, err)
		}
		c.mu.Lock()
		pristine, known := c.pristine[name]
		c.mu.Unlock()
		if known && digest != pristine {
			// User content differs from the recorded fetch: keep it.
			c.MarkDirty(name)
			return c.handle(name, dir)
		}
		// Unmodified (or unknown provenance): refresh from source.
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("refreshing %s: %w", dir, err)
		}
	}

	if err := os.MkdirAll(c.Root, 0o755); err != nil {
		return nil, err
	}
	if err := src.FetchSource(ctx, name, dir); err != nil {
		return nil, err
	}

	digest, err := hashDir(dir)
	if err != nil {
		return nil, fmt.Errorf("hashing %s: %w", dir, err)
	}
	c.mu.Lock()
	c.pristine[name] = digest
	delete(c.dirty, name)
	c.mu.Unlock()

	return c.handle(name, dir)
}

func (c *Cache) handle(name, dir string) (*RecipeHandle, error) {
	rec, err := ParseSrcinfoFile(name, dir)
	if err != nil {
		return nil, err
	}
	h := &RecipeHandle{Name: name, Dir: dir, Recipe: rec}
	c.mu.Lock()
	c.handles[name] = h
	c.mu.Unlock()
	return h, nil
}

// Reparse refreshes a handle's declarations from disk. Called at most once
// per handle, after the edit checkpoint flags it modified.
func (c *Cache) Reparse(name string) (*RecipeHandle, error) {
	c.mu.Lock()
	h, ok := c.handles[name]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no cached recipe for %s", name)
	}
	rec, err := ParseSrcinfoFile(name, h.Dir)
	if err != nil {
		return nil, err
	}
	h.Recipe = rec
	return h, nil
}

// Handle returns the handle for name, if cloned.
func (c *Cache) Handle(name string) (*RecipeHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[name]
	return h, ok
}

// Handles returns all handles sorted by name.
func (c *Cache) Handles() []*RecipeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.handles))
	for name := range c.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*RecipeHandle, 0, len(names))
	for _, name := range names {
		out = append(out, c.handles[name])
	}
	return out
}

// MarkDirty flags a recipe subdirectory as user-modified.
func (c *Cache) MarkDirty(name string) {
	c.mu.Lock()
	c.dirty[name] = true
	c.mu.Unlock()
}

// ListDirty returns the names flagged dirty, sorted.
func (c *Cache) ListDirty() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.dirty)
}

// Digest returns the current content digest of a recipe subdirectory.
func (c *Cache) Digest(name string) (string, error) {
	return hashDir(c.Dir(name))
}

// Purge removes the whole session directory tree.
func (c *Cache) Purge() error {
	return os.RemoveAll(c.Root)
}

// hashDir produces a blake3 digest over the directory's file tree: relative
// paths and file contents, in sorted order. Two directories with identical
// content hash identically regardless of mtimes.
func hashDir(dir string) (string, error) {
	h := blake3.New(32, nil)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		// Git bookkeeping churns on clone; only recipe content matters.
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		io.WriteString(h, rel)
		h.Write([]byte{0})
		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			io.WriteString(h, target)
			h.Write([]byte{0})
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		h.Write([]byte{0})
		return nil
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
