package karasu

import (
	"context"
	"errors"
	"fmt"
)

// SourceKind tags how a package name is satisfied.
type SourceKind int

const (
	// SourceBinary means the name is installable from the prebuilt repos.
	SourceBinary SourceKind = iota
	// SourceRecipe means the name must be fetched and built from a recipe.
	SourceRecipe
	// SourceSkipped means the name was unreachable and the caller's policy
	// chose to report-and-exclude rather than abort.
	SourceSkipped
)

// ResolutionSource is the resolved origin of one package name. Re-resolution
// after editing may change a recipe's dependency set but never its kind.
type ResolutionSource struct {
	Kind   SourceKind
	Handle *RecipeHandle // set for SourceRecipe once the recipe is cloned
	Reason error         // set for SourceSkipped
}

// FetchFailurePolicy decides what an unreachable recipe source during
// resolution does to the batch. The source material is ambiguous here, so
// the choice is the caller's, not hardcoded.
type FetchFailurePolicy int

const (
	// AbortOnFetchError fails the whole batch on the first unreachable name.
	AbortOnFetchError FetchFailurePolicy = iota
	// SkipUnavailable excludes unreachable names (and their dependent
	// recipes) and reports them in the resolution.
	SkipUnavailable
)

// Resolution is the outcome of dependency resolution: the DAG plus the
// per-name source tags.
type Resolution struct {
	Graph     *Graph
	Sources   map[string]*ResolutionSource
	Requested []string
}

// RecipeNames returns the names tagged SourceRecipe, sorted.
func (r *Resolution) RecipeNames() []string {
	set := make(map[string]bool)
	for name, src := range r.Sources {
		if src.Kind == SourceRecipe {
			set[name] = true
		}
	}
	return sortedKeys(set)
}

// BinaryNames returns the names tagged SourceBinary, sorted.
func (r *Resolution) BinaryNames() []string {
	set := make(map[string]bool)
	for name, src := range r.Sources {
		if src.Kind == SourceBinary {
			set[name] = true
		}
	}
	return sortedKeys(set)
}

// Skipped returns the excluded names with their reasons.
func (r *Resolution) Skipped() map[string]error {
	out := make(map[string]error)
	for name, src := range r.Sources {
		if src.Kind == SourceSkipped {
			out[name] = src.Reason
		}
	}
	return out
}

// Resolver builds the dependency graph for a batch of requested names.
// Resolution is strictly single-threaded; the graph it produces becomes
// read-only once build units are frozen from it.
type Resolver struct {
	Source RecipeSource
	Repo   BinaryRepo
	Cache  *Cache
	Policy FetchFailurePolicy
}

const (
	stateVisiting = 1
	stateDone     = 2
)

// Resolve expands the requested set breadth-first until every reachable name
// is either binary-satisfied or fully resolved into a recipe. Cycles,
// unknown names and recipe parse failures are batch-fatal; fetch failures
// follow the configured policy.
func (rv *Resolver) Resolve(ctx context.Context, requested []string) (*Resolution, error) {
	res := &Resolution{
		Graph:     NewGraph(),
		Sources:   make(map[string]*ResolutionSource),
		Requested: append([]string{}, requested...),
	}
	state := make(map[string]int)

	for _, name := range requested {
		if err := validateName(name); err != nil {
			return nil, err
		}
		if err := rv.visit(ctx, res, state, nil, name); err != nil {
			return nil, err
		}
	}

	res.propagateSkips()
	return res, nil
}

// Reresolve re-parses the recipes flagged dirty after the edit checkpoint
// and folds any newly declared dependency into the existing resolution,
// transitively, exactly as in the first pass. The whole graph is rebuilt
// from the refreshed declarations so acyclicity is re-validated.
func (rv *Resolver) Reresolve(ctx context.Context, res *Resolution, dirty []string) (*Resolution, error) {
	if len(dirty) == 0 {
		return res, nil
	}
	for _, name := range dirty {
		src, ok := res.Sources[name]
		if !ok || src.Kind != SourceRecipe {
			continue
		}
		h, err := rv.Cache.Reparse(name)
		if err != nil {
			return nil, err
		}
		src.Handle = h
	}

	next, err := rv.Resolve(ctx, res.Requested)
	if err != nil {
		return nil, err
	}
	// Kinds are sticky across re-resolution: a name does not silently flip
	// between binary and recipe because of an edit.
	for name, src := range next.Sources {
		if prev, ok := res.Sources[name]; ok && prev.Kind != src.Kind {
			return nil, fmt.Errorf("resolution source for %s changed after edit", name)
		}
	}
	return next, nil
}

func (rv *Resolver) visit(ctx context.Context, res *Resolution, state map[string]int, path []string, name string) error {
	switch state[name] {
	case stateDone:
		return nil
	case stateVisiting:
		// Re-encountered while still on the expansion stack: a cycle.
		cycle := append(cyclePathFrom(path, name), name)
		return &CycleError{Path: cycle}
	}
	state[name] = stateVisiting
	path = append(path, name)
	res.Graph.AddNode(name)

	defer func() { state[name] = stateDone }()

	// A cloned handle is authoritative over remote metadata; this is what
	// makes the post-checkpoint pass see the user's edits.
	if h, ok := rv.Cache.Handle(name); ok {
		res.Sources[name] = &ResolutionSource{Kind: SourceRecipe, Handle: h}
		return rv.visitDeps(ctx, res, state, path, name, h.Recipe.AllDepends())
	}

	// Binary availability always wins over a same-named recipe.
	if rv.Repo.IsAvailable(ctx, name) {
		res.Sources[name] = &ResolutionSource{Kind: SourceBinary}
		return nil
	}

	meta, err := rv.Source.Metadata(ctx, name)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nf
		}
		if rv.Policy == SkipUnavailable {
			colWarn.Printf("skipping %s: %v\n", name, err)
			res.Sources[name] = &ResolutionSource{Kind: SourceSkipped, Reason: err}
			return nil
		}
		return err
	}

	res.Sources[name] = &ResolutionSource{Kind: SourceRecipe}
	return rv.visitDeps(ctx, res, state, path, name, meta.AllDepends())
}

func (rv *Resolver) visitDeps(ctx context.Context, res *Resolution, state map[string]int, path []string, name string, deps []string) error {
	for _, dep := range deps {
		if err := validateName(dep); err != nil {
			return &ParseError{Name: name, Detail: err.Error()}
		}
		if err := res.Graph.AddEdge(name, dep); err != nil {
			return err
		}
		if err := rv.visit(ctx, res, state, path, dep); err != nil {
			return err
		}
	}
	return nil
}

// propagateSkips excludes every recipe that transitively depends on a
// skipped name: it cannot be built, so it is reported rather than attempted.
// Names can become skipped after resolution too (a source clone failing
// under SkipUnavailable), so this must be re-run whenever one is marked.
func (r *Resolution) propagateSkips() {
	for {
		changed := false
		for name, src := range r.Sources {
			if src.Kind != SourceRecipe {
				continue
			}
			for _, dep := range r.Graph.Deps(name) {
				depSrc, ok := r.Sources[dep]
				if ok && depSrc.Kind == SourceSkipped {
					r.Sources[name] = &ResolutionSource{
						Kind:   SourceSkipped,
						Reason: fmt.Errorf("depends on excluded package %s", dep),
					}
					changed = true
					break
				}
			}
		}
		if !changed {
			return
		}
	}
}

func cyclePathFrom(path []string, name string) []string {
	for i, n := range path {
		if n == name {
			return append([]string{}, path[i:]...)
		}
	}
	return append([]string{}, path...)
}

// validateName enforces the repository's package naming rules: non-empty,
// lowercase alphanumerics plus @ . _ + -, no leading hyphen or dot.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty package name")
	}
	if name[0] == '-' || name[0] == '.' {
		return fmt.Errorf("invalid package name %q", name)
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '@' || c == '.' || c == '_' || c == '+' || c == '-':
		default:
			return fmt.Errorf("invalid package name %q", name)
		}
	}
	return nil
}
