package karasu

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// PipelineOptions carries the caller-facing policy choices for one run.
type PipelineOptions struct {
	FetchPolicy    FetchFailurePolicy
	InstallPartial bool // install the successfully built subset despite failures
	NoConfirm      bool
	MaxJobs        int
	BuildTimeout   time.Duration
	SkipReview     bool // skip the edit checkpoint entirely
}

// Pipeline wires the pipeline stages together around one Session.
type Pipeline struct {
	Session *Session
	Source  RecipeSource
	Repo    BinaryRepo
	Tx      Transactor

	UserExec *Executor
	RootExec *Executor
	Opts     PipelineOptions

	// Build runs one unit; defaults to the makepkg Builder. Injectable for
	// testing.
	Build BuildFunc
	// Review runs the edit checkpoint; defaults to the interactive one.
	Review func(handles []*RecipeHandle) ([]string, error)
}

// Run executes the full flow for the requested names: split binary vs
// recipe, resolve the dependency DAG, clone every recipe, run the single
// edit checkpoint, re-resolve edits, build in topological order, and commit
// one consolidated install transaction.
func (p *Pipeline) Run(ctx context.Context, requested []string) error {
	if len(requested) == 0 {
		return fmt.Errorf("no packages specified")
	}

	resolver := &Resolver{
		Source: p.Source,
		Repo:   p.Repo,
		Cache:  p.Session.Cache,
		Policy: p.Opts.FetchPolicy,
	}

	colArrow.Print("-> ")
	colInfo.Println("Resolving dependencies")
	res, err := resolver.Resolve(ctx, requested)
	if err != nil {
		return err
	}

	recipes := res.RecipeNames()
	if len(recipes) == 0 {
		// Nothing to build; a pure binary batch is still one transaction.
		return p.commit(ctx, res, nil)
	}

	colArrow.Print("-> ")
	colInfo.Printf("Fetching %d recipe(s)\n", len(recipes))
	res, err = p.cloneAll(ctx, resolver, res)
	if err != nil {
		return err
	}

	if !p.Opts.SkipReview {
		review := p.Review
		if review == nil {
			review = NewCheckpoint(p.Session.Cache, p.Session.Config, p.interactiveExec()).Review
		}
		modified, err := review(handlesFor(res))
		if err != nil {
			return err
		}
		if len(modified) > 0 {
			colArrow.Print("-> ")
			colInfo.Printf("Re-resolving %d edited recipe(s)\n", len(modified))
			res, err = resolver.Reresolve(ctx, res, modified)
			if err != nil {
				return err
			}
			// Edits may introduce brand-new recipes; clone what is missing.
			res, err = p.cloneAll(ctx, resolver, res)
			if err != nil {
				return err
			}
		}
	}

	units, err := FreezeBuildUnits(res)
	if err != nil {
		return err
	}

	build := p.Build
	if build == nil {
		builder := &Builder{Session: p.Session, Exec: p.UserExec, Timeout: p.Opts.BuildTimeout}
		build = builder.Build
	}
	results, err := RunBuilds(ctx, units, p.Opts.MaxJobs, build)
	if err != nil {
		return err
	}
	for name, r := range results {
		p.Session.Results[name] = r
	}

	p.printSummary(res, results)
	return p.commit(ctx, res, results)
}

// cloneAll materializes every recipe-tagged name that has no handle yet.
// Per-name fetch failures follow the configured policy and never abort
// sibling fetches on their own.
func (p *Pipeline) cloneAll(ctx context.Context, resolver *Resolver, res *Resolution) (*Resolution, error) {
	var fetchErrs []error
	for _, name := range res.RecipeNames() {
		src := res.Sources[name]
		if src.Handle != nil {
			continue
		}
		h, err := p.Session.Cache.Clone(ctx, p.Source, name)
		if err != nil {
			if p.Opts.FetchPolicy == SkipUnavailable {
				colWarn.Printf("skipping %s: %v\n", name, err)
				res.Sources[name] = &ResolutionSource{Kind: SourceSkipped, Reason: err}
				continue
			}
			fetchErrs = append(fetchErrs, err)
			continue
		}
		src.Handle = h
	}
	if len(fetchErrs) > 0 {
		return nil, fetchErrs[0]
	}

	// Cloned declarations are richer than RPC metadata (arch-specific deps,
	// split packages); resolve once more against them so the graph reflects
	// what will actually build.
	next, err := resolver.Resolve(ctx, res.Requested)
	if err != nil {
		return nil, err
	}
	return next, p.cloneMissing(ctx, next)
}

// cloneMissing fetches recipes discovered only by the post-clone pass.
func (p *Pipeline) cloneMissing(ctx context.Context, res *Resolution) error {
	for _, name := range res.RecipeNames() {
		src := res.Sources[name]
		if src.Handle != nil {
			continue
		}
		if h, ok := p.Session.Cache.Handle(name); ok {
			src.Handle = h
			continue
		}
		h, err := p.Session.Cache.Clone(ctx, p.Source, name)
		if err != nil {
			if p.Opts.FetchPolicy == SkipUnavailable {
				colWarn.Printf("skipping %s: %v\n", name, err)
				res.Sources[name] = &ResolutionSource{Kind: SourceSkipped, Reason: err}
				continue
			}
			return err
		}
		src.Handle = h
	}
	// A clone failure skips a name after resolution already ran, so its
	// dependents must be excluded here too or they would build without it.
	res.propagateSkips()
	return nil
}

func (p *Pipeline) commit(ctx context.Context, res *Resolution, results map[string]*BuildResult) error {
	skipped := res.Skipped()
	if len(skipped) > 0 {
		colArrow.Print("-> ")
		colWarn.Println("Excluded packages:")
		for _, name := range sortedSkipKeys(skipped) {
			fmt.Printf("  - %-20s: %v\n", name, skipped[name])
		}
	}

	binaries := requestedBinaries(res)
	err := Commit(ctx, p.Tx, binaries, results, CommitOptions{InstallPartial: p.Opts.InstallPartial})
	if errors.Is(err, ErrBuildsFailed) {
		colArrow.Print("-> ")
		colError.Println("Not installing: some builds failed (rerun with --partial to install what succeeded)")
		return err
	}
	return err
}

// requestedBinaries returns the binary-repo subset the transaction must
// install by name: the explicitly requested binary names. Binary
// dependencies of recipes ride along inside the artifact transaction via the
// manager's own dependency resolution.
func requestedBinaries(res *Resolution) []string {
	var out []string
	for _, name := range res.Requested {
		if src, ok := res.Sources[name]; ok && src.Kind == SourceBinary {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (p *Pipeline) printSummary(res *Resolution, results map[string]*BuildResult) {
	var built, failed, poisoned []string
	for name, r := range results {
		switch {
		case !r.Failed():
			built = append(built, name)
		default:
			var dep *DependencyFailedError
			if errors.As(r.Err, &dep) {
				poisoned = append(poisoned, name)
			} else {
				failed = append(failed, name)
			}
		}
	}
	sort.Strings(built)
	sort.Strings(failed)
	sort.Strings(poisoned)

	if len(built) > 0 {
		colArrow.Print("-> ")
		colSuccess.Println("Built packages:")
		for _, name := range built {
			fmt.Printf("  - %s\n", colNote.Sprint(name))
		}
	}
	if len(failed) > 0 || len(poisoned) > 0 {
		colArrow.Print("-> ")
		colError.Println("Failed or blocked packages:")
		for _, name := range failed {
			fmt.Printf("  - %-20s: %v\n", name, results[name].Err)
		}
		for _, name := range poisoned {
			fmt.Printf("  - %-20s: %v\n", name, results[name].Err)
		}
	}
}

func (p *Pipeline) interactiveExec() *Executor {
	ex := *p.UserExec
	ex.Interactive = true
	return &ex
}

func handlesFor(res *Resolution) []*RecipeHandle {
	var out []*RecipeHandle
	for _, name := range res.RecipeNames() {
		if h := res.Sources[name].Handle; h != nil {
			out = append(out, h)
		}
	}
	return out
}

func sortedSkipKeys(m map[string]error) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
