package karasu

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BuildUnit is one cloned recipe plus its fully resolved recipe-to-recipe
// dependency edges, frozen and ready for scheduling. Binary dependencies are
// not edges here; the final transaction satisfies them.
type BuildUnit struct {
	Name   string
	Handle *RecipeHandle
	Deps   []string // names of recipe dependencies, build-before edges
}

// BuildResult is the terminal outcome of one BuildUnit: either a set of
// artifact paths or a failure cause. Every unit gets exactly one.
type BuildResult struct {
	Name      string
	Artifacts []string
	Err       error
	Duration  time.Duration
}

// Failed reports whether the unit did not produce artifacts.
func (r *BuildResult) Failed() bool { return r.Err != nil }

// FreezeBuildUnits produces the immutable build units from a finished
// resolution. Every recipe must have been cloned by then.
func FreezeBuildUnits(res *Resolution) ([]*BuildUnit, error) {
	recipes := make(map[string]bool)
	for _, name := range res.RecipeNames() {
		recipes[name] = true
	}

	units := make([]*BuildUnit, 0, len(recipes))
	for _, name := range sortedKeys(recipes) {
		src := res.Sources[name]
		if src.Handle == nil {
			return nil, fmt.Errorf("recipe %s was never cloned", name)
		}
		var deps []string
		for _, dep := range res.Graph.Deps(name) {
			if recipes[dep] {
				deps = append(deps, dep)
			}
		}
		units = append(units, &BuildUnit{Name: name, Handle: src.Handle, Deps: deps})
	}
	return units, nil
}

// BuildFunc builds a single unit inside its own subdirectory and returns the
// artifact paths it produced. It is an opaque, potentially slow, potentially
// failing external process from the orchestrator's point of view.
type BuildFunc func(ctx context.Context, unit *BuildUnit) ([]string, error)

type buildOutcome struct {
	name      string
	artifacts []string
	err       error
	duration  time.Duration
}

// buildManager schedules build units in dependency order, running
// independent units concurrently up to MaxJobs.
type buildManager struct {
	MaxJobs int
	Builder BuildFunc
	Context context.Context

	mu        sync.Mutex
	units     map[string]*BuildUnit
	Pending   []string
	Running   map[string]time.Time
	Completed map[string]bool
	Failed    map[string]error
	Results   map[string]*BuildResult

	resultChan chan buildOutcome
	total      int
	started    int
}

// RunBuilds executes the units in topological order with bounded
// concurrency. A failure poisons every transitive dependent; independent
// subtrees run to completion. The returned map holds a terminal result for
// every unit.
func RunBuilds(ctx context.Context, units []*BuildUnit, maxJobs int, builder BuildFunc) (map[string]*BuildResult, error) {
	if maxJobs < 1 {
		maxJobs = 1
	}

	g := NewGraph()
	byName := make(map[string]*BuildUnit, len(units))
	for _, u := range units {
		g.AddNode(u.Name)
		byName[u.Name] = u
	}
	for _, u := range units {
		for _, dep := range u.Deps {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("unit %s depends on unknown unit %s", u.Name, dep)
			}
			if err := g.AddEdge(u.Name, dep); err != nil {
				return nil, err
			}
		}
	}
	order, err := g.Toposort()
	if err != nil {
		return nil, err
	}

	bm := &buildManager{
		MaxJobs:    maxJobs,
		Builder:    builder,
		Context:    ctx,
		units:      byName,
		Pending:    order,
		Running:    make(map[string]time.Time),
		Completed:  make(map[string]bool),
		Failed:     make(map[string]error),
		Results:    make(map[string]*BuildResult),
		resultChan: make(chan buildOutcome, maxJobs),
		total:      len(order),
	}
	bm.run()
	return bm.Results, nil
}

func (bm *buildManager) run() {
	for len(bm.Pending) > 0 || len(bm.Running) > 0 {
		bm.mu.Lock()
		var nextPending []string
		for _, name := range bm.Pending {
			if len(bm.Running) >= bm.MaxJobs {
				nextPending = append(nextPending, name)
				continue
			}
			ready, failedDep := bm.depsState(name)
			switch {
			case failedDep != "":
				// Poisoned: a dependency failed, never attempt the build.
				err := &DependencyFailedError{Name: failedDep}
				bm.Failed[name] = err
				bm.Results[name] = &BuildResult{Name: name, Err: err}
				colArrow.Print("-> ")
				colWarn.Printf("skipping %s (%v)\n", name, err)
			case ready:
				bm.startBuild(name)
			default:
				nextPending = append(nextPending, name)
			}
		}
		bm.Pending = nextPending
		running := len(bm.Running)
		bm.mu.Unlock()

		if running == 0 {
			if len(bm.Pending) == 0 {
				return
			}
			// Nothing running and nothing startable: only poisoned entries
			// remain; loop once more to drain them.
			continue
		}

		res := <-bm.resultChan
		bm.mu.Lock()
		delete(bm.Running, res.name)
		result := &BuildResult{
			Name:      res.name,
			Artifacts: res.artifacts,
			Err:       res.err,
			Duration:  res.duration,
		}
		bm.Results[res.name] = result
		if res.err != nil {
			// Track failures but don't stop the world; unrelated subtrees
			// keep building.
			bm.Failed[res.name] = res.err
			colArrow.Print("-> ")
			colError.Printf("build failed: %s (%v)\n", res.name, res.err)
		} else {
			bm.Completed[res.name] = true
			colArrow.Print("-> ")
			colSuccess.Printf("built %s in %s\n", res.name, res.duration.Round(time.Second))
		}
		bm.mu.Unlock()
	}
}

// depsState reports whether every dependency of name has completed, and the
// first failed dependency if any.
func (bm *buildManager) depsState(name string) (ready bool, failedDep string) {
	u := bm.units[name]
	for _, dep := range u.Deps {
		if _, failed := bm.Failed[dep]; failed {
			return false, dep
		}
		if !bm.Completed[dep] {
			return false, ""
		}
	}
	return true, ""
}

func (bm *buildManager) startBuild(name string) {
	bm.Running[name] = time.Now()
	bm.started++
	colArrow.Print("-> ")
	colInfo.Printf("building %s [%d/%d]\n", name, bm.started, bm.total)

	unit := bm.units[name]
	go func() {
		start := time.Now()
		artifacts, err := bm.Builder(bm.Context, unit)
		bm.resultChan <- buildOutcome{
			name:      name,
			artifacts: artifacts,
			err:       err,
			duration:  time.Since(start),
		}
	}()
}
