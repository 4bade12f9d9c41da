package karasu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func unit(name string, deps ...string) *BuildUnit {
	return &BuildUnit{
		Name:   name,
		Handle: &RecipeHandle{Name: name, Dir: "/tmp/" + name},
		Deps:   deps,
	}
}

func TestRunBuildsPartialFailure(t *testing.T) {
	units := []*BuildUnit{unit("a"), unit("b"), unit("c", "a")}

	builder := func(_ context.Context, u *BuildUnit) ([]string, error) {
		if u.Name == "a" {
			return nil, &BuildError{Name: "a", Err: fmt.Errorf("boom")}
		}
		return []string{u.Name + ".pkg.tar.zst"}, nil
	}

	results, err := RunBuilds(context.Background(), units, 2, builder)
	require.NoError(t, err)
	require.Len(t, results, 3, "every unit must get a terminal result")

	require.True(t, results["a"].Failed())

	// B is independent of the failure and still reaches an artifact.
	require.False(t, results["b"].Failed())
	require.Equal(t, []string{"b.pkg.tar.zst"}, results["b"].Artifacts)

	// C is poisoned, never attempted.
	require.True(t, results["c"].Failed())
	var dep *DependencyFailedError
	require.ErrorAs(t, results["c"].Err, &dep)
	require.Equal(t, "a", dep.Name)
}

func TestRunBuildsPoisonsTransitively(t *testing.T) {
	units := []*BuildUnit{unit("a"), unit("b", "a"), unit("c", "b")}

	builder := func(_ context.Context, u *BuildUnit) ([]string, error) {
		return nil, &BuildError{Name: u.Name, Err: fmt.Errorf("boom")}
	}

	results, err := RunBuilds(context.Background(), units, 4, builder)
	require.NoError(t, err)

	var dep *DependencyFailedError
	require.ErrorAs(t, results["b"].Err, &dep)
	require.Equal(t, "a", dep.Name)
	require.ErrorAs(t, results["c"].Err, &dep)
	require.Equal(t, "b", dep.Name)
}

func TestRunBuildsRespectsDependencyOrder(t *testing.T) {
	units := []*BuildUnit{unit("lib"), unit("app", "lib")}

	var mu sync.Mutex
	var order []string
	builder := func(_ context.Context, u *BuildUnit) ([]string, error) {
		mu.Lock()
		order = append(order, u.Name)
		mu.Unlock()
		return []string{u.Name + ".pkg.tar.zst"}, nil
	}

	_, err := RunBuilds(context.Background(), units, 4, builder)
	require.NoError(t, err)
	require.Equal(t, []string{"lib", "app"}, order)
}

func TestRunBuildsBoundsConcurrency(t *testing.T) {
	var units []*BuildUnit
	for i := 0; i < 8; i++ {
		units = append(units, unit(fmt.Sprintf("pkg%d", i)))
	}

	var inFlight, peak atomic.Int32
	builder := func(_ context.Context, _ *BuildUnit) ([]string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return []string{"x.pkg.tar.zst"}, nil
	}

	_, err := RunBuilds(context.Background(), units, 2, builder)
	require.NoError(t, err)
	require.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunBuildsRejectsCyclicUnits(t *testing.T) {
	units := []*BuildUnit{unit("a", "b"), unit("b", "a")}
	_, err := RunBuilds(context.Background(), units, 2, func(context.Context, *BuildUnit) ([]string, error) {
		return nil, nil
	})
	require.Error(t, err)
	require.IsType(t, &CycleError{}, err)
}

func TestFreezeBuildUnitsFiltersBinaryDeps(t *testing.T) {
	src := newFakeSource()
	src.addRecipe("pkgx", "1.0", "pkgy")
	src.addRecipe("pkgy", "2.0", "libz")
	repo := newFakeRepo("libz")

	rv := newTestResolver(t, src, repo, AbortOnFetchError)
	ctx := context.Background()
	res, err := rv.Resolve(ctx, []string{"pkgx"})
	require.NoError(t, err)
	for _, name := range res.RecipeNames() {
		h, err := rv.Cache.Clone(ctx, src, name)
		require.NoError(t, err)
		res.Sources[name].Handle = h
	}

	units, err := FreezeBuildUnits(res)
	require.NoError(t, err)
	require.Len(t, units, 2)

	byName := make(map[string]*BuildUnit)
	for _, u := range units {
		byName[u.Name] = u
	}
	require.Equal(t, []string{"pkgy"}, byName["pkgx"].Deps)
	require.Empty(t, byName["pkgy"].Deps, "binary deps are not build edges")
}
