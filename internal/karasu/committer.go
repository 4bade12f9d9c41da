package karasu

import (
	"context"
	"sort"
)

// CommitOptions surfaces the partial-install policy choice instead of
// deciding it silently.
type CommitOptions struct {
	// InstallPartial opts into installing only the successfully built
	// subset when some builds in the batch failed.
	InstallPartial bool
}

// Commit hands the batch to the system package manager as one consolidated
// transaction: all binary names and all built artifacts together. If any
// build failed and the caller did not opt into a partial install, the
// transaction is never issued and ErrBuildsFailed is returned.
func Commit(ctx context.Context, tx Transactor, binaryNames []string, results map[string]*BuildResult, opts CommitOptions) error {
	var artifacts []string
	failed := false
	for _, res := range results {
		if res.Failed() {
			failed = true
			continue
		}
		artifacts = append(artifacts, res.Artifacts...)
	}
	if failed && !opts.InstallPartial {
		return ErrBuildsFailed
	}

	names := append([]string{}, binaryNames...)
	sort.Strings(names)
	sort.Strings(artifacts)

	if len(names) == 0 && len(artifacts) == 0 {
		return nil
	}
	return tx.Install(ctx, names, artifacts)
}
