package karasu

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingTx captures Install calls.
type recordingTx struct {
	calls     int
	names     []string
	artifacts []string
	err       error
}

func (r *recordingTx) Install(_ context.Context, names, artifacts []string) error {
	r.calls++
	r.names = names
	r.artifacts = artifacts
	return r.err
}

func okResult(name string, artifacts ...string) *BuildResult {
	return &BuildResult{Name: name, Artifacts: artifacts}
}

func failedResult(name string) *BuildResult {
	return &BuildResult{Name: name, Err: &BuildError{Name: name, Err: fmt.Errorf("boom")}}
}

func TestCommitGatesOnFailure(t *testing.T) {
	tx := &recordingTx{}
	results := map[string]*BuildResult{
		"good": okResult("good", "good.pkg.tar.zst"),
		"bad":  failedResult("bad"),
	}

	err := Commit(context.Background(), tx, nil, results, CommitOptions{})
	require.ErrorIs(t, err, ErrBuildsFailed)
	require.Zero(t, tx.calls, "transaction must never run after a failed build")
}

func TestCommitPartialOverride(t *testing.T) {
	tx := &recordingTx{}
	results := map[string]*BuildResult{
		"good": okResult("good", "good.pkg.tar.zst"),
		"bad":  failedResult("bad"),
	}

	err := Commit(context.Background(), tx, nil, results, CommitOptions{InstallPartial: true})
	require.NoError(t, err)
	require.Equal(t, 1, tx.calls)
	require.Equal(t, []string{"good.pkg.tar.zst"}, tx.artifacts)
}

func TestCommitSingleTransactionForWholeBatch(t *testing.T) {
	tx := &recordingTx{}
	results := map[string]*BuildResult{
		"pkgx": okResult("pkgx", "pkgx-1.0.pkg.tar.zst"),
		"pkgy": okResult("pkgy", "pkgy-2.0.pkg.tar.zst"),
	}

	err := Commit(context.Background(), tx, []string{"libz"}, results, CommitOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, tx.calls, "the whole batch lands in one transaction")
	require.Equal(t, []string{"libz"}, tx.names)
	require.Equal(t, []string{"pkgx-1.0.pkg.tar.zst", "pkgy-2.0.pkg.tar.zst"}, tx.artifacts)
}

func TestCommitSurfacesTransactionError(t *testing.T) {
	tx := &recordingTx{err: &TransactionError{Err: fmt.Errorf("conflicting files")}}
	results := map[string]*BuildResult{"pkgx": okResult("pkgx", "pkgx.pkg.tar.zst")}

	err := Commit(context.Background(), tx, nil, results, CommitOptions{})
	require.Error(t, err)
	var terr *TransactionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, 1, tx.calls, "a failed transaction is never retried")
}

func TestCommitNoopOnEmptyBatch(t *testing.T) {
	tx := &recordingTx{}
	err := Commit(context.Background(), tx, nil, nil, CommitOptions{})
	require.NoError(t, err)
	require.Zero(t, tx.calls)
}
