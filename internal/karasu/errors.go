package karasu

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errPackageNotFound = errors.New("package not found")

	// ErrBuildsFailed gates the install transaction: at least one build in
	// the batch failed and the caller did not opt into a partial install.
	ErrBuildsFailed = errors.New("one or more builds failed")
)

// NotFoundError reports a name that neither the binary repositories nor the
// recipe source know about.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, errPackageNotFound)
}

func (e *NotFoundError) Unwrap() error { return errPackageNotFound }

// CycleError reports a dependency cycle with the full path, e.g. a -> b -> a.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// ParseError reports an unusable recipe metadata file.
type ParseError struct {
	Name   string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse recipe for %s: %s", e.Name, e.Detail)
}

// FetchError reports a failure to download a recipe or its metadata.
type FetchError struct {
	Name string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for %s: %v", e.Name, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// BuildError reports a failed or artifact-less build of one recipe.
type BuildError struct {
	Name string
	Err  error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed for %s: %v", e.Name, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// DependencyFailedError marks a build unit that was never attempted because
// one of its dependencies failed.
type DependencyFailedError struct {
	Name string // the dependency that failed
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("dependency failed: %s", e.Name)
}

// TransactionError wraps a failure of the underlying package manager
// transaction. It is terminal; the pipeline never retries it.
type TransactionError struct {
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("package manager transaction failed: %v", e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }
