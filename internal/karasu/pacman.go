package karasu

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// BinaryRepo answers "is this name installable from the distribution's
// prebuilt repositories?". Binary availability always wins over a
// same-named recipe.
type BinaryRepo interface {
	IsAvailable(ctx context.Context, name string) bool
}

// Transactor issues the final consolidated install transaction. It is
// treated as atomic and authoritative; the pipeline never second-guesses or
// retries its result.
type Transactor interface {
	Install(ctx context.Context, binaryNames []string, artifacts []string) error
}

// Pacman wraps the system package manager's query and transaction surface.
// Queries run unprivileged; transactions elevate through the root executor.
type Pacman struct {
	UserExec  *Executor
	RootExec  *Executor
	NoConfirm bool
}

func NewPacman(userExec, rootExec *Executor) *Pacman {
	return &Pacman{UserExec: userExec, RootExec: rootExec}
}

// IsAvailable checks the sync repositories for an exact name match.
func (p *Pacman) IsAvailable(ctx context.Context, name string) bool {
	ex := *p.UserExec
	ex.Context = ctx
	cmd := exec.Command("pacman", "-Si", "--", name)
	out, err := ex.Output(cmd)
	return err == nil && len(strings.TrimSpace(string(out))) > 0
}

// IsInstalled checks the local package database for an exact name match.
func (p *Pacman) IsInstalled(ctx context.Context, name string) bool {
	ex := *p.UserExec
	ex.Context = ctx
	cmd := exec.Command("pacman", "-Qi", "--", name)
	_, err := ex.Output(cmd)
	return err == nil
}

// Foreign lists installed packages absent from the sync repositories
// (pacman -Qm), typically recipe-built ones. Returns name -> version.
func (p *Pacman) Foreign(ctx context.Context) (map[string]string, error) {
	ex := *p.UserExec
	ex.Context = ctx
	out, err := ex.Output(exec.Command("pacman", "-Qm"))
	if err != nil {
		return nil, fmt.Errorf("pacman -Qm failed: %w", err)
	}
	foreign := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		name, ver, ok := strings.Cut(strings.TrimSpace(line), " ")
		if ok {
			foreign[name] = ver
		}
	}
	return foreign, nil
}

// Vercmp compares two version strings with the manager's own rules.
// Returns -1, 0 or 1.
func (p *Pacman) Vercmp(ctx context.Context, a, b string) (int, error) {
	ex := *p.UserExec
	ex.Context = ctx
	out, err := ex.Output(exec.Command("vercmp", a, b))
	if err != nil {
		return 0, fmt.Errorf("vercmp failed: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("invalid vercmp output: %q", strings.TrimSpace(string(out)))
	}
	return v, nil
}

// Refresh syncs the package databases (-Sy / -Syy).
func (p *Pacman) Refresh(ctx context.Context, force bool) error {
	arg := "-Sy"
	if force {
		arg = "-Syy"
	}
	return p.run(ctx, arg)
}

// Upgrade runs a full system upgrade of repo packages.
func (p *Pacman) Upgrade(ctx context.Context) error {
	return p.run(ctx, "-Su")
}

// Passthrough forwards arbitrary arguments to pacman with privileges.
func (p *Pacman) Passthrough(ctx context.Context, args []string) error {
	return p.run(ctx, args...)
}

// CleanCache runs pacman -Scc.
func (p *Pacman) CleanCache(ctx context.Context) error {
	return p.run(ctx, "-Scc")
}

// Install commits the whole batch. Built artifacts land in a single
// `pacman -U` invocation so the manager's transaction atomicity covers all
// of them together; their binary-repo dependencies are pulled from the sync
// repositories within that same transaction. Explicitly requested
// binary-only names are synced first, since the manager's command line
// cannot mix file and repository targets.
func (p *Pacman) Install(ctx context.Context, binaryNames []string, artifacts []string) error {
	if len(binaryNames) > 0 {
		args := []string{"-S", "--needed"}
		if p.NoConfirm {
			args = append(args, "--noconfirm")
		}
		args = append(args, "--")
		args = append(args, binaryNames...)
		if err := p.run(ctx, args...); err != nil {
			return &TransactionError{Err: err}
		}
	}
	if len(artifacts) > 0 {
		args := []string{"-U"}
		if p.NoConfirm {
			args = append(args, "--noconfirm")
		}
		args = append(args, "--")
		args = append(args, artifacts...)
		if err := p.run(ctx, args...); err != nil {
			return &TransactionError{Err: err}
		}
	}
	return nil
}

func (p *Pacman) run(ctx context.Context, args ...string) error {
	ex := *p.RootExec
	ex.Context = ctx
	ex.Interactive = true
	cmd := exec.Command("pacman", args...)
	if err := ex.Run(cmd); err != nil {
		return fmt.Errorf("pacman %s failed: %w", strings.Join(args, " "), err)
	}
	return nil
}
