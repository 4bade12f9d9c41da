package karasu

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: karasu <operation> [arguments]")
	colSuccess.Println("Pacman-style operations are forwarded; -S targets get recipe support")
	fmt.Println()
	color.Info.Println("Operations:")

	type cmdInfo struct {
		Cmd  string
		Desc string
	}
	cmds := []cmdInfo{
		{"-S <pkg...>", "Install packages; recipe packages are built from source"},
		{"-Syu / -Syyu", "Refresh databases, upgrade system and recipe-built packages"},
		{"-Scc", "Clean the package manager cache and the karasu cache"},
		{"clean", "Remove karasu's session cache"},
		{"version", "Version information"},
		{"help", "This help"},
	}

	maxLen := 0
	for _, c := range cmds {
		if len(c.Cmd) > maxLen {
			maxLen = len(c.Cmd)
		}
	}
	for _, c := range cmds {
		fmt.Printf("  %s%s  %s\n", colNote.Sprint(c.Cmd), strings.Repeat(" ", maxLen-len(c.Cmd)), c.Desc)
	}
	fmt.Println()
	color.Info.Println("Options for -S:")
	fmt.Println("  --skip-review    Skip the recipe review/edit step")
	fmt.Println("  --partial        Install successfully built packages despite failures")
	fmt.Println("  --skip-missing   Exclude unreachable recipes instead of aborting")
	fmt.Println("  --noconfirm      Never ask for confirmation")
	fmt.Println("  --verbose        Echo every external command before running it")
	fmt.Println("  --jobs <n>       Concurrent builds (default: number of CPUs)")
	fmt.Println("  --timeout <dur>  Per-build timeout, e.g. 30m (default: none)")
	fmt.Println("  --mirror         Fetch recipes from the configured S3 mirror")
}

// Run is the CLI entry point. It returns a process exit code.
func Run(args []string) int {
	cfg, err := loadConfig(ConfigFile)
	if err != nil {
		colError.Printf("failed to load %s: %v\n", ConfigFile, err)
		return 1
	}

	// Cancel the whole pipeline on SIGINT/SIGTERM. Before the checkpoint
	// closes this has no side effects beyond the uncommitted cache clones.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userExec := NewExecutor(ctx)
	rootExec := NewRootExecutor(ctx)
	pm := NewPacman(userExec, rootExec)

	if len(args) == 0 {
		printHelp()
		return 1
	}

	switch args[0] {
	case "help", "--help", "-h":
		printHelp()
		return 0
	case "version", "--version", "-V":
		fmt.Printf("karasu %s (%s, built %s)\n", version, arch, buildDate)
		return 0
	case "clean":
		if err := os.RemoveAll(cfg.CacheDir); err != nil {
			colError.Println(err)
			return 1
		}
		colArrow.Print("-> ")
		colSuccess.Println("Cache removed")
		return 0
	}

	op, opts, names, err := parseSyncArgs(cfg, args)
	if err != nil {
		colError.Println(err)
		return 1
	}

	switch op.mode {
	case modePassthrough:
		if err := pm.Passthrough(ctx, args); err != nil {
			colError.Println(err)
			return 1
		}
		return 0
	case modeCleanCache:
		if err := pm.CleanCache(ctx); err != nil {
			colError.Println(err)
			return 1
		}
		if err := os.RemoveAll(cfg.CacheDir); err != nil {
			colError.Println(err)
			return 1
		}
		return 0
	}

	pm.NoConfirm = opts.NoConfirm

	session, err := NewSession(cfg)
	if err != nil {
		colError.Println(err)
		return 1
	}
	defer session.Close()

	updater := NewSelfUpdater(cfg, session, userExec, pm)
	updater.NoConfirm = opts.NoConfirm
	if err := updater.EnsureLatest(ctx); err != nil {
		colError.Println(err)
		return 1
	}

	source, err := selectSource(cfg, userExec, op.useMirror)
	if err != nil {
		colError.Println(err)
		return 1
	}

	pipeline := &Pipeline{
		Session:  session,
		Source:   source,
		Repo:     pm,
		Tx:       pm,
		UserExec: userExec,
		RootExec: rootExec,
		Opts:     opts,
	}

	switch op.mode {
	case modeUpgrade:
		err = pipeline.RunUpgrade(ctx, pm, op.refresh)
	case modeSync:
		err = pipeline.Run(ctx, names)
	}
	if err != nil {
		colError.Println(err)
		return 1
	}
	return 0
}

type opMode int

const (
	modeSync opMode = iota
	modeUpgrade
	modePassthrough
	modeCleanCache
)

type operation struct {
	mode      opMode
	refresh   int
	useMirror bool
}

// parseSyncArgs interprets the pacman-style argument list. Anything that is
// not a sync/upgrade request is passed through to pacman untouched.
func parseSyncArgs(cfg *Config, args []string) (operation, PipelineOptions, []string, error) {
	op := operation{mode: modePassthrough}
	opts := PipelineOptions{MaxJobs: cfg.MaxJobs}

	var names []string
	sync := false
	sysupgrade := false

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-Scc":
			return operation{mode: modeCleanCache}, opts, nil, nil
		case strings.HasPrefix(arg, "-S") && !strings.HasPrefix(arg, "--"):
			sync = true
			for _, c := range arg[2:] {
				switch c {
				case 'y':
					op.refresh++
				case 'u':
					sysupgrade = true
				default:
					// Unknown sync flag: let pacman handle the whole thing.
					return operation{mode: modePassthrough}, opts, nil, nil
				}
			}
		case arg == "--skip-review":
			opts.SkipReview = true
		case arg == "--partial":
			opts.InstallPartial = true
		case arg == "--skip-missing":
			opts.FetchPolicy = SkipUnavailable
		case arg == "--noconfirm":
			opts.NoConfirm = true
		case arg == "--verbose":
			Verbose = true
		case arg == "--mirror":
			op.useMirror = true
		case arg == "--jobs":
			if i+1 >= len(args) {
				return op, opts, nil, fmt.Errorf("--jobs requires a value")
			}
			i++
			n := 0
			if _, err := fmt.Sscanf(args[i], "%d", &n); err != nil || n < 1 {
				return op, opts, nil, fmt.Errorf("invalid --jobs value: %s", args[i])
			}
			opts.MaxJobs = n
		case arg == "--timeout":
			if i+1 >= len(args) {
				return op, opts, nil, fmt.Errorf("--timeout requires a value")
			}
			i++
			d, err := time.ParseDuration(args[i])
			if err != nil {
				return op, opts, nil, fmt.Errorf("invalid --timeout value: %s", args[i])
			}
			opts.BuildTimeout = d
		case strings.HasPrefix(arg, "-"):
			return operation{mode: modePassthrough}, opts, nil, nil
		default:
			names = append(names, arg)
		}
	}

	switch {
	case sync && sysupgrade && len(names) == 0:
		op.mode = modeUpgrade
	case sync && len(names) > 0:
		op.mode = modeSync
	default:
		op.mode = modePassthrough
	}
	return op, opts, names, nil
}

// selectSource picks the recipe backend: the primary host, or the S3 mirror
// when requested by flag or configured as the default.
func selectSource(cfg *Config, exec *Executor, mirrorFlag bool) (RecipeSource, error) {
	if mirrorFlag || cfg.Values["KARASU_MIRROR"] == "s3" {
		return NewMirrorSource(cfg)
	}
	return NewAURSource(cfg, exec), nil
}
