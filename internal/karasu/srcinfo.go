package karasu

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Recipe holds the dependency-relevant declarations of one build recipe,
// as parsed from its .SRCINFO file.
type Recipe struct {
	Base         string
	Name         string
	Version      string
	Depends      []string
	MakeDepends  []string
	CheckDepends []string
	Provides     []string
	Conflicts    []string
}

// AllDepends returns run-time, build-time and check dependencies as bare
// names, version constraints stripped.
func (r *Recipe) AllDepends() []string {
	out := make([]string, 0, len(r.Depends)+len(r.MakeDepends)+len(r.CheckDepends))
	seen := make(map[string]bool)
	for _, group := range [][]string{r.Depends, r.MakeDepends, r.CheckDepends} {
		for _, dep := range group {
			name := stripVersionConstraint(dep)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// stripVersionConstraint turns "foo>=1.2" into "foo".
func stripVersionConstraint(dep string) string {
	if i := strings.IndexAny(dep, "<>="); i >= 0 {
		dep = dep[:i]
	}
	return strings.TrimSpace(dep)
}

// ParseSrcinfo parses the .SRCINFO format: one "key = value" pair per line,
// comments and blank lines ignored. Architecture-suffixed dependency keys
// (depends_x86_64 etc.) are folded into their base key.
func ParseSrcinfo(name string, r io.Reader) (*Recipe, error) {
	rec := &Recipe{Name: name}
	var pkgver, pkgrel string
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, &ParseError{Name: name, Detail: fmt.Sprintf("line %d: missing '='", lineNo)}
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if val == "" {
			continue
		}

		// Fold arch-specific keys: depends_x86_64 -> depends
		if i := strings.Index(key, "_"); i > 0 {
			switch key[:i] {
			case "depends", "makedepends", "checkdepends", "provides", "conflicts":
				key = key[:i]
			}
		}

		switch key {
		case "pkgbase":
			rec.Base = val
		case "pkgname":
			if rec.Name == "" {
				rec.Name = val
			}
		case "pkgver":
			pkgver = val
		case "pkgrel":
			pkgrel = val
		case "depends":
			rec.Depends = append(rec.Depends, val)
		case "makedepends":
			rec.MakeDepends = append(rec.MakeDepends, val)
		case "checkdepends":
			rec.CheckDepends = append(rec.CheckDepends, val)
		case "provides":
			rec.Provides = append(rec.Provides, stripVersionConstraint(val))
		case "conflicts":
			rec.Conflicts = append(rec.Conflicts, stripVersionConstraint(val))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Name: name, Detail: err.Error()}
	}
	if rec.Name == "" {
		return nil, &ParseError{Name: name, Detail: "no pkgbase or pkgname declared"}
	}
	rec.Version = pkgver
	if pkgrel != "" {
		rec.Version = pkgver + "-" + pkgrel
	}
	return rec, nil
}

// ParseSrcinfoFile reads <dir>/.SRCINFO.
func ParseSrcinfoFile(name, dir string) (*Recipe, error) {
	f, err := os.Open(filepath.Join(dir, ".SRCINFO"))
	if err != nil {
		return nil, &ParseError{Name: name, Detail: err.Error()}
	}
	defer f.Close()
	return ParseSrcinfo(name, f)
}
