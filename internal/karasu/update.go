package karasu

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// upgradeCandidate is one foreign package with a newer recipe available.
type upgradeCandidate struct {
	Name      string
	Installed string
	Latest    string
}

// RunUpgrade implements the -Syu flow: refresh the sync databases, upgrade
// repo packages, then find foreign (recipe-built) packages with newer
// recipe versions and push the selection through the normal pipeline.
func (p *Pipeline) RunUpgrade(ctx context.Context, pm *Pacman, refresh int) error {
	if refresh > 0 {
		if err := pm.Refresh(ctx, refresh > 1); err != nil {
			return err
		}
		if err := pm.Upgrade(ctx); err != nil {
			return err
		}
	}

	foreign, err := pm.Foreign(ctx)
	if err != nil {
		return err
	}
	if len(foreign) == 0 {
		colArrow.Print("-> ")
		colInfo.Println("No foreign (recipe-built) packages installed.")
		return nil
	}

	candidates, err := p.outdated(ctx, pm, foreign)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		colArrow.Print("-> ")
		colSuccess.Println("All recipe-built packages are up to date.")
		return nil
	}

	selected := pickUpgrades(candidates)
	if len(selected) == 0 {
		colArrow.Print("-> ")
		colInfo.Println("No packages selected.")
		return nil
	}

	return p.Run(ctx, selected)
}

// outdated queries the recipe source for each foreign package and keeps the
// ones whose recipe version is strictly newer, per the manager's vercmp.
func (p *Pipeline) outdated(ctx context.Context, pm *Pacman, foreign map[string]string) ([]upgradeCandidate, error) {
	names := make([]string, 0, len(foreign))
	for name := range foreign {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []upgradeCandidate
	for _, name := range names {
		meta, err := p.Source.Metadata(ctx, name)
		if err != nil {
			// Foreign packages don't have to exist on the recipe host.
			if Debug {
				colNote.Printf("%s: %v\n", name, err)
			}
			continue
		}
		ord, err := pm.Vercmp(ctx, foreign[name], meta.Version)
		if err != nil {
			return nil, err
		}
		if ord < 0 {
			out = append(out, upgradeCandidate{Name: name, Installed: foreign[name], Latest: meta.Version})
		}
	}
	return out, nil
}

// pickUpgrades prints a numbered menu and reads a selection; empty input
// selects everything, negative numbers exclude.
func pickUpgrades(candidates []upgradeCandidate) []string {
	colArrow.Print("-> ")
	colInfo.Println("Updates available:")
	for i, c := range candidates {
		fmt.Printf("%3d) %-32s %12s -> %-12s\n", i+1, c.Name, c.Installed, c.Latest)
	}
	cPrintf(colNote, "Packages to update (e.g. 1,3 or -2 to exclude, empty for all): ")

	interactiveMu.Lock()
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	interactiveMu.Unlock()
	if err != nil {
		return nil
	}
	line = strings.TrimSpace(line)

	if line == "" {
		out := make([]string, len(candidates))
		for i, c := range candidates {
			out[i] = c.Name
		}
		return out
	}

	indices, _, err := ParseSelectionIndices(line, len(candidates))
	if err != nil {
		cPrintln(colWarn, err.Error())
		return nil
	}
	var out []string
	for _, idx := range indices {
		out = append(out, candidates[idx].Name)
	}
	return out
}
