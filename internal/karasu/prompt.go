package karasu

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// interactiveMu ensures only one interactive prompt reads stdin at a time.
// This prevents background goroutines from hanging invisibly while waiting for input.
var interactiveMu sync.Mutex

func askForConfirmation(p colorPrinter, format string, a ...any) (bool, error) {
	interactiveMu.Lock()
	defer interactiveMu.Unlock()

	reader := bufio.NewReader(os.Stdin)
	mainPrompt := fmt.Sprintf(format, a...)
	fullPrompt := fmt.Sprintf("%s [Y/n]: ", mainPrompt)

	for {
		cPrintf(p, "%s", fullPrompt)
		response, err := reader.ReadString('\n')

		if err != nil {
			// Ctrl+D or a closed stdin is not a "no"; callers that loop on
			// the answer would otherwise re-prompt forever.
			return false, fmt.Errorf("reading confirmation: %w", err)
		}
		response = strings.ToLower(strings.TrimSpace(response))

		if response == "y" || response == "yes" || response == "" {
			return true, nil
		}
		if response == "n" || response == "no" {
			return false, nil
		}
		cPrintln(colWarn, "Invalid input.")
	}
}

// ParseSelectionIndices parses a comma-separated list of numbers or negative numbers (for exclusion).
// It returns a slice of 0-based indices and a boolean indicating if it's an exclusion list.
func ParseSelectionIndices(input string, max int) ([]int, bool, error) {
	if input == "" {
		return nil, false, nil
	}

	parts := strings.Split(input, ",")
	indices := make(map[int]bool)
	exclude := false

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		isNeg := strings.HasPrefix(part, "-")
		idxStr := part
		if isNeg {
			exclude = true
			idxStr = strings.TrimPrefix(part, "-")
		}

		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, false, fmt.Errorf("invalid number: %s", part)
		}

		if idx <= 0 || idx > max {
			return nil, false, fmt.Errorf("number out of range (1-%d): %d", max, idx)
		}

		indices[idx-1] = true
	}

	var result []int
	if exclude {
		for i := 0; i < max; i++ {
			if !indices[i] {
				result = append(result, i)
			}
		}
	} else {
		for idx := range indices {
			result = append(result, idx)
		}
		sort.Ints(result)
	}
	return result, exclude, nil
}
