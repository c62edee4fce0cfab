package git

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// GetChangedFiles runs git diff against a base ref and returns the
// changed file paths, sorted and deduplicated. The paths feed the
// propagator's MarkChanged.
func GetChangedFiles(baseRef string) ([]string, error) {
	cmd := exec.Command("git", "diff", "--name-only", baseRef)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff failed: %w", err)
	}
	return parseNames(output), nil
}

// GetUncommittedFiles returns paths with uncommitted changes, staged or
// not, including untracked files.
func GetUncommittedFiles() ([]string, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}

	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// Renames come through as "old -> new"; the new path is the one
		// that exists.
		if _, after, ok := strings.Cut(path, " -> "); ok {
			path = after
		}
		if path != "" {
			files = append(files, path)
		}
	}
	return dedupeSorted(files), scanner.Err()
}

func parseNames(output []byte) []string {
	var files []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			files = append(files, line)
		}
	}
	return dedupeSorted(files)
}

func dedupeSorted(files []string) []string {
	sort.Strings(files)
	out := files[:0]
	for i, f := range files {
		if i == 0 || files[i-1] != f {
			out = append(out, f)
		}
	}
	return out
}
