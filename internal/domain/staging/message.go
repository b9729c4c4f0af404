package staging

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// GenerateCommitMessage derives a proposed commit message from the staged
// change set. It is purely a suggestion and never auto-applied.
func GenerateCommitMessage(mode CommitMode, changes []StagedChange) string {
	switch mode {
	case ModeByTask:
		if len(changes) == 1 {
			return TaskCommitMessage(changes[0])
		}
		names := specNames(changes)
		return fmt.Sprintf("feat: land %d staged tasks (%s)", len(changes), strings.Join(names, ", "))
	default:
		files := uniqueFiles(changes)
		if len(files) == 0 {
			return ""
		}
		names := specNames(changes)
		scope := commonScope(files)
		if scope != "" {
			return fmt.Sprintf("feat(%s): merge %s (%d files)", scope, strings.Join(names, ", "), len(files))
		}
		return fmt.Sprintf("feat: merge %s (%d files)", strings.Join(names, ", "), len(files))
	}
}

// TaskCommitMessage derives the per-task message used by by_task commits.
func TaskCommitMessage(c StagedChange) string {
	return fmt.Sprintf("feat(%s): implement %s", c.SpecName, humanize(c.SpecName))
}

func specNames(changes []StagedChange) []string {
	names := make([]string, 0, len(changes))
	for _, c := range changes {
		names = append(names, c.SpecName)
	}
	sort.Strings(names)
	return names
}

func uniqueFiles(changes []StagedChange) []string {
	seen := make(map[string]struct{})
	var files []string
	for _, c := range changes {
		for _, f := range c.Files {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files
}

// commonScope returns the shared top-level directory of all files, or ""
// when they span multiple directories.
func commonScope(files []string) string {
	var scope string
	for _, f := range files {
		dir := topDir(f)
		if dir == "" {
			return ""
		}
		if scope == "" {
			scope = dir
			continue
		}
		if dir != scope {
			return ""
		}
	}
	return scope
}

func topDir(file string) string {
	dir := path.Dir(file)
	if dir == "." || dir == "/" {
		return ""
	}
	parts := strings.SplitN(dir, "/", 2)
	return parts[0]
}

func humanize(specName string) string {
	return strings.ReplaceAll(strings.ReplaceAll(specName, "-", " "), "_", " ")
}
