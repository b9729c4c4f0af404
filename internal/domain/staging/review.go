package staging

import (
	"fmt"
	"strings"
)

// FileContent pairs a staged file path with its staged content, the input
// to the advisory review pass.
type FileContent struct {
	Path    string
	Content string
}

// Review issue types.
const (
	IssueConflict    = "conflict"
	IssueDebugCode   = "debug_code"
	IssueLargeFile   = "large_file"
	IssueMixedChange = "mixed_change"
)

const largeFileLines = 1500

// Review runs an advisory pass over staged content. The report is purely
// informational: it never blocks a commit or mutates staged state.
func Review(changes []StagedChange, contents []FileContent) ReviewReport {
	var issues []ReviewIssue

	for _, fc := range contents {
		issues = append(issues, scanFile(fc)...)
	}
	issues = append(issues, overlapIssues(changes)...)

	report := ReviewReport{
		Issues:      issues,
		Suggestions: suggestions(changes, issues),
		Summary:     summary(changes, issues),
	}
	return report
}

func scanFile(fc FileContent) []ReviewIssue {
	var issues []ReviewIssue
	lines := strings.Split(fc.Content, "\n")

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "<<<<<<<") || strings.HasPrefix(line, ">>>>>>>") || line == "=======":
			issues = append(issues, ReviewIssue{
				File:    fc.Path,
				Line:    i + 1,
				Type:    IssueConflict,
				Message: "unresolved merge conflict marker",
			})
		case strings.Contains(line, "fmt.Println(") && strings.Contains(line, "DEBUG"):
			issues = append(issues, ReviewIssue{
				File:       fc.Path,
				Line:       i + 1,
				Type:       IssueDebugCode,
				Message:    "leftover debug print",
				Suggestion: "remove or replace with structured logging",
			})
		}
	}

	if len(lines) > largeFileLines {
		issues = append(issues, ReviewIssue{
			File:       fc.Path,
			Type:       IssueLargeFile,
			Message:    fmt.Sprintf("file is %d lines", len(lines)),
			Suggestion: "consider splitting before landing",
		})
	}
	return issues
}

// overlapIssues flags files staged by more than one task, since a single
// commit of such a file mixes two tasks' intents.
func overlapIssues(changes []StagedChange) []ReviewIssue {
	owners := make(map[string][]string)
	for _, c := range changes {
		for _, f := range c.Files {
			owners[f] = append(owners[f], c.SpecName)
		}
	}

	var issues []ReviewIssue
	for f, specs := range owners {
		if len(specs) > 1 {
			issues = append(issues, ReviewIssue{
				File:       f,
				Type:       IssueMixedChange,
				Message:    fmt.Sprintf("staged by %d tasks: %s", len(specs), strings.Join(specs, ", ")),
				Suggestion: "commit by_task to keep histories separable",
			})
		}
	}
	return issues
}

func suggestions(changes []StagedChange, issues []ReviewIssue) []string {
	var out []string
	if len(changes) > 1 {
		out = append(out, "multiple tasks staged; by_task commits keep each task revertable")
	}
	for _, is := range issues {
		if is.Type == IssueConflict {
			out = append(out, "resolve conflict markers before committing")
			break
		}
	}
	return out
}

func summary(changes []StagedChange, issues []ReviewIssue) string {
	files := uniqueFiles(changes)
	if len(issues) == 0 {
		return fmt.Sprintf("%d files staged across %d tasks; no issues found", len(files), len(changes))
	}
	return fmt.Sprintf("%d files staged across %d tasks; %d issues found", len(files), len(changes), len(issues))
}
