package staging

import (
	"strings"
	"testing"
	"time"
)

func change(taskID, spec string, files ...string) StagedChange {
	return StagedChange{TaskID: taskID, SpecName: spec, Files: files, StagedAt: time.Now()}
}

func TestCommitModeValid(t *testing.T) {
	for _, m := range []CommitMode{ModeAll, ModeByTask, ModePartial} {
		if !m.Valid() {
			t.Fatalf("%s should be valid", m)
		}
	}
	if CommitMode("squash").Valid() {
		t.Fatal("unknown mode should be invalid")
	}
}

func TestGenerateCommitMessageAll(t *testing.T) {
	msg := GenerateCommitMessage(ModeAll, []StagedChange{
		change("t1", "auth-flow", "internal/auth/login.go"),
		change("t2", "auth-tokens", "internal/auth/token.go"),
	})
	if !strings.Contains(msg, "auth-flow") || !strings.Contains(msg, "auth-tokens") {
		t.Fatalf("message should name both specs: %q", msg)
	}
	if !strings.Contains(msg, "(internal)") {
		t.Fatalf("expected common scope in message: %q", msg)
	}
}

func TestGenerateCommitMessageByTaskSingle(t *testing.T) {
	msg := GenerateCommitMessage(ModeByTask, []StagedChange{change("t1", "rate-limiter", "a.go")})
	if msg != "feat(rate-limiter): implement rate limiter" {
		t.Fatalf("unexpected message: %q", msg)
	}
}

func TestGenerateCommitMessageEmpty(t *testing.T) {
	if msg := GenerateCommitMessage(ModeAll, nil); msg != "" {
		t.Fatalf("expected empty message, got %q", msg)
	}
}

func TestReviewFindsConflictMarkers(t *testing.T) {
	report := Review(
		[]StagedChange{change("t1", "auth", "a.go")},
		[]FileContent{{Path: "a.go", Content: "package a\n<<<<<<< HEAD\nx\n=======\ny\n>>>>>>> branch\n"}},
	)
	var conflicts int
	for _, is := range report.Issues {
		if is.Type == IssueConflict {
			conflicts++
		}
	}
	if conflicts != 3 {
		t.Fatalf("expected 3 conflict-marker issues, got %d", conflicts)
	}
	if len(report.Suggestions) == 0 {
		t.Fatal("expected a resolve-conflicts suggestion")
	}
}

func TestReviewFlagsMixedChanges(t *testing.T) {
	report := Review([]StagedChange{
		change("t1", "auth", "shared.go"),
		change("t2", "billing", "shared.go"),
	}, nil)

	var mixed bool
	for _, is := range report.Issues {
		if is.Type == IssueMixedChange && is.File == "shared.go" {
			mixed = true
		}
	}
	if !mixed {
		t.Fatalf("expected mixed_change issue, got %+v", report.Issues)
	}
}

func TestReviewCleanSummary(t *testing.T) {
	report := Review(
		[]StagedChange{change("t1", "auth", "a.go", "b.go")},
		[]FileContent{{Path: "a.go", Content: "package a\n"}},
	)
	if len(report.Issues) != 0 {
		t.Fatalf("expected no issues, got %+v", report.Issues)
	}
	if !strings.Contains(report.Summary, "no issues") {
		t.Fatalf("unexpected summary: %q", report.Summary)
	}
}
