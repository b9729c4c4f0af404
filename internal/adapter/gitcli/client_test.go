package gitcli

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestParseShortstat(t *testing.T) {
	cases := []struct {
		name              string
		in                string
		files, adds, dels int
	}{
		{"full", " 3 files changed, 42 insertions(+), 7 deletions(-)", 3, 42, 7},
		{"insertions only", " 1 file changed, 10 insertions(+)", 1, 10, 0},
		{"deletions only", " 2 files changed, 5 deletions(-)", 2, 0, 5},
		{"empty", "", 0, 0, 0},
	}
	for _, tc := range cases {
		files, adds, dels := parseShortstat(tc.in)
		if files != tc.files || adds != tc.adds || dels != tc.dels {
			t.Errorf("%s: got (%d,%d,%d), want (%d,%d,%d)",
				tc.name, files, adds, dels, tc.files, tc.adds, tc.dels)
		}
	}
}

func TestSplitLines(t *testing.T) {
	got := splitLines("a.go\n\n  b.go \nc.go\n")
	want := []string{"a.go", "b.go", "c.go"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitLinesEmpty(t *testing.T) {
	if got := splitLines(""); len(got) != 0 {
		t.Fatalf("expected no lines, got %v", got)
	}
}

func TestSplitByHeadPresence(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		restore []string
		remove  []string
	}{
		{"modified", "M\tmain.go", []string{"main.go"}, nil},
		{"deleted", "D\tgone.go", []string{"gone.go"}, nil},
		{"added", "A\tnew.go", nil, []string{"new.go"}},
		{"copied", "C75\tsrc.go\tcopy.go", nil, []string{"copy.go"}},
		{"renamed", "R100\told.go\tnew.go", []string{"old.go"}, []string{"new.go"}},
		{
			"mixed",
			"M\ta.go\nA\tb.go\nD\tc.go",
			[]string{"a.go", "c.go"},
			[]string{"b.go"},
		},
		{"empty", "", nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			restore, remove := splitByHeadPresence(tc.in)
			assertPaths(t, "restore", restore, tc.restore)
			assertPaths(t, "remove", remove, tc.remove)
		})
	}
}

func assertPaths(t *testing.T, label string, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %v, want %v", label, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s[%d]: got %q, want %q", label, i, got[i], want[i])
		}
	}
}

// initTestRepo creates a repo with one committed file and returns its path.
func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("requires git in PATH")
	}

	dir := t.TempDir()
	ctx := context.Background()
	mustGit := func(args ...string) {
		t.Helper()
		if _, err := runGit(ctx, dir, args...); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}

	mustGit("init", "-b", "main")
	mustGit("config", "user.email", "ci@forgeflow.local")
	mustGit("config", "user.name", "forgeflow-ci")

	if err := os.WriteFile(filepath.Join(dir, "base.txt"), []byte("original\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustGit("add", "base.txt")
	mustGit("commit", "-m", "initial")
	return dir
}

func TestUnstageAllRestoresTrackedAndRemovesAdded(t *testing.T) {
	dir := initTestRepo(t)
	ctx := context.Background()

	// Stage a modification to a tracked file and a brand new file.
	if err := os.WriteFile(filepath.Join(dir, "base.txt"), []byte("modified\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "added.txt"), []byte("fresh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runGit(ctx, dir, "add", "-A"); err != nil {
		t.Fatalf("git add: %v", err)
	}

	c := NewClient(nil, nil)
	if err := c.UnstageAll(ctx, dir); err != nil {
		t.Fatalf("UnstageAll: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "base.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "original\n" {
		t.Fatalf("tracked file not restored, got %q", content)
	}
	if _, err := os.Stat(filepath.Join(dir, "added.txt")); !os.IsNotExist(err) {
		t.Fatalf("added file should be removed, stat err = %v", err)
	}

	staged, err := c.StagedFiles(ctx, dir)
	if err != nil {
		t.Fatalf("StagedFiles: %v", err)
	}
	if len(staged) != 0 {
		t.Fatalf("index not empty after UnstageAll: %v", staged)
	}
}

func TestUnstageAllEmptyIndexIsNoop(t *testing.T) {
	dir := initTestRepo(t)

	c := NewClient(nil, nil)
	if err := c.UnstageAll(context.Background(), dir); err != nil {
		t.Fatalf("UnstageAll on clean index: %v", err)
	}
}
