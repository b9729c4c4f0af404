package worktree

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RiskLevel classifies the conflict exposure between two worktrees.
type RiskLevel string

const (
	RiskNone   RiskLevel = "none"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// highRiskThreshold is the shared-file count above which a pair is
// classified high risk. Any smaller non-empty intersection is medium.
const highRiskThreshold = 5

// ConflictRisk describes the pairwise overlap between two worktrees.
type ConflictRisk struct {
	WorktreeA        string    `json:"worktree_a"`
	WorktreeB        string    `json:"worktree_b"`
	ConflictingFiles []string  `json:"conflicting_files"`
	RiskLevel        RiskLevel `json:"risk_level"`
}

// MergeOrder is a suggested total order over all active worktrees.
type MergeOrder struct {
	Order  []string `json:"order"`
	Reason string   `json:"reason"`
}

// ChangeSet is the analyzer's view of one active worktree: its changed
// files and last activity time. The analyzer is pure over these inputs.
type ChangeSet struct {
	SpecName       string
	Files          []string
	LastActivityAt time.Time
}

// ConflictRisks computes pairwise conflict risk for every pair of change
// sets. Pairs with an empty intersection are omitted (risk none).
func ConflictRisks(sets []ChangeSet) []ConflictRisk {
	indexed := make([]map[string]struct{}, len(sets))
	for i, cs := range sets {
		m := make(map[string]struct{}, len(cs.Files))
		for _, f := range cs.Files {
			m[f] = struct{}{}
		}
		indexed[i] = m
	}

	var risks []ConflictRisk
	for i := range sets {
		for j := i + 1; j < len(sets); j++ {
			var common []string
			for f := range indexed[i] {
				if _, ok := indexed[j][f]; ok {
					common = append(common, f)
				}
			}
			if len(common) == 0 {
				continue
			}
			sort.Strings(common)

			level := RiskMedium
			if len(common) > highRiskThreshold {
				level = RiskHigh
			}
			risks = append(risks, ConflictRisk{
				WorktreeA:        sets[i].SpecName,
				WorktreeB:        sets[j].SpecName,
				ConflictingFiles: common,
				RiskLevel:        level,
			})
		}
	}
	return risks
}

// SuggestMergeOrder returns a permutation of all spec names ordered so
// that worktrees with the fewest outstanding conflicts and the oldest
// activity merge first. Later merges then resolve against an
// already-settled base. The result contains each spec exactly once.
func SuggestMergeOrder(sets []ChangeSet) MergeOrder {
	risks := ConflictRisks(sets)

	conflictFiles := make(map[string]int, len(sets))
	for _, cs := range sets {
		conflictFiles[cs.SpecName] = 0
	}
	for _, r := range risks {
		conflictFiles[r.WorktreeA] += len(r.ConflictingFiles)
		conflictFiles[r.WorktreeB] += len(r.ConflictingFiles)
	}

	ordered := make([]ChangeSet, len(sets))
	copy(ordered, sets)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if conflictFiles[a.SpecName] != conflictFiles[b.SpecName] {
			return conflictFiles[a.SpecName] < conflictFiles[b.SpecName]
		}
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.Before(b.LastActivityAt)
		}
		return a.SpecName < b.SpecName
	})

	order := make([]string, len(ordered))
	for i, cs := range ordered {
		order[i] = cs.SpecName
	}

	return MergeOrder{
		Order:  order,
		Reason: mergeOrderReason(order, conflictFiles),
	}
}

func mergeOrderReason(order []string, conflictFiles map[string]int) string {
	if len(order) == 0 {
		return "no active worktrees"
	}
	var conflicted int
	for _, n := range conflictFiles {
		if n > 0 {
			conflicted++
		}
	}
	if conflicted == 0 {
		return fmt.Sprintf("%d worktrees share no files; ordered oldest-first", len(order))
	}
	return fmt.Sprintf(
		"fewest conflicting files merge first (%s leads), oldest activity breaks ties; %d of %d worktrees overlap",
		strings.Join(order[:1], ""), conflicted, len(order),
	)
}
