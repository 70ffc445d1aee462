package vcs

import (
	"testing"
)

// base -> 两个分支各改不同路径 -> 干净合并
func TestMerge_CleanMerge(t *testing.T) {
	s := newTestStore()
	s.Init("doc1", "doc", "alice")
	s.Commit("doc1", map[string]any{"wacc": 0.08}, "alice", "base", CommitManual)

	if _, err := s.CreateBranch("doc1", "scenario", ""); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}
	if err := s.Checkout("doc1", "scenario"); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	s.Commit("doc1", map[string]any{"growth": 0.03}, "bob", "scenario change", CommitManual)

	s.Checkout("doc1", "main")
	s.Commit("doc1", map[string]any{"taxRate": 0.25}, "alice", "main change", CommitManual)

	result, err := s.Merge("doc1", "scenario", "main", MergeOptions{})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("merge rejected without conflicts: %+v", result.Conflicts)
	}
	if result.Commit.Type != CommitMerge || result.Commit.MergedID == "" {
		t.Fatalf("merge commit malformed: %+v", result.Commit)
	}
	// 两边的变更都进合并提交
	if result.Commit.Changes["growth"] != 0.03 || result.Commit.Changes["taxRate"] != 0.25 {
		t.Fatalf("merged changes = %v", result.Commit.Changes)
	}

	repo, _ := s.Get("doc1")
	if repo.Branches["main"].Head != result.Commit.ID {
		t.Fatalf("target head not advanced")
	}
	// 被合入分支保持原样
	if repo.Branches["scenario"].Head == result.Commit.ID {
		t.Fatalf("source head must not move")
	}
}

// 同路径改成不同值：冲突整单拒绝，不动任何状态
func TestMerge_ConflictRejectsWithoutMutation(t *testing.T) {
	s := newTestStore()
	s.Init("doc1", "doc", "alice")
	s.Commit("doc1", map[string]any{"wacc": 0.08}, "alice", "base", CommitManual)

	s.CreateBranch("doc1", "scenario", "")
	s.Checkout("doc1", "scenario")
	s.Commit("doc1", map[string]any{"wacc": 0.10}, "bob", "aggressive", CommitManual)

	s.Checkout("doc1", "main")
	s.Commit("doc1", map[string]any{"wacc": 0.12}, "alice", "conservative", CommitManual)
	mainHead := mustBranch(t, s, "doc1", "main").Head

	result, err := s.Merge("doc1", "scenario", "main", MergeOptions{})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if result.Success {
		t.Fatalf("conflicting merge succeeded")
	}
	if len(result.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v, want one on wacc", result.Conflicts)
	}
	cf := result.Conflicts[0]
	if cf.Path != "wacc" || cf.Source != 0.10 || cf.Target != 0.12 {
		t.Fatalf("conflict detail = %+v", cf)
	}
	if mustBranch(t, s, "doc1", "main").Head != mainHead {
		t.Fatalf("rejected merge mutated target branch")
	}

	// 同路径同值不算冲突
	s.Checkout("doc1", "scenario")
	s.Commit("doc1", map[string]any{"wacc": 0.12}, "bob", "agree", CommitManual)
	result, err = s.Merge("doc1", "scenario", "main", MergeOptions{})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("identical values flagged as conflict: %+v", result.Conflicts)
	}
}

func TestMerge_ForceTargetWins(t *testing.T) {
	s := newTestStore()
	s.Init("doc1", "doc", "alice")
	s.Commit("doc1", map[string]any{"wacc": 0.08}, "alice", "base", CommitManual)

	s.CreateBranch("doc1", "scenario", "")
	s.Checkout("doc1", "scenario")
	s.Commit("doc1", map[string]any{"wacc": 0.10, "growth": 0.03}, "bob", "scenario", CommitManual)

	s.Checkout("doc1", "main")
	s.Commit("doc1", map[string]any{"wacc": 0.12}, "alice", "main", CommitManual)

	result, err := s.Merge("doc1", "scenario", "main", MergeOptions{Force: true})
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("forced merge failed")
	}
	// 冲突路径目标分支胜出，其余取并集
	if result.Commit.Changes["wacc"] != 0.12 {
		t.Fatalf("wacc = %v, want target value 0.12", result.Commit.Changes["wacc"])
	}
	if result.Commit.Changes["growth"] != 0.03 {
		t.Fatalf("growth = %v, want 0.03", result.Commit.Changes["growth"])
	}
	// 冲突清单仍然返回，供前端提示
	if len(result.Conflicts) != 1 {
		t.Fatalf("conflicts = %+v", result.Conflicts)
	}
}

func TestMerge_UnknownBranch(t *testing.T) {
	s := newTestStore()
	s.Init("doc1", "doc", "alice")
	if _, err := s.Merge("doc1", "nope", "main", MergeOptions{}); err != ErrBranchNotFound {
		t.Fatalf("error = %v, want ErrBranchNotFound", err)
	}
}

func mustBranch(t *testing.T, s *Store, repoID, name string) *Branch {
	t.Helper()
	repo, err := s.Get(repoID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	b := repo.Branches[name]
	if b == nil {
		t.Fatalf("branch %q missing", name)
	}
	return b
}
