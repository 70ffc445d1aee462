package vcs

import (
	"testing"
)

func TestExportImport_RoundTrip(t *testing.T) {
	s := newTestStore()
	s.Init("doc1", "doc:doc1", "alice")
	c, _ := s.Commit("doc1", map[string]any{"wacc": 0.08}, "alice", "base", CommitManual)
	s.CreateBranch("doc1", "scenario", "")
	s.CreateTag("doc1", "v1.0", c.ID)

	data, err := s.Export("doc1")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if data.Repository.ID != "doc1" || data.ExportedAt.IsZero() {
		t.Fatalf("export meta = %+v", data.Repository)
	}

	// 导入到另一个空 store，结构必须完整复现
	dst := newTestStore()
	repo, err := dst.Import(data)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if repo.Head != "main" || len(repo.Branches) != 2 {
		t.Fatalf("imported repo = head %q, %d branches", repo.Head, len(repo.Branches))
	}
	if repo.Tags["v1.0"] != c.ID {
		t.Fatalf("tags lost on import: %v", repo.Tags)
	}

	// 导入后的仓库可以继续提交
	if _, err := dst.Commit("doc1", map[string]any{"growth": 0.02}, "bob", "after import", CommitManual); err != nil {
		t.Fatalf("Commit() after import error = %v", err)
	}
}

func TestExport_NoSharedMemory(t *testing.T) {
	s := newTestStore()
	s.Init("doc1", "doc", "alice")
	s.Commit("doc1", map[string]any{"wacc": 0.08}, "alice", "base", CommitManual)

	data, err := s.Export("doc1")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	// 改导出的数据，不能影响在库仓库
	data.Branches["main"].Head = "tampered"
	for _, c := range data.Commits {
		c.Message = "tampered"
	}

	repo, _ := s.Get("doc1")
	if repo.Branches["main"].Head == "tampered" {
		t.Fatalf("export shares branch memory with store")
	}
	for _, c := range repo.Commits {
		if c.Message == "tampered" {
			t.Fatalf("export shares commit memory with store")
		}
	}
}

func TestExport_MissingRepository(t *testing.T) {
	s := newTestStore()
	if _, err := s.Export("nope"); err != ErrRepositoryNotFound {
		t.Fatalf("error = %v, want ErrRepositoryNotFound", err)
	}
}
