package vcs

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Conflict：同一路径在两条分支上自合并基以来被改成了不同的值。
// 冲突是数据不是错误，调用方拿去渲染解决界面
type Conflict struct {
	Path   string `json:"path"`
	Source any    `json:"source"` // 被合入分支（source）的值
	Target any    `json:"target"` // 目标分支的值
}

type MergeOptions struct {
	Force bool // 强制合并：无视冲突，目标分支的值胜出
}

type MergeResult struct {
	Success   bool       `json:"success"`
	Commit    *Commit    `json:"commit,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	BaseID    string     `json:"baseId,omitempty"`
}

// Merge 把 source 分支合入 target 分支。
// 有冲突且未 Force 时不改动任何状态，只返回冲突清单
func (s *Store) Merge(repoID, source, target string, opt MergeOptions) (*MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo := s.repos[repoID]
	if repo == nil {
		return nil, ErrRepositoryNotFound
	}
	src := repo.Branches[source]
	dst := repo.Branches[target]
	if src == nil || dst == nil {
		return nil, ErrBranchNotFound
	}

	// 合并基：沿 source 链从头往回走，第一个也出现在 target 链上的提交
	base := mergeBase(src, dst)
	if base == "" {
		return nil, fmt.Errorf("no common ancestor between %q and %q", source, target)
	}

	srcChanges := changesSince(repo, src, base)
	dstChanges := changesSince(repo, dst, base)

	var conflicts []Conflict
	for path, sv := range srcChanges {
		if tv, ok := dstChanges[path]; ok && !reflect.DeepEqual(sv, tv) {
			conflicts = append(conflicts, Conflict{Path: path, Source: sv, Target: tv})
		}
	}
	if len(conflicts) > 0 && !opt.Force {
		return &MergeResult{Success: false, Conflicts: conflicts, BaseID: base}, nil
	}

	// 并集，重叠处目标分支胜出
	merged := make(map[string]any, len(srcChanges)+len(dstChanges))
	for path, v := range srcChanges {
		merged[path] = v
	}
	for path, v := range dstChanges {
		merged[path] = v
	}

	c := newMergeCommit(dst.Head, src.Head, merged, fmt.Sprintf("merge %s into %s", source, target))
	repo.Commits = append(repo.Commits, c)
	repo.index[c.ID] = c
	dst.Commits = append(dst.Commits, c.ID)
	dst.Head = c.ID
	s.pruneLocked(repo)

	return &MergeResult{Success: true, Commit: c, Conflicts: conflicts, BaseID: base}, nil
}

func newMergeCommit(parentID, mergedID string, changes map[string]any, message string) *Commit {
	return &Commit{
		ID:        uuid.NewString(),
		ParentID:  parentID,
		MergedID:  mergedID,
		Author:    "system",
		Message:   message,
		Timestamp: time.Now(),
		Changes:   changes,
		Type:      CommitMerge,
	}
}

func mergeBase(src, dst *Branch) string {
	onTarget := make(map[string]struct{}, len(dst.Commits))
	for _, id := range dst.Commits {
		onTarget[id] = struct{}{}
	}
	for i := len(src.Commits) - 1; i >= 0; i-- {
		if _, ok := onTarget[src.Commits[i]]; ok {
			return src.Commits[i]
		}
	}
	return ""
}

// changesSince 收集分支上 base 之后的逐路径变更；同分支内靠后的提交覆盖靠前的
func changesSince(repo *Repository, branch *Branch, baseID string) map[string]any {
	out := make(map[string]any)
	// 从头往回走到 base，先见者（更新的提交）优先
	for i := len(branch.Commits) - 1; i >= 0; i-- {
		id := branch.Commits[i]
		if id == baseID {
			break
		}
		c, ok := repo.index[id]
		if !ok {
			continue
		}
		for path, v := range c.Changes {
			if _, exists := out[path]; !exists {
				out[path] = v
			}
		}
	}
	return out
}
