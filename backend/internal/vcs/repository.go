package vcs

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRepositoryNotFound  = errors.New("REPOSITORY_NOT_FOUND")
	ErrBranchNotFound      = errors.New("BRANCH_NOT_FOUND")
	ErrCommitNotFound      = errors.New("COMMIT_NOT_FOUND")
	ErrNoActiveBranch      = errors.New("NO_ACTIVE_BRANCH")
	ErrBranchLimitExceeded = errors.New("BRANCH_LIMIT_EXCEEDED")
	ErrBranchExists        = errors.New("BRANCH_EXISTS")
)

type CommitType string

const (
	CommitInitial  CommitType = "initial"
	CommitAuto     CommitType = "auto"
	CommitManual   CommitType = "manual"
	CommitMerge    CommitType = "merge"
	CommitRollback CommitType = "rollback"
)

// Commit 不可变；Changes 是相对父提交的 点分路径 -> 值 差异
type Commit struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	// merge 提交的第二个父（被合入分支的头）
	MergedID  string         `json:"mergedId,omitempty"`
	Author    string         `json:"author"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Changes   map[string]any `json:"changes"`
	Type      CommitType     `json:"type"`
}

type Branch struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Head string `json:"head"`
	// 从根到头的有序提交 ID 列表
	Commits []string `json:"commits"`
}

// Repository 的可变状态只有分支和 Head 指针；提交只增不改
type Repository struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Branches      map[string]*Branch `json:"branches"`
	Commits       []*Commit          `json:"commits"`
	Tags          map[string]string  `json:"tags"` // tag 名 -> commit ID
	Head          string             `json:"head"` // 当前检出的分支名
	DefaultBranch string             `json:"defaultBranch"`
	CreatedAt     time.Time          `json:"createdAt"`

	index map[string]*Commit
}

type Options struct {
	MaxBranches int // 超过即 ErrBranchLimitExceeded
	MaxVersions int // 提交数上限，超过触发裁剪
}

func DefaultOptions() Options {
	return Options{MaxBranches: 50, MaxVersions: 1000}
}

// Store 持有全部仓库。与操作日志互不感知，只消费目录层喂进来的变更集
type Store struct {
	mu    sync.RWMutex
	repos map[string]*Repository
	opt   Options
}

func NewStore(opt Options) *Store {
	if opt.MaxBranches <= 0 {
		opt.MaxBranches = DefaultOptions().MaxBranches
	}
	if opt.MaxVersions <= 0 {
		opt.MaxVersions = DefaultOptions().MaxVersions
	}
	return &Store{repos: make(map[string]*Repository), opt: opt}
}

// Init 初始化仓库：默认分支 main + 合成根提交
func (s *Store) Init(repoID, name, author string) (*Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if repoID == "" {
		repoID = uuid.NewString()
	}
	if repo := s.repos[repoID]; repo != nil {
		return repo, nil
	}

	root := &Commit{
		ID:        uuid.NewString(),
		Author:    author,
		Message:   "repository initialized",
		Timestamp: time.Now(),
		Changes:   map[string]any{},
		Type:      CommitInitial,
	}
	main := &Branch{
		ID:      uuid.NewString(),
		Name:    "main",
		Head:    root.ID,
		Commits: []string{root.ID},
	}
	repo := &Repository{
		ID:            repoID,
		Name:          name,
		Branches:      map[string]*Branch{"main": main},
		Commits:       []*Commit{root},
		Tags:          make(map[string]string),
		Head:          "main",
		DefaultBranch: "main",
		CreatedAt:     time.Now(),
		index:         map[string]*Commit{root.ID: root},
	}
	s.repos[repoID] = repo
	return repo, nil
}

// Get 返回仓库的只读快照。宿主的读请求和写请求并发跑，
// 把活指针交出去等于把锁的职责推给调用方
func (s *Store) Get(repoID string) (*Repository, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo := s.repos[repoID]
	if repo == nil {
		return nil, ErrRepositoryNotFound
	}
	return snapshotRepo(repo), nil
}

// snapshotRepo 拷贝所有可变结构；Commit 入库后不可变，指针共享安全
func snapshotRepo(repo *Repository) *Repository {
	out := &Repository{
		ID:            repo.ID,
		Name:          repo.Name,
		Branches:      make(map[string]*Branch, len(repo.Branches)),
		Commits:       append([]*Commit{}, repo.Commits...),
		Tags:          make(map[string]string, len(repo.Tags)),
		Head:          repo.Head,
		DefaultBranch: repo.DefaultBranch,
		CreatedAt:     repo.CreatedAt,
		index:         make(map[string]*Commit, len(repo.index)),
	}
	for name, b := range repo.Branches {
		cp := *b
		cp.Commits = append([]string{}, b.Commits...)
		out.Branches[name] = &cp
	}
	for k, v := range repo.Tags {
		out.Tags[k] = v
	}
	for id, c := range repo.index {
		out.index[id] = c
	}
	return out
}

// BranchSummary 分支列表的对外视图
type BranchSummary struct {
	Name    string `json:"name"`
	Head    string `json:"head"`
	Commits int    `json:"commits"`
	Current bool   `json:"current"`
}

// Branches 在锁内收集分支概要，按名字排序保证输出稳定
func (s *Store) Branches(repoID string) ([]BranchSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo := s.repos[repoID]
	if repo == nil {
		return nil, ErrRepositoryNotFound
	}
	out := make([]BranchSummary, 0, len(repo.Branches))
	for name, b := range repo.Branches {
		out = append(out, BranchSummary{
			Name:    name,
			Head:    b.Head,
			Commits: len(b.Commits),
			Current: name == repo.Head,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// History 返回指定分支（空串取当前检出分支）从头往回的提交链，最新的在前
func (s *Store) History(repoID, branchName string) (string, []*Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo := s.repos[repoID]
	if repo == nil {
		return "", nil, ErrRepositoryNotFound
	}
	if branchName == "" {
		branchName = repo.Head
	}
	branch := repo.Branches[branchName]
	if branch == nil {
		return "", nil, ErrBranchNotFound
	}
	out := make([]*Commit, 0, len(branch.Commits))
	for i := len(branch.Commits) - 1; i >= 0; i-- {
		if c := repo.index[branch.Commits[i]]; c != nil {
			out = append(out, c)
		}
	}
	return branchName, out, nil
}

func (s *Store) Delete(repoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.repos[repoID]; !ok {
		return ErrRepositoryNotFound
	}
	delete(s.repos, repoID)
	return nil
}

// Commit 总是追加到当前检出分支的头上
func (s *Store) Commit(repoID string, changes map[string]any, author, message string, typ CommitType) (*Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo := s.repos[repoID]
	if repo == nil {
		return nil, ErrRepositoryNotFound
	}
	branch := repo.Branches[repo.Head]
	if branch == nil {
		// 初始化之后不应该出现，防御
		return nil, ErrNoActiveBranch
	}
	if typ == "" {
		typ = CommitManual
	}

	c := &Commit{
		ID:        uuid.NewString(),
		ParentID:  branch.Head,
		Author:    author,
		Message:   message,
		Timestamp: time.Now(),
		Changes:   copyChanges(changes),
		Type:      typ,
	}
	repo.Commits = append(repo.Commits, c)
	repo.index[c.ID] = c
	branch.Commits = append(branch.Commits, c.ID)
	branch.Head = c.ID

	s.pruneLocked(repo)
	return c, nil
}

func (s *Store) CreateBranch(repoID, name, sourceCommitID string) (*Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo := s.repos[repoID]
	if repo == nil {
		return nil, ErrRepositoryNotFound
	}
	if len(repo.Branches) >= s.opt.MaxBranches {
		return nil, ErrBranchLimitExceeded
	}
	if _, ok := repo.Branches[name]; ok {
		return nil, ErrBranchExists
	}

	if sourceCommitID == "" {
		if cur := repo.Branches[repo.Head]; cur != nil {
			sourceCommitID = cur.Head
		}
	}
	if _, ok := repo.index[sourceCommitID]; !ok {
		return nil, ErrCommitNotFound
	}

	branch := &Branch{
		ID:      uuid.NewString(),
		Name:    name,
		Head:    sourceCommitID,
		Commits: chainTo(repo, sourceCommitID),
	}
	repo.Branches[name] = branch
	return branch, nil
}

// Checkout 只改 Head 指针，不动任何数据
func (s *Store) Checkout(repoID, branchName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo := s.repos[repoID]
	if repo == nil {
		return ErrRepositoryNotFound
	}
	if _, ok := repo.Branches[branchName]; !ok {
		return ErrBranchNotFound
	}
	repo.Head = branchName
	return nil
}

func (s *Store) CreateTag(repoID, name, commitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo := s.repos[repoID]
	if repo == nil {
		return ErrRepositoryNotFound
	}
	if _, ok := repo.index[commitID]; !ok {
		return ErrCommitNotFound
	}
	repo.Tags[name] = commitID
	return nil
}

// Rollback 生成 rollback 类型的提交，内容是目标提交时刻的累计快照
func (s *Store) Rollback(repoID, commitID, author string) (*Commit, error) {
	s.mu.Lock()
	snapshot, err := func() (map[string]any, error) {
		repo := s.repos[repoID]
		if repo == nil {
			return nil, ErrRepositoryNotFound
		}
		if _, ok := repo.index[commitID]; !ok {
			return nil, ErrCommitNotFound
		}
		return accumulate(repo, commitID), nil
	}()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Commit(repoID, snapshot, author, "rollback to "+commitID, CommitRollback)
}

// pruneLocked：提交数超限时淘汰最老的提交，并把指向被淘汰提交的分支头
// 重新指到仍存活的最近祖先。分支永远不会指向不存在的提交
func (s *Store) pruneLocked(repo *Repository) {
	if len(repo.Commits) <= s.opt.MaxVersions {
		return
	}
	drop := len(repo.Commits) - s.opt.MaxVersions
	for _, c := range repo.Commits[:drop] {
		delete(repo.index, c.ID)
	}
	repo.Commits = append([]*Commit{}, repo.Commits[drop:]...)

	for _, branch := range repo.Branches {
		kept := branch.Commits[:0]
		for _, id := range branch.Commits {
			if _, ok := repo.index[id]; ok {
				kept = append(kept, id)
			}
		}
		branch.Commits = kept
		if _, ok := repo.index[branch.Head]; !ok {
			if len(kept) > 0 {
				branch.Head = kept[len(kept)-1]
			} else {
				// 整条链都被淘汰，退回仓库里最老的存活提交
				branch.Head = repo.Commits[0].ID
				branch.Commits = []string{repo.Commits[0].ID}
			}
		}
	}
}

// chainTo 沿父指针回溯，返回 根 -> commitID 的有序 ID 列表
func chainTo(repo *Repository, commitID string) []string {
	var rev []string
	for id := commitID; id != ""; {
		c, ok := repo.index[id]
		if !ok {
			break
		}
		rev = append(rev, id)
		id = c.ParentID
	}
	out := make([]string, len(rev))
	for i, id := range rev {
		out[len(rev)-1-i] = id
	}
	return out
}

// accumulate 从根重放到 commitID，得到该时刻的完整路径快照
func accumulate(repo *Repository, commitID string) map[string]any {
	state := make(map[string]any)
	for _, id := range chainTo(repo, commitID) {
		c := repo.index[id]
		for path, v := range c.Changes {
			state[path] = v
		}
	}
	return state
}

func copyChanges(changes map[string]any) map[string]any {
	out := make(map[string]any, len(changes))
	for k, v := range changes {
		out[k] = v
	}
	return out
}
