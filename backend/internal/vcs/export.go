package vcs

import (
	"encoding/json"
	"time"
)

// ExportData：仓库全量状态的可序列化形式。Export/Import 必须无损往返
type ExportData struct {
	Repository RepositoryMeta     `json:"repository"`
	Branches   map[string]*Branch `json:"branches"`
	Commits    []*Commit          `json:"commits"`
	Tags       map[string]string  `json:"tags"`
	ExportedAt time.Time          `json:"exportedAt"`
}

type RepositoryMeta struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Head          string    `json:"head"`
	DefaultBranch string    `json:"defaultBranch"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (s *Store) Export(repoID string) (*ExportData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repo := s.repos[repoID]
	if repo == nil {
		return nil, ErrRepositoryNotFound
	}

	// 深拷贝走 JSON 往返：导出对象与在库对象不共享内存
	raw, err := json.Marshal(ExportData{
		Repository: RepositoryMeta{
			ID:            repo.ID,
			Name:          repo.Name,
			Head:          repo.Head,
			DefaultBranch: repo.DefaultBranch,
			CreatedAt:     repo.CreatedAt,
		},
		Branches:   repo.Branches,
		Commits:    repo.Commits,
		Tags:       repo.Tags,
		ExportedAt: time.Now(),
	})
	if err != nil {
		return nil, err
	}
	var out ExportData
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Import 重建仓库（同 ID 存在则整体替换）
func (s *Store) Import(data *ExportData) (*Repository, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var dup ExportData
	if err := json.Unmarshal(raw, &dup); err != nil {
		return nil, err
	}

	repo := &Repository{
		ID:            dup.Repository.ID,
		Name:          dup.Repository.Name,
		Branches:      dup.Branches,
		Commits:       dup.Commits,
		Tags:          dup.Tags,
		Head:          dup.Repository.Head,
		DefaultBranch: dup.Repository.DefaultBranch,
		CreatedAt:     dup.Repository.CreatedAt,
		index:         make(map[string]*Commit, len(dup.Commits)),
	}
	if repo.Branches == nil {
		repo.Branches = make(map[string]*Branch)
	}
	if repo.Tags == nil {
		repo.Tags = make(map[string]string)
	}
	for _, c := range repo.Commits {
		repo.index[c.ID] = c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[repo.ID] = repo
	return repo, nil
}
