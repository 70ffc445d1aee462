package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"collabCore/backend/internal/directory"
	"collabCore/backend/internal/store"
	"collabCore/backend/internal/vcs"
)

// VersionHandler 暴露版本仓库操作；repoID 与 docID 一一对应
type VersionHandler struct {
	dir       *directory.Directory
	repos     *vcs.Store
	snapshots *store.SnapshotStore // 可空
}

func NewVersionHandler(dir *directory.Directory, repos *vcs.Store, snapshots *store.SnapshotStore) *VersionHandler {
	return &VersionHandler{dir: dir, repos: repos, snapshots: snapshots}
}

// Commit：把文档当前状态作为一次手动提交写进仓库
func (h *VersionHandler) Commit(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	_ = c.ShouldBindJSON(&req)
	commit, err := h.dir.SnapshotToRepository(c.Param("documentID"), userID, req.Message, vcs.CommitManual)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commitId": commit.ID, "type": commit.Type, "timestamp": commit.Timestamp})
}

// Log：指定分支（缺省为当前检出分支）从 head 往回的提交链，最新的在前
func (h *VersionHandler) Log(c *gin.Context) {
	branch, commits, err := h.repos.History(c.Param("documentID"), c.Query("branch"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branch": branch, "commits": commits})
}

func (h *VersionHandler) Branches(c *gin.Context) {
	branches, err := h.repos.Branches(c.Param("documentID"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branches": branches})
}

func (h *VersionHandler) CreateBranch(c *gin.Context) {
	var req struct {
		Name           string `json:"name"`
		SourceCommitID string `json:"sourceCommitId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing branch name"})
		return
	}
	branch, err := h.repos.CreateBranch(c.Param("documentID"), req.Name, req.SourceCommitID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"branchId": branch.ID, "name": branch.Name, "head": branch.Head})
}

func (h *VersionHandler) Checkout(c *gin.Context) {
	var req struct {
		Branch string `json:"branch"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Branch == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing branch"})
		return
	}
	if err := h.repos.Checkout(c.Param("documentID"), req.Branch); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok", "branch": req.Branch})
}

// Merge：冲突时整单拒绝并返回冲突明细；force=true 按目标优先合并
func (h *VersionHandler) Merge(c *gin.Context) {
	var req struct {
		Source string `json:"source"`
		Target string `json:"target"`
		Force  bool   `json:"force"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Source == "" || req.Target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing source/target"})
		return
	}
	result, err := h.repos.Merge(c.Param("documentID"), req.Source, req.Target, vcs.MergeOptions{Force: req.Force})
	if err != nil {
		fail(c, err)
		return
	}
	if !result.Success {
		c.JSON(http.StatusConflict, gin.H{"conflicts": result.Conflicts, "baseId": result.BaseID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commitId": result.Commit.ID, "baseId": result.BaseID})
}

func (h *VersionHandler) Tag(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		CommitID string `json:"commitId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing tag name"})
		return
	}
	if err := h.repos.CreateTag(c.Param("documentID"), req.Name, req.CommitID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok", "tag": req.Name})
}

func (h *VersionHandler) Rollback(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		CommitID string `json:"commitId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.CommitID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing commitId"})
		return
	}
	commit, err := h.repos.Rollback(c.Param("documentID"), req.CommitID, userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commitId": commit.ID, "type": commit.Type})
}

// Export：全量导出仓库；配置了 MySQL 时顺手落一份（尽力而为）
func (h *VersionHandler) Export(c *gin.Context) {
	repoID := c.Param("documentID")
	data, err := h.repos.Export(repoID)
	if err != nil {
		fail(c, err)
		return
	}
	if h.snapshots != nil {
		_ = h.snapshots.SaveRepositoryExport(c.Request.Context(), repoID, data)
	}
	c.JSON(http.StatusOK, data)
}

func (h *VersionHandler) Import(c *gin.Context) {
	var data vcs.ExportData
	if err := c.ShouldBindJSON(&data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	repo, err := h.repos.Import(&data)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repoId": repo.ID, "head": repo.Head})
}

// ImportStored：从 MySQL 里读回上次导出的仓库并恢复
func (h *VersionHandler) ImportStored(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot store not configured"})
		return
	}
	repoID := c.Param("documentID")
	raw, err := h.snapshots.LoadRepositoryExport(c.Request.Context(), repoID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no stored export"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var data vcs.ExportData
	if err := json.Unmarshal(raw, &data); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	repo, err := h.repos.Import(&data)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repoId": repo.ID, "head": repo.Head})
}
