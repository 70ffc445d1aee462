package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"collabCore/backend/internal/directory"
	"collabCore/backend/internal/op"
	"collabCore/backend/internal/presence"
	"collabCore/backend/internal/store"
)

type DocumentHandler struct {
	dir       *directory.Directory
	tracker   *presence.Tracker
	snapshots *store.SnapshotStore // 可空：没配 MySQL 时只走内存
}

func NewDocumentHandler(dir *directory.Directory, tracker *presence.Tracker, snapshots *store.SnapshotStore) *DocumentHandler {
	return &DocumentHandler{dir: dir, tracker: tracker, snapshots: snapshots}
}

func (h *DocumentHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		WorkspaceID string         `json:"workspaceId"`
		Initial     map[string]any `json:"initial"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.WorkspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing workspaceId"})
		return
	}
	doc, err := h.dir.CreateDocument(c.Request.Context(), req.WorkspaceID, userID, req.Initial)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"docId":       doc.ID,
		"workspaceId": doc.WorkspaceID,
		"createdAt":   doc.CreatedAt.Format(time.RFC3339),
	})
}

// State：物化后的全量文档树（HTTP 拉取入口，ws 之外的兜底）
func (h *DocumentHandler) State(c *gin.Context) {
	docID := c.Param("documentID")
	state, err := h.dir.GetDocumentState(docID)
	if err != nil {
		fail(c, err)
		return
	}
	doc, err := h.dir.GetDocument(docID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "version": doc.Version, "state": state})
}

// Operations：按全序输出历史；?afterLamport= 用于断线追平
func (h *DocumentHandler) Operations(c *gin.Context) {
	docID := c.Param("documentID")
	// 解析失败按 0 处理，返回全量
	after, _ := strconv.ParseInt(c.Query("afterLamport"), 10, 64)
	ops, err := h.dir.OperationsSince(docID, after)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "operations": ops, "count": len(ops)})
}

// Apply：HTTP 提交操作（脚本和测试用；交互式客户端走 ws）
func (h *DocumentHandler) Apply(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var operation op.Operation
	if err := c.ShouldBindJSON(&operation); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	docID := c.Param("documentID")
	applied, state, err := h.dir.ApplyEdit(c.Request.Context(), docID, &operation, userID)
	if err != nil {
		fail(c, err)
		return
	}
	doc, _ := h.dir.GetDocument(docID)
	resp := gin.H{"operationId": applied.ID, "state": state}
	if doc != nil {
		resp["version"] = doc.Version
	}
	c.JSON(http.StatusOK, resp)
}

func (h *DocumentHandler) Presence(c *gin.Context) {
	records := h.tracker.GetDocumentPresence(c.Param("documentID"))
	c.JSON(http.StatusOK, gin.H{"members": records, "count": len(records)})
}

func (h *DocumentHandler) Cursors(c *gin.Context) {
	cursors := h.tracker.GetDocumentCursors(c.Param("documentID"))
	c.JSON(http.StatusOK, gin.H{"cursors": cursors})
}

// Persist：把当前状态落到 MySQL 快照表（崩溃恢复用）
func (h *DocumentHandler) Persist(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot store not configured"})
		return
	}
	docID := c.Param("documentID")
	state, err := h.dir.GetDocumentState(docID)
	if err != nil {
		fail(c, err)
		return
	}
	doc, err := h.dir.GetDocument(docID)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.snapshots.SaveDocumentSnapshot(c.Request.Context(), docID, doc.Version, state); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"docId": docID, "version": doc.Version})
}
