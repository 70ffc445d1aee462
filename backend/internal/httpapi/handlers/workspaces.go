package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"collabCore/backend/internal/directory"
	"collabCore/backend/internal/presence"
)

type WorkspaceHandler struct {
	dir     *directory.Directory
	tracker *presence.Tracker
}

func NewWorkspaceHandler(dir *directory.Directory, tracker *presence.Tracker) *WorkspaceHandler {
	return &WorkspaceHandler{dir: dir, tracker: tracker}
}

func (h *WorkspaceHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		req.Name = "New Workspace"
	}
	ws, err := h.dir.CreateWorkspace(c.Request.Context(), req.Name, userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workspaceId": ws.ID, "name": ws.Name, "createdAt": ws.CreatedAt})
}

func (h *WorkspaceHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.dir.DeleteWorkspace(c.Param("workspaceID"), userID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func (h *WorkspaceHandler) Join(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.dir.JoinWorkspace(c.Param("workspaceID"), userID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "joined"})
}

func (h *WorkspaceHandler) Invite(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"userId"`
		Role   string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing userId"})
		return
	}
	err := h.dir.Invite(c.Param("workspaceID"), userID, req.UserID, directory.Role(req.Role))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "invited"})
}

func (h *WorkspaceHandler) Get(c *gin.Context) {
	ws, err := h.dir.GetWorkspace(c.Param("workspaceID"))
	if err != nil {
		fail(c, err)
		return
	}
	members := make([]string, 0, len(ws.Members))
	for id := range ws.Members {
		members = append(members, id)
	}
	c.JSON(http.StatusOK, gin.H{
		"workspaceId": ws.ID,
		"name":        ws.Name,
		"members":     members,
		"createdAt":   ws.CreatedAt,
	})
}

// 工作区维度的在线名单（只含 online 状态的成员）
func (h *WorkspaceHandler) Presence(c *gin.Context) {
	records := h.tracker.GetWorkspacePresence(c.Param("workspaceID"))
	c.JSON(http.StatusOK, gin.H{"members": records, "count": len(records)})
}

func (h *WorkspaceHandler) PresenceStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.GetPresenceStats())
}
