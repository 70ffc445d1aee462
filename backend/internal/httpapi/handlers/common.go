package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"collabCore/backend/internal/directory"
	"collabCore/backend/internal/op"
	"collabCore/backend/internal/oplog"
	"collabCore/backend/internal/vcs"
)

// 统一把领域错误翻译成 HTTP 状态码；前端只看 body 里的 error 字段
func statusFor(err error) int {
	switch {
	case errors.Is(err, directory.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, directory.ErrWorkspaceNotFound),
		errors.Is(err, directory.ErrDocumentNotFound),
		errors.Is(err, oplog.ErrDocumentNotFound),
		errors.Is(err, vcs.ErrRepositoryNotFound),
		errors.Is(err, vcs.ErrBranchNotFound),
		errors.Is(err, vcs.ErrCommitNotFound):
		return http.StatusNotFound
	case errors.Is(err, vcs.ErrBranchExists),
		errors.Is(err, vcs.ErrBranchLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, op.ErrInvalidOperation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// 从鉴权中间件注入的上下文里取用户身份
func currentUser(c *gin.Context) (string, bool) {
	v, ok := c.Get("userId")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	userID, ok := v.(string)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}
