package cache

import "fmt"

// 键语义：
// - docRoomKey(docID):      文档房间在线成员（ZSet<userID, expireAtUnix>，score=expireAt）
// - wsRoomKey(workspaceID): 工作区在线成员（ZSet，同上）
// - cursorKey(docID, uid):  光标 JSON（String，带 TTL）

const (
	keyDocRoomFmt = "presence:doc:{docID:%s}"
	keyWsRoomFmt  = "presence:ws:{wsID:%s}"
	keyCursorFmt  = "presence:cursor:{docID:%s}:{userID:%s}"
)

func docRoomKey(docID string) string        { return fmt.Sprintf(keyDocRoomFmt, docID) }
func wsRoomKey(workspaceID string) string   { return fmt.Sprintf(keyWsRoomFmt, workspaceID) }
func cursorKey(docID, userID string) string { return fmt.Sprintf(keyCursorFmt, docID, userID) }
