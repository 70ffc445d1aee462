package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache：presence 的共享落地（多实例部署时同步在线状态用）。
// 内存 Tracker 是权威；这里只做尽力而为的 write-through
type PresenceCache interface {
	Touch(ctx context.Context, workspaceID, docID, userID string, ttl time.Duration) error
	AliveDocumentMembers(ctx context.Context, docID string) ([]string, error)
	AliveWorkspaceMembers(ctx context.Context, workspaceID string) ([]string, error)
	SetCursor(ctx context.Context, docID, userID string, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, docID, userID string) ([]byte, error)
}

// 基于 redis 的实现
type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// Touch：心跳。ZSET score 用 expireAt（Unix 秒）表达逻辑 TTL，刷新也是同一条命令
func (p *redisPresence) Touch(ctx context.Context, workspaceID, docID, userID string, ttl time.Duration) error {
	expireAt := time.Now().Add(ttl).Unix()
	tx := p.rdb.TxPipeline()
	if docID != "" {
		tx.ZAdd(ctx, docRoomKey(docID), redis.Z{Score: float64(expireAt), Member: userID})
	}
	if workspaceID != "" {
		tx.ZAdd(ctx, wsRoomKey(workspaceID), redis.Z{Score: float64(expireAt), Member: userID})
	}
	_, err := tx.Exec(ctx)
	return err
}

// 清理过期成员并返回仍存活的成员
func (p *redisPresence) aliveMembers(ctx context.Context, roomKey string) ([]string, error) {
	now := time.Now().Unix()

	// 先把 score <= now 的成员剔掉，再读
	luaScript := `
	local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	if #expired > 0 then
		redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	end
	return #expired
	`
	script := redis.NewScript(luaScript)
	if _, err := script.Run(ctx, p.rdb, []string{roomKey}, now).Int(); err != nil && err != redis.Nil {
		return nil, err
	}

	members, err := p.rdb.ZRangeByScore(ctx, roomKey, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return members, nil
}

func (p *redisPresence) AliveDocumentMembers(ctx context.Context, docID string) ([]string, error) {
	return p.aliveMembers(ctx, docRoomKey(docID))
}

func (p *redisPresence) AliveWorkspaceMembers(ctx context.Context, workspaceID string) ([]string, error) {
	return p.aliveMembers(ctx, wsRoomKey(workspaceID))
}

func (p *redisPresence) SetCursor(ctx context.Context, docID, userID string, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(docID, userID), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, docID, userID string) ([]byte, error) {
	return p.rdb.Get(ctx, cursorKey(docID, userID)).Bytes()
}
