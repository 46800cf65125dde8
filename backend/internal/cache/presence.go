package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache 房间在线成员。只用于展示，房间成员表本身在进程内存里
type PresenceCache interface {
	AddMember(ctx context.Context, roomID, userID string, ttl time.Duration) error
	RemoveMember(ctx context.Context, roomID, userID string) error
	GetAliveMembers(ctx context.Context, roomID string) ([]string, error)
	GetRooms(ctx context.Context) ([]string, error)
}

// 具体实现：基于 redis 的 PresenceCache
type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// 过期成员清理脚本
// KEYS[1] = roomKey(roomID)
// ARGV[1] = now (unix seconds)
var cleanupScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
end
return #expired
`)

func (p *redisPresence) AddMember(ctx context.Context, roomID, userID string, ttl time.Duration) error {
	// 刷新TTL也直接调用AddMember即可
	tx := p.rdb.TxPipeline()
	// ZSET score 使用 expireAt（Unix 秒），用于表达“逻辑 TTL”
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(roomID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.SAdd(ctx, roomsKey(), roomID)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, roomID, userID string) error {
	return p.rdb.ZRem(ctx, roomKey(roomID), userID).Err()
}

func (p *redisPresence) GetAliveMembers(ctx context.Context, roomID string) ([]string, error) {
	// step1: 清理过期成员；约定 expireAt <= now 视为过期
	now := time.Now().Unix()
	if err := cleanupScript.Run(ctx, p.rdb, []string{roomKey(roomID)}, now).Err(); err != nil && err != redis.Nil {
		return nil, err
	}

	// step2: 查询在线成员
	alive, err := p.rdb.ZRangeByScore(ctx, roomKey(roomID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if alive == nil {
		alive = []string{}
	}
	return alive, nil
}

func (p *redisPresence) GetRooms(ctx context.Context) ([]string, error) {
	return p.rdb.SMembers(ctx, roomsKey()).Result()
}
