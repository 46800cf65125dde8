package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	BaseTTL          = 24 * time.Hour   // 基础过期时间
	Jitter           = 60 * time.Minute // 随机抖动范围
	NullTTL          = 5 * time.Minute
	EmptyCacheMarker = -1 // 空值标记
)

const keyRoomExistsFmt = "room:exists:{roomID:%d}"

func roomExistsKey(roomID uint64) string { return fmt.Sprintf(keyRoomExistsFmt, roomID) }

// 获取随机TTL，防止缓存雪崩
func getRandomTTL() time.Duration {
	return BaseTTL + time.Duration(rand.Int63n(int64(Jitter)))
}

// RoomLookup 回源查询，一般是 store.RoomStore.Exists
type RoomLookup func(ctx context.Context, roomID uint64) (bool, error)

// RoomCache 房间是否存在的旁路缓存。
// 大量 chat 帧发往不存在的房间时，靠空值缓存挡在数据库前面
type RoomCache struct {
	rdb    redis.UniversalClient
	sf     singleflight.Group
	lookup RoomLookup
}

func NewRoomCache(rdb redis.UniversalClient, lookup RoomLookup) *RoomCache {
	return &RoomCache{rdb: rdb, lookup: lookup}
}

func (c *RoomCache) readCache(ctx context.Context, key string) (exists, hit bool, err error) {
	res, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil
		}
		return false, false, err
	}
	// 不能使用ParseUint，遇到 -1 会报错 invalid syntax
	v, err := strconv.ParseInt(res, 10, 64)
	if err != nil {
		return false, false, err
	}
	return v != EmptyCacheMarker, true, nil
}

// Exists 组合策略：singleflight 合并并发回源，redis 故障时直接查库
func (c *RoomCache) Exists(ctx context.Context, roomID uint64) (bool, error) {
	key := roomExistsKey(roomID)
	val, err, _ := c.sf.Do(key, func() (interface{}, error) {
		exists, hit, err := c.readCache(ctx, key)
		if err != nil {
			log.Printf("room cache read error (room=%d): %v", roomID, err)
			return c.lookup(ctx, roomID)
		}
		if hit {
			return exists, nil
		}

		exists, err = c.lookup(ctx, roomID)
		if err != nil {
			return false, err
		}
		// 填入真实值或者空值缓存，防止缓存穿透
		if exists {
			err = c.rdb.Set(ctx, key, 1, getRandomTTL()).Err()
		} else {
			err = c.rdb.Set(ctx, key, EmptyCacheMarker, NullTTL).Err()
		}
		if err != nil {
			log.Printf("room cache write error (room=%d): %v", roomID, err)
		}
		return exists, nil
	})
	if err != nil {
		return false, err
	}
	// 使用断言确保不会panic
	exists, ok := val.(bool)
	if !ok {
		return false, errors.New("internal type error")
	}
	return exists, nil
}

// Forget 新建房间后清掉可能存在的空值标记
func (c *RoomCache) Forget(ctx context.Context, roomID uint64) error {
	return c.rdb.Del(ctx, roomExistsKey(roomID)).Err()
}
