package ws

import (
	"context"
	"log"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// Publisher 把一帧投递给房间里的所有会话。
// 单个接收方失败只记日志，不影响其它接收方，也不返回给发送方
type Publisher interface {
	Publish(ctx context.Context, roomID string, frame []byte) error
}

// LocalFanout 单进程广播：按成员快照逐个入队
type LocalFanout struct {
	hub *Hub
}

func NewLocalFanout(h *Hub) *LocalFanout {
	return &LocalFanout{hub: h}
}

func (f *LocalFanout) Publish(_ context.Context, roomID string, frame []byte) error {
	for _, s := range f.hub.Members(roomID) {
		if !s.Enqueue(frame) {
			log.Printf("fanout drop (session=%s user=%s room=%s): send queue full or closed", s.id, s.userID, roomID)
		}
	}
	return nil
}

// RedisFanout 多实例部署时用：发布到 <channel>:<roomID>，
// 每个实例用 Run 订阅 <channel>:* 再交给本机的 LocalFanout
type RedisFanout struct {
	rdb     redis.UniversalClient
	channel string
	local   *LocalFanout
}

func NewRedisFanout(rdb redis.UniversalClient, channel string, local *LocalFanout) *RedisFanout {
	return &RedisFanout{rdb: rdb, channel: channel, local: local}
}

func (f *RedisFanout) roomChannel(roomID string) string { return f.channel + ":" + roomID }

func (f *RedisFanout) Publish(ctx context.Context, roomID string, frame []byte) error {
	if err := f.rdb.Publish(ctx, f.roomChannel(roomID), frame).Err(); err != nil {
		// redis 不可用时至少保证本机的会话能收到
		log.Printf("redis publish failed (room=%s), deliver locally: %v", roomID, err)
		return f.local.Publish(ctx, roomID, frame)
	}
	return nil
}

// Run 阻塞直到 ctx 结束；ready 在订阅建立后关闭（可以为 nil）
func (f *RedisFanout) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := f.rdb.PSubscribe(ctx, f.channel+":*")
	defer pubsub.Close()
	// 等订阅确认，避免 Run 刚返回就发布的消息丢失
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	prefix := f.channel + ":"
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			roomID := strings.TrimPrefix(msg.Channel, prefix)
			_ = f.local.Publish(ctx, roomID, []byte(msg.Payload))
		}
	}
}
