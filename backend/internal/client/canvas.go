package client

import (
	"log"
	"slices"
	"sync"

	"whiteboard/backend/internal/shape"
)

// HistoryEvent GET /chats/:roomId 返回的一条记录，只用到这两个字段
type HistoryEvent struct {
	ID      uint64 `json:"id"`
	Message string `json:"message"`
}

// Canvas 客户端本地的物化视图
type Canvas struct {
	mu    sync.Mutex
	items []shape.Envelope
}

func NewCanvas() *Canvas {
	return &Canvas{}
}

func (c *Canvas) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}

// Replay 历史是新的在前，倒过来按时间顺序合并；
// 调用前已经收到的实时帧保留，叠加在历史之上
func (c *Canvas) Replay(events []HistoryEvent) {
	view := make([]shape.Envelope, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		env, err := shape.ParseEnvelope([]byte(events[i].Message))
		if err != nil {
			log.Printf("skip history event %d: %v", events[i].ID, err)
			continue
		}
		// 删除记录不应该出现在历史里，出现了也忽略
		if env.IsDelete() {
			continue
		}
		view = upsert(view, env)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, live := range c.items {
		view = upsert(view, live)
	}
	c.items = view
}

// Merge 合并一条实时帧或本地编辑
func (c *Canvas) Merge(env shape.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if env.IsDelete() {
		c.items = remove(c.items, env)
		return
	}
	c.items = upsert(c.items, env)
}

func (c *Canvas) Shapes() []shape.Shape {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]shape.Shape, len(c.items))
	for i, env := range c.items {
		out[i] = env.Shape
	}
	return out
}

func (c *Canvas) Envelopes() []shape.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

func (c *Canvas) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// upsert 命中的第一个位置原地替换，其余命中项一并去掉，保证视图里没有两个互相匹配的图形
func upsert(items []shape.Envelope, env shape.Envelope) []shape.Envelope {
	first := -1
	out := items[:0]
	for _, it := range items {
		if shape.SameShape(it, env) {
			if first >= 0 {
				continue
			}
			first = len(out)
			it = env
		}
		out = append(out, it)
	}
	if first < 0 {
		out = append(out, env)
	}
	return out
}

// remove 先找完全相等的，找不到再按位置找
func remove(items []shape.Envelope, target shape.Envelope) []shape.Envelope {
	idx := slices.IndexFunc(items, func(it shape.Envelope) bool { return shape.SameTarget(it, target) })
	if idx < 0 {
		idx = slices.IndexFunc(items, func(it shape.Envelope) bool { return shape.SameShape(it, target) })
	}
	if idx < 0 {
		return items
	}
	return slices.Delete(items, idx, idx+1)
}
