package ws

import (
	"sync"
)

// Hub 进程内的房间成员表，只保存会话的引用，不拥有会话。
// 重启后为空，客户端重连后需要重新 join_room
type Hub struct {
	// 一把粗粒度读写锁保护下面两张表；加入/离开/广播取成员时都先加锁
	mu sync.RWMutex
	// roomID -> set of sessions
	rooms map[string]map[*Session]struct{}
	// session -> set of roomIDs，断开时按它 O(房间数) 清理
	sessions map[*Session]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*Session]struct{}),
		sessions: make(map[*Session]map[string]struct{}),
	}
}

// Join 幂等；会话已经关闭时不加入，返回 false。
// Close 先关 done 再 Remove，两者都在这把锁下判断，关闭的会话不会被加回来
func (h *Hub) Join(s *Session, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed() {
		return false
	}
	if h.rooms[roomID] == nil {
		// 房间里存的是会话而不是 userID：同一用户可以开多个标签页，广播要逐连接发
		h.rooms[roomID] = make(map[*Session]struct{})
	}
	h.rooms[roomID][s] = struct{}{}
	if h.sessions[s] == nil {
		h.sessions[s] = make(map[string]struct{})
	}
	h.sessions[s][roomID] = struct{}{}
	return true
}

// Leave 幂等
func (h *Hub) Leave(s *Session, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s, roomID)
}

func (h *Hub) leaveLocked(s *Session, roomID string) {
	if members, ok := h.rooms[roomID]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if joined, ok := h.sessions[s]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(h.sessions, s)
		}
	}
}

// Remove 连接断开时调用，返回它之前所在的房间
func (h *Hub) Remove(s *Session) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined := h.sessions[s]
	rooms := make([]string, 0, len(joined))
	for roomID := range joined {
		rooms = append(rooms, roomID)
	}
	for _, roomID := range rooms {
		h.leaveLocked(s, roomID)
	}
	return rooms
}

// Members 返回快照，调用方遍历时不持有锁
func (h *Hub) Members(roomID string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[roomID]
	out := make([]*Session, 0, len(members))
	for s := range members {
		out = append(out, s)
	}
	return out
}

func (h *Hub) Rooms(s *Session) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	joined := h.sessions[s]
	out := make([]string, 0, len(joined))
	for roomID := range joined {
		out = append(out, roomID)
	}
	return out
}

// HasUser 房间里是否还有该用户的其它连接
func (h *Hub) HasUser(roomID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[roomID] {
		if s.userID == userID {
			return true
		}
	}
	return false
}
