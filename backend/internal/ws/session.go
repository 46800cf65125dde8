package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"whiteboard/backend/internal/auth"
	"whiteboard/backend/internal/cache"
	"whiteboard/backend/internal/collab"
	"whiteboard/backend/internal/shape"
	"whiteboard/backend/internal/store"
)

var ErrAuthRejected = errors.New("auth rejected")

type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// 只用到 gorilla 连接的这三个方法，测试里可以换成假的连接
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session 一条 websocket 连接，只归 Manager 所有；Hub 里只有它的引用
type Session struct {
	id     string
	ws     wsConn
	hub    *Hub
	userID string
	state  atomic.Int32

	// chan 是 goroutine 之间的队列，写循环是唯一的消费者
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	svc      collab.Service
	pub      Publisher
	presence cache.PresenceCache
	opts     Options
}

func newSession(conn wsConn, hub *Hub, svc collab.Service, pub Publisher, presence cache.PresenceCache, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		id:       uuid.NewString(),
		ws:       conn,
		hub:      hub,
		send:     make(chan []byte, opts.SendQueue),
		done:     make(chan struct{}),
		svc:      svc,
		pub:      pub,
		presence: presence,
		opts:     opts,
	}
	s.state.Store(int32(StateConnecting))
	return s
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }
func (s *Session) State() State   { return State(s.state.Load()) }

// authenticate 协议层的第一个动作；失败直接关闭连接，不发任何帧
func (s *Session) authenticate(ctx context.Context, verifier auth.Verifier, token string) error {
	s.state.Store(int32(StateAuthenticating))
	if token == "" {
		s.Close()
		return fmt.Errorf("%w: missing token", ErrAuthRejected)
	}
	claims, err := verifier.Verify(ctx, token)
	if err != nil {
		s.Close()
		return fmt.Errorf("%w: %v", ErrAuthRejected, err)
	}
	s.userID = claims.UserID
	s.state.Store(int32(StateOpen))
	return nil
}

// Enqueue 非阻塞入队；队列满或连接已关闭时丢弃并返回 false
func (s *Session) Enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close 幂等：关连接、从房间表移除、清理在线状态
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.done)
		_ = s.ws.Close()
		rooms := s.hub.Remove(s)
		if s.userID == "" {
			return
		}
		for _, roomID := range rooms {
			s.dropPresence(roomID)
		}
	})
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.Close()
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("read error (session=%s user=%s): %v", s.id, s.userID, err)
			}
			return
		}
		s.handleFrame(ctx, data)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			if err := s.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				// 只影响这一个接收方
				log.Printf("write error (session=%s user=%s): %v", s.id, s.userID, err)
				s.Close()
				return
			}
		}
	}
}

// handleFrame 同一连接上的帧按到达顺序逐个处理；格式错误只丢弃这一帧
func (s *Session) handleFrame(ctx context.Context, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("drop frame (session=%s user=%s): %v: %v", s.id, s.userID, shape.ErrParse, err)
		return
	}
	if msg.RoomID.IsZero() {
		log.Printf("drop frame (session=%s user=%s type=%q): missing roomId", s.id, s.userID, msg.Type)
		return
	}
	roomID := msg.RoomID.Key()

	switch msg.Type {
	case TypeJoinRoom:
		if !s.hub.Join(s, roomID) {
			return
		}
		s.touchPresence(ctx, roomID)

	case TypeLeaveRoom:
		s.hub.Leave(s, roomID)
		s.dropPresence(roomID)

	case TypeChat:
		s.handleChat(ctx, msg)

	default:
		log.Printf("drop frame (session=%s user=%s): unknown type %q", s.id, s.userID, msg.Type)
	}
}

func (s *Session) handleChat(ctx context.Context, msg ClientMessage) {
	roomID := msg.RoomID.Key()
	// 连接关闭不取消已经发出的存储操作，后面的广播照常进行
	opCtx := context.WithoutCancel(ctx)

	res, err := s.svc.ApplyChat(opCtx, roomID, s.userID, msg.Message)
	switch {
	case err == nil:
	case errors.Is(err, shape.ErrParse):
		log.Printf("drop chat (session=%s user=%s room=%s): %v", s.id, s.userID, roomID, err)
		return
	case errors.Is(err, store.ErrDeleteNotFound):
		// 删除没有命中也照样广播
		log.Printf("delete not found (user=%s room=%s): %v", s.userID, roomID, err)
	default:
		log.Printf("store error (user=%s room=%s delete=%t): %v", s.userID, roomID, res.Envelope.IsDelete(), err)
		if !res.Envelope.IsDelete() && s.opts.SuppressBroadcastOnAppendError {
			return
		}
	}

	frame, err := json.Marshal(ChatFrame{Type: TypeChat, Message: msg.Message, RoomID: msg.RoomID})
	if err != nil {
		log.Printf("marshal chat frame: %v", err)
		return
	}
	if err := s.pub.Publish(opCtx, roomID, frame); err != nil {
		log.Printf("publish failed (room=%s): %v", roomID, err)
	}
}

func (s *Session) touchPresence(ctx context.Context, roomID string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.AddMember(ctx, roomID, s.userID, s.opts.PresenceTTL); err != nil {
		log.Printf("presence add error (user=%s room=%s): %v", s.userID, roomID, err)
	}
}

// 同一用户在这个房间还有别的连接时保留在线状态
func (s *Session) dropPresence(roomID string) {
	if s.presence == nil || s.hub.HasUser(roomID, s.userID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.presence.RemoveMember(ctx, roomID, s.userID); err != nil {
		log.Printf("presence remove error (user=%s room=%s): %v", s.userID, roomID, err)
	}
}
