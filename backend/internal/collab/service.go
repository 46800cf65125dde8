package collab

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"whiteboard/backend/internal/shape"
	"whiteboard/backend/internal/store"
)

// 白板协作服务：解析 chat 消息，写事件日志，再把变更投递给 kafka
type Service interface {
	// ApplyChat delete 动作删除匹配的历史事件，其它情况追加一条事件。
	// 返回的 ChatResult.Envelope 在解析成功后总是有效（即使存储失败）
	ApplyChat(ctx context.Context, roomID, userID, message string) (ChatResult, error)

	// History 最近的事件，新的在前
	History(ctx context.Context, roomID string) ([]store.Event, error)
}

// 事件日志接口，实现在 store 中
type EventLog interface {
	Append(ctx context.Context, roomID uint64, userID, message string) (uint64, error)
	FetchRecent(ctx context.Context, roomID uint64, limit int) ([]store.Event, error)
	DeleteMatching(ctx context.Context, roomID uint64, target shape.Envelope) (uint64, error)
}

// RoomChecker 追加前的存在性检查，通常是带缓存的实现
type RoomChecker interface {
	Exists(ctx context.Context, roomID uint64) (bool, error)
}

type ChatResult struct {
	Envelope shape.Envelope
	// 追加得到的新 id，或被删除的事件 id
	EventID uint64
}

type LogService struct {
	events       EventLog
	historyLimit int
	// 同一房间并发的历史请求合并成一次查询（大量客户端同时进房间时）
	sf singleflight.Group
	// 可以为 nil（没配 kafka）
	dispatcher *KafkaDispatcher
	// 可以为 nil；为 nil 时只靠事件日志自己的检查
	rooms RoomChecker
}

// NewLogService 返回一个满足 Service 接口的实例
func NewLogService(events EventLog, dispatcher *KafkaDispatcher, historyLimit int) *LogService {
	if historyLimit <= 0 {
		historyLimit = store.DefaultHistoryLimit
	}
	return &LogService{events: events, historyLimit: historyLimit, dispatcher: dispatcher}
}

// SetRoomChecker 在启动阶段调用
func (s *LogService) SetRoomChecker(rc RoomChecker) { s.rooms = rc }

// ParseRoomID 事件日志里的房间 id 是整数
func ParseRoomID(roomID string) (uint64, error) {
	id, err := strconv.ParseUint(roomID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: room id %q", shape.ErrParse, roomID)
	}
	return id, nil
}

func (s *LogService) ApplyChat(ctx context.Context, roomID, userID, message string) (ChatResult, error) {
	rid, err := ParseRoomID(roomID)
	if err != nil {
		return ChatResult{}, err
	}
	env, err := shape.ParseEnvelope([]byte(message))
	if err != nil {
		return ChatResult{}, err
	}
	res := ChatResult{Envelope: env}

	evt := ShapeEvent{
		RoomID:    rid,
		UserID:    userID,
		ShapeID:   env.ID,
		ShapeType: string(env.Shape.Kind()),
		Message:   message,
	}
	if env.IsDelete() {
		id, err := s.events.DeleteMatching(ctx, rid, env)
		if err != nil {
			return res, err
		}
		res.EventID = id
		evt.EventType = EventShapeDeleted
	} else {
		if s.rooms != nil {
			// 检查本身出错时交给 Append 再判断一次
			if ok, err := s.rooms.Exists(ctx, rid); err == nil && !ok {
				return res, store.ErrRoomNotFound
			}
		}
		// message 原样落库，回放时客户端自己解析
		id, err := s.events.Append(ctx, rid, userID, message)
		if err != nil {
			return res, err
		}
		res.EventID = id
		evt.EventType = EventShapeAppended
	}
	evt.EventID = res.EventID
	evt.AppliedAt = time.Now()
	s.emit(ctx, evt)
	return res, nil
}

func (s *LogService) emit(ctx context.Context, evt ShapeEvent) {
	if s.dispatcher == nil {
		return
	}
	enqueueCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := s.dispatcher.Enqueue(enqueueCtx, evt); err != nil {
		log.Printf("kafka enqueue dropped (room=%d event=%d): %v", evt.RoomID, evt.EventID, err)
	}
}

func (s *LogService) History(ctx context.Context, roomID string) ([]store.Event, error) {
	rid, err := ParseRoomID(roomID)
	if err != nil {
		return nil, err
	}
	key := strconv.FormatUint(rid, 10)
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.events.FetchRecent(context.WithoutCancel(ctx), rid, s.historyLimit)
	})
	if err != nil {
		return nil, err
	}
	// 使用断言确保不会panic
	events, _ := v.([]store.Event)
	return events, nil
}
