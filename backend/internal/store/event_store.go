package store

import (
	"context"
	"fmt"
	"log"

	"gorm.io/gorm"

	"whiteboard/backend/internal/shape"
)

// 新加入房间的客户端最多回放这么多条
const DefaultHistoryLimit = 1000

type EventStore struct{ db *gorm.DB }

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Append 房间存在时写入一条事件，返回全局自增 id
func (s *EventStore) Append(ctx context.Context, roomID uint64, userID, message string) (uint64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Room{}).Where("id = ?", roomID).Count(&n).Error; err != nil {
		return 0, unavailable(err)
	}
	if n == 0 {
		return 0, ErrRoomNotFound
	}
	evt := Event{RoomID: roomID, UserID: userID, Message: message}
	if err := s.db.WithContext(ctx).Create(&evt).Error; err != nil {
		return 0, unavailable(err)
	}
	return evt.ID, nil
}

// FetchRecent 按 id 倒序返回最近 limit 条（最新的在前）
func (s *EventStore) FetchRecent(ctx context.Context, roomID uint64, limit int) ([]Event, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	events := make([]Event, 0)
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, unavailable(err)
	}
	return events, nil
}

// DeleteMatching 删除 target 指向的图形。
// target 带 id 时，删掉该 id 的所有事件（新建和之后的每次修改），返回其中最早的一条；
// 不带 id 或没有命中时，按 id 正序删除第一条全字段相等的事件
func (s *EventStore) DeleteMatching(ctx context.Context, roomID uint64, target shape.Envelope) (uint64, error) {
	var rows []Event
	err := s.db.WithContext(ctx).
		Select("id", "message").
		Where("room_id = ?", roomID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return 0, unavailable(err)
	}

	type parsed struct {
		id  uint64
		env shape.Envelope
	}
	candidates := make([]parsed, 0, len(rows))
	for _, row := range rows {
		stored, err := shape.ParseEnvelope([]byte(row.Message))
		if err != nil {
			log.Printf("skip unparsable event id=%d room=%d: %v", row.ID, roomID, err)
			continue
		}
		if stored.IsDelete() {
			continue
		}
		candidates = append(candidates, parsed{id: row.ID, env: stored})
	}

	if target.ID != "" {
		var ids []uint64
		for _, c := range candidates {
			if c.env.ID == target.ID {
				ids = append(ids, c.id)
			}
		}
		if len(ids) > 0 {
			res := s.db.WithContext(ctx).Where("room_id = ? AND id IN ?", roomID, ids).Delete(&Event{})
			if res.Error != nil {
				return 0, unavailable(res.Error)
			}
			if res.RowsAffected == 0 {
				// 别的连接已经删掉了
				return 0, ErrDeleteNotFound
			}
			return ids[0], nil
		}
	}

	for _, c := range candidates {
		if !shape.SameTarget(c.env, target) {
			continue
		}
		res := s.db.WithContext(ctx).Delete(&Event{}, c.id)
		if res.Error != nil {
			return 0, unavailable(res.Error)
		}
		// 并发删除时可能已经被别的连接删掉，继续找下一条
		if res.RowsAffected == 0 {
			continue
		}
		return c.id, nil
	}
	return 0, ErrDeleteNotFound
}
