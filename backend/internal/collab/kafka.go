package collab

import (
	"time"
)

const (
	EventShapeAppended = "SHAPE_APPENDED"
	EventShapeDeleted  = "SHAPE_DELETED"
)

// ShapeEvent 事件日志每次变更后发往 kafka 的记录，下游做审计/统计用
type ShapeEvent struct {
	EventType string `json:"eventType"`
	RoomID    uint64 `json:"roomId"`
	// 追加时是新事件 id，删除时是被删掉的事件 id
	EventID   uint64    `json:"eventId"`
	UserID    string    `json:"userId"`
	ShapeID   string    `json:"shapeId,omitempty"`
	ShapeType string    `json:"shapeType"`
	Message   string    `json:"message"`
	AppliedAt time.Time `json:"appliedAt"`
}
