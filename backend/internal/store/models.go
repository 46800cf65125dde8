package store

import "time"

type User struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	Email        string `gorm:"uniqueIndex;type:varchar(191);not null"`
	PasswordHash []byte `gorm:"not null"`
	Name         string `gorm:"type:varchar(64)"`
	CreatedAt    time.Time
}

type Room struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug      string    `gorm:"uniqueIndex;type:varchar(64);not null" json:"slug"`
	AdminID   string    `gorm:"index;type:varchar(36);not null" json:"adminId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event 房间事件日志的一行。
// id 全局自增（不是按房间），按 id 倒序读取就是房间的权威历史
type Event struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID uint64 `gorm:"index;not null" json:"roomId"`
	UserID string `gorm:"type:varchar(36);not null" json:"userId"`
	// 原样保存的 {shape, action?, id?} JSON 串
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// 沿用旧库的表名
func (Event) TableName() string { return "chats" }
