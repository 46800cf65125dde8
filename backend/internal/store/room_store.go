package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type RoomStore struct{ db *gorm.DB }

func NewRoomStore(db *gorm.DB) *RoomStore {
	return &RoomStore{db: db}
}

// CreateRoom slug 全局唯一，冲突返回 ErrSlugTaken
func (s *RoomStore) CreateRoom(ctx context.Context, slug, adminID string) (*Room, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	room := Room{Slug: slug, AdminID: adminID}
	if err := s.db.WithContext(ctx).Create(&room).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrSlugTaken
		}
		return nil, unavailable(err)
	}
	return &room, nil
}

func (s *RoomStore) RoomBySlug(ctx context.Context, slug string) (*Room, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var room Room
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, unavailable(err)
	}
	return &room, nil
}

// RoomsByAdmin 用户创建过的房间，新的在前
func (s *RoomStore) RoomsByAdmin(ctx context.Context, adminID string) ([]Room, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rooms := make([]Room, 0)
	err := s.db.WithContext(ctx).Where("admin_id = ?", adminID).Order("id DESC").Find(&rooms).Error
	if err != nil {
		return nil, unavailable(err)
	}
	return rooms, nil
}

func (s *RoomStore) Exists(ctx context.Context, roomID uint64) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var n int64
	if err := s.db.WithContext(ctx).Model(&Room{}).Where("id = ?", roomID).Count(&n).Error; err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}
