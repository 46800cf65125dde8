package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserStore struct{ db *gorm.DB }

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// CreateUser 用户 id 是 uuid 字符串；邮箱重复返回 ErrUserExists
func (s *UserStore) CreateUser(ctx context.Context, email string, passwordHash []byte, name string) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	u := User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, Name: name}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrUserExists
		}
		return nil, unavailable(err)
	}
	return &u, nil
}

func (s *UserStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var u User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, unavailable(err)
	}
	return &u, nil
}
