package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDeleteNotFound   = errors.New("no matching event to delete")
	ErrRoomNotFound     = errors.New("room not found")
	ErrSlugTaken        = errors.New("room already exists with this name")
	ErrUserExists       = errors.New("user already exists with this email")
	ErrUserNotFound     = errors.New("user not found")
)

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// 1062 = duplicate key（未开启 TranslateError 的连接）
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// 账号和房间这类请求路径上的查询带超时；事件日志不带
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 3*time.Second)
}
