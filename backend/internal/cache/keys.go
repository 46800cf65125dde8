package cache

import "fmt"

// 键语义：
// - roomKey(roomID): 房间在线成员（ZSet<userId, expireAtUnix>，score=expireAt）
// - roomsKey():      有过在线成员的房间索引（Set<roomID>）

const (
	keyRoomFmt  = "presence:room:{roomID:%s}"
	keyRoomsSet = "presence:rooms"
)

func roomKey(roomID string) string { return fmt.Sprintf(keyRoomFmt, roomID) }
func roomsKey() string             { return keyRoomsSet }
