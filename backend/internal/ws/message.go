package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

const (
	TypeJoinRoom  = "join_room"
	TypeLeaveRoom = "leave_room"
	TypeChat      = "chat"
)

var errBadRoomID = errors.New("roomId must be a string or a number")

// RoomID 客户端可能发 "5" 也可能发 5。
// 成员表统一用 Key()；转发时原样写回客户端发来的字节
type RoomID struct {
	raw json.RawMessage
	key string
}

// NewRoomID 本地构造，key 按同样规则归一（"05" -> "5"）
func NewRoomID(key string) RoomID { return RoomID{key: normalizeRoomKey(key)} }

func (r *RoomID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return errBadRoomID
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		r.key = normalizeRoomKey(s)
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		r.key = normalizeRoomKey(n.String())
	default:
		return errBadRoomID
	}
	r.raw = append(json.RawMessage(nil), b...)
	return nil
}

func (r RoomID) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	return json.Marshal(r.key)
}

func (r RoomID) Key() string { return r.key }

func (r RoomID) IsZero() bool { return r.key == "" }

// "05"、5、"5" 都归一成 "5"；非数字的按原样（去空白）
func normalizeRoomKey(s string) string {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return strconv.FormatUint(n, 10)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f == float64(uint64(f)) {
		return strconv.FormatUint(uint64(f), 10)
	}
	return s
}

// ClientMessage 客户端 -> 服务端
type ClientMessage struct {
	Type   string `json:"type"`
	RoomID RoomID `json:"roomId"`
	// chat 帧里是 {shape, action?, id?} 的 JSON 字符串
	Message string `json:"message,omitempty"`
}

// ChatFrame 服务端 -> 客户端，字段和入站 chat 帧一致
type ChatFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	RoomID  RoomID `json:"roomId"`
}
