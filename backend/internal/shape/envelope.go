package shape

import (
	"encoding/json"
	"fmt"
)

type Action string

// 只有 delete 有特殊含义；其它值（包括缺省）都按新建或修改处理
const ActionDelete Action = "delete"

// Envelope chat 帧里 message 字段的内容：{shape, action?, id?}
type Envelope struct {
	Shape  Shape
	Action Action
	// 可选的稳定 id，客户端新建图形时生成；老客户端不带
	ID string
}

type wireEnvelope struct {
	Shape  json.RawMessage `json:"shape"`
	Action Action          `json:"action,omitempty"`
	ID     string          `json:"id,omitempty"`
}

func ParseEnvelope(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if len(w.Shape) == 0 || string(w.Shape) == "null" {
		return Envelope{}, fmt.Errorf("%w: missing shape", ErrParse)
	}
	s, err := Unmarshal(w.Shape)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Shape: s, Action: w.Action, ID: w.ID}, nil
}

func (e Envelope) Marshal() ([]byte, error) {
	raw, err := Marshal(e.Shape)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Shape: raw, Action: e.Action, ID: e.ID})
}

func (e Envelope) IsDelete() bool { return e.Action == ActionDelete }

// SameShape 判断 b 是否是对 a 的修改：两边都有 id 时只比 id，否则按位置匹配
func SameShape(a, b Envelope) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return MatchesPosition(a.Shape, b.Shape, Epsilon)
}

// SameTarget 删除定位：两边都有 id 时只比 id，否则要求全字段相等
func SameTarget(stored, target Envelope) bool {
	if stored.ID != "" && target.ID != "" {
		return stored.ID == target.ID
	}
	return Equal(stored.Shape, target.Shape)
}
