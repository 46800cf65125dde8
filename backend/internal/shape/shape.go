package shape

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
)

type Kind string

const (
	KindRect   Kind = "rect"
	KindCircle Kind = "circle"
	KindLine   Kind = "line"
	KindPencil Kind = "pencil"
	KindText   Kind = "text"
)

// Epsilon 判定“同一个图形”的位置容差（严格小于）
const Epsilon = 1.0

// 默认字号，和前端新建文本时一致
const defaultFontSize = 20

var ErrParse = errors.New("shape: parse error")

// Shape 没有唯一 id，身份靠字段匹配推断（见 MatchesPosition / Equal）
type Shape interface {
	Kind() Kind
}

type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Circle struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Radius float64 `json:"radius"`
}

type Line struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pencil 笔迹：path（SVG 路径串）或 points 二选一
type Pencil struct {
	Path   string  `json:"path,omitempty"`
	Points []Point `json:"points,omitempty"`
}

type Text struct {
	Left     float64 `json:"left"`
	Top      float64 `json:"top"`
	Text     string  `json:"text"`
	FontSize float64 `json:"fontSize"`
}

func (Rect) Kind() Kind   { return KindRect }
func (Circle) Kind() Kind { return KindCircle }
func (Line) Kind() Kind   { return KindLine }
func (Pencil) Kind() Kind { return KindPencil }
func (Text) Kind() Kind   { return KindText }

// Marshal 序列化为带 "type" 标签的 JSON 对象
func Marshal(s Shape) ([]byte, error) {
	switch v := s.(type) {
	case Rect:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Rect
		}{KindRect, v})
	case Circle:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Circle
		}{KindCircle, v})
	case Line:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Line
		}{KindLine, v})
	case Pencil:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Pencil
		}{KindPencil, v})
	case Text:
		return json.Marshal(struct {
			Type Kind `json:"type"`
			Text
		}{KindText, v})
	default:
		return nil, fmt.Errorf("shape: cannot marshal %T", s)
	}
}

// 解析用的宽松结构：指针字段用于区分“缺失”和“零值”
type wireShape struct {
	Type     Kind            `json:"type"`
	Left     *float64        `json:"left"`
	Top      *float64        `json:"top"`
	Width    *float64        `json:"width"`
	Height   *float64        `json:"height"`
	Radius   *float64        `json:"radius"`
	X1       *float64        `json:"x1"`
	Y1       *float64        `json:"y1"`
	X2       *float64        `json:"x2"`
	Y2       *float64        `json:"y2"`
	Path     json.RawMessage `json:"path"`
	Points   []Point         `json:"points"`
	Text     *string         `json:"text"`
	FontSize *float64        `json:"fontSize"`
}

func Unmarshal(data []byte) (Shape, error) {
	var w wireShape
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return w.toShape()
}

func (w wireShape) toShape() (Shape, error) {
	switch w.Type {
	case KindRect:
		if err := required(w.Type, w.Left, w.Top, w.Width, w.Height); err != nil {
			return nil, err
		}
		return Rect{Left: *w.Left, Top: *w.Top, Width: *w.Width, Height: *w.Height}, nil
	case KindCircle:
		if err := required(w.Type, w.Left, w.Top, w.Radius); err != nil {
			return nil, err
		}
		return Circle{Left: *w.Left, Top: *w.Top, Radius: *w.Radius}, nil
	case KindLine:
		if err := required(w.Type, w.X1, w.Y1, w.X2, w.Y2); err != nil {
			return nil, err
		}
		return Line{X1: *w.X1, Y1: *w.Y1, X2: *w.X2, Y2: *w.Y2}, nil
	case KindPencil:
		p := Pencil{Points: w.Points}
		if len(w.Path) > 0 && string(w.Path) != "null" {
			// fabric 有时直接发路径数组，这种情况保留原始 JSON 文本
			if err := json.Unmarshal(w.Path, &p.Path); err != nil {
				p.Path = string(w.Path)
			}
		}
		if p.Path == "" && len(p.Points) == 0 {
			return nil, fmt.Errorf("%w: pencil needs path or points", ErrParse)
		}
		return p, nil
	case KindText:
		if err := required(w.Type, w.Left, w.Top); err != nil {
			return nil, err
		}
		if w.Text == nil {
			return nil, fmt.Errorf("%w: text missing field", ErrParse)
		}
		t := Text{Left: *w.Left, Top: *w.Top, Text: *w.Text, FontSize: defaultFontSize}
		if w.FontSize != nil {
			t.FontSize = *w.FontSize
		}
		return t, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrParse)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrParse, w.Type)
	}
}

func required(k Kind, fields ...*float64) error {
	for _, f := range fields {
		if f == nil {
			return fmt.Errorf("%w: %s missing field", ErrParse, k)
		}
	}
	return nil
}

// Anchor 返回图形的锚点；pencil 没有固定锚点
func Anchor(s Shape) (x, y float64, ok bool) {
	switch v := s.(type) {
	case Rect:
		return v.Left, v.Top, true
	case Circle:
		return v.Left, v.Top, true
	case Text:
		return v.Left, v.Top, true
	case Line:
		return v.X1, v.Y1, true
	default:
		return 0, 0, false
	}
}

// MatchesPosition 同类型且锚点两个轴都在 eps 以内；pencil 永远不匹配
func MatchesPosition(a, b Shape, eps float64) bool {
	if a == nil || b == nil || a.Kind() != b.Kind() {
		return false
	}
	ax, ay, ok := Anchor(a)
	if !ok {
		return false
	}
	bx, by, ok := Anchor(b)
	if !ok {
		return false
	}
	return math.Abs(ax-bx) < eps && math.Abs(ay-by) < eps
}

// Equal 全字段相等，删除时用它定位目标
func Equal(a, b Shape) bool {
	if a == nil || b == nil || a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case Rect:
		y, ok := b.(Rect)
		return ok && x == y
	case Circle:
		y, ok := b.(Circle)
		return ok && x == y
	case Line:
		y, ok := b.(Line)
		return ok && x == y
	case Text:
		y, ok := b.(Text)
		return ok && x == y
	case Pencil:
		y, ok := b.(Pencil)
		return ok && x.Path == y.Path && slices.Equal(x.Points, y.Points)
	}
	return false
}
