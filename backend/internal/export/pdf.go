package export

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"whiteboard/backend/internal/shape"
)

const (
	pageMargin = 10.0
	// 画布像素到毫米的最大比例，小画布不放大
	maxScale = 1.0 / 3
)

// RenderPDF 把一个房间当前的图形画到一页 A4 横向 PDF 上
func RenderPDF(w io.Writer, title string, shapes []shape.Shape) error {
	p := gofpdf.New("L", "mm", "A4", "")
	p.SetTitle(title, true)
	p.AddPage()
	p.SetFont("Helvetica", "", 10)
	p.Text(pageMargin, pageMargin-3, title)

	pageW, pageH := p.GetPageSize()
	minX, minY, maxX, maxY, ok := bounds(shapes)
	if !ok {
		return p.Output(w)
	}
	scale := maxScale
	if dx := maxX - minX; dx > 0 {
		scale = math.Min(scale, (pageW-2*pageMargin)/dx)
	}
	if dy := maxY - minY; dy > 0 {
		scale = math.Min(scale, (pageH-2*pageMargin)/dy)
	}
	tx := func(x float64) float64 { return pageMargin + (x-minX)*scale }
	ty := func(y float64) float64 { return pageMargin + (y-minY)*scale }

	p.SetDrawColor(0, 0, 0)
	p.SetLineWidth(0.5)
	for _, s := range shapes {
		switch v := s.(type) {
		case shape.Rect:
			p.Rect(tx(v.Left), ty(v.Top), v.Width*scale, v.Height*scale, "D")
		case shape.Circle:
			// left/top 是外接正方形的左上角
			p.Circle(tx(v.Left+v.Radius), ty(v.Top+v.Radius), v.Radius*scale, "D")
		case shape.Line:
			p.Line(tx(v.X1), ty(v.Y1), tx(v.X2), ty(v.Y2))
		case shape.Text:
			p.SetFontSize(math.Max(v.FontSize*scale*72/25.4, 4))
			p.Text(tx(v.Left), ty(v.Top)+v.FontSize*scale, v.Text)
		case shape.Pencil:
			pts := PencilPoints(v)
			for i := 1; i < len(pts); i++ {
				p.Line(tx(pts[i-1].X), ty(pts[i-1].Y), tx(pts[i].X), ty(pts[i].Y))
			}
		}
	}
	if err := p.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return p.Output(w)
}

// PencilPoints points 优先；否则从路径串里按顺序两两取数字
func PencilPoints(v shape.Pencil) []shape.Point {
	if len(v.Points) > 0 {
		return v.Points
	}
	fields := strings.FieldsFunc(v.Path, func(r rune) bool {
		return r == ',' || r == ' ' || r == '[' || r == ']' || r == '"' || r == '\n'
	})
	nums := make([]float64, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue // 命令字母 M/Q/L
		}
		nums = append(nums, n)
	}
	pts := make([]shape.Point, 0, len(nums)/2)
	for i := 0; i+1 < len(nums); i += 2 {
		pts = append(pts, shape.Point{X: nums[i], Y: nums[i+1]})
	}
	return pts
}

func bounds(shapes []shape.Shape) (minX, minY, maxX, maxY float64, ok bool) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	add := func(x, y float64) {
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		ok = true
	}
	for _, s := range shapes {
		switch v := s.(type) {
		case shape.Rect:
			add(v.Left, v.Top)
			add(v.Left+v.Width, v.Top+v.Height)
		case shape.Circle:
			add(v.Left, v.Top)
			add(v.Left+2*v.Radius, v.Top+2*v.Radius)
		case shape.Line:
			add(v.X1, v.Y1)
			add(v.X2, v.Y2)
		case shape.Text:
			add(v.Left, v.Top)
			add(v.Left, v.Top+v.FontSize)
		case shape.Pencil:
			for _, pt := range PencilPoints(v) {
				add(pt.X, pt.Y)
			}
		}
	}
	return minX, minY, maxX, maxY, ok
}
