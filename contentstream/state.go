package contentstream

import (
	"github.com/wudi/pdfcompose/coords"
	"github.com/wudi/pdfcompose/ir/raw"
)

// Color is an RGB triple with components in [0,1].
type Color struct{ R, G, B float64 }

var (
	Black = Color{}
	White = Color{1, 1, 1}
)

func GrayColor(g float64) Color { return Color{g, g, g} }

// CMYKColor converts without a colour profile.
func CMYKColor(c, m, y, k float64) Color {
	return Color{clamp01((1 - c) * (1 - k)), clamp01((1 - m) * (1 - k)), clamp01((1 - y) * (1 - k))}
}

// ColorFromComponents picks the conversion by component count: 1 gray, 3 RGB,
// 4 CMYK. Other counts yield black.
func ColorFromComponents(v []float64) Color {
	switch len(v) {
	case 1:
		return GrayColor(clamp01(v[0]))
	case 3:
		return Color{clamp01(v[0]), clamp01(v[1]), clamp01(v[2])}
	case 4:
		return CMYKColor(v[0], v[1], v[2], v[3])
	}
	return Black
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// TextState holds the text parameters; HScale is a fraction (Tz 100 is 1).
type TextState struct {
	Font        string
	FontSize    float64
	CharSpacing float64
	WordSpacing float64
	HScale      float64
	Leading     float64
	Rise        float64
	RenderMode  int

	Matrix     coords.Matrix
	LineMatrix coords.Matrix
}

// GraphicsState is the part of the PDF graphics state the renderer honours.
type GraphicsState struct {
	CTM         coords.Matrix
	LineWidth   float64
	Fill        Color
	Stroke      Color
	FillAlpha   float64
	StrokeAlpha float64
	Text        TextState

	stack []GraphicsState
}

// NewGraphicsState returns the initial state for a page whose default user space
// maps to device space through ctm.
func NewGraphicsState(ctm coords.Matrix) *GraphicsState {
	return &GraphicsState{
		CTM:         ctm,
		LineWidth:   1,
		FillAlpha:   1,
		StrokeAlpha: 1,
		Text: TextState{
			HScale:     1,
			Matrix:     coords.Identity(),
			LineMatrix: coords.Identity(),
		},
	}
}

// Save pushes a copy of the state (q).
func (gs *GraphicsState) Save() {
	clone := *gs
	clone.stack = nil
	gs.stack = append(gs.stack, clone)
}

// Restore pops the last saved state (Q). With nothing saved it leaves the state
// untouched and reports false.
func (gs *GraphicsState) Restore() bool {
	n := len(gs.stack)
	if n == 0 {
		return false
	}
	stack := gs.stack[:n-1]
	*gs = gs.stack[n-1]
	gs.stack = stack
	return true
}

// Depth is the number of saved states.
func (gs *GraphicsState) Depth() int { return len(gs.stack) }

// Concat applies cm: m is applied before the current CTM.
func (gs *GraphicsState) Concat(m coords.Matrix) {
	gs.CTM = m.Multiply(gs.CTM)
}

// BeginText resets the text matrices (BT).
func (ts *TextState) BeginText() {
	ts.Matrix = coords.Identity()
	ts.LineMatrix = coords.Identity()
}

// MoveLine moves to the start of the next line offset by (tx, ty) (Td).
func (ts *TextState) MoveLine(tx, ty float64) {
	ts.LineMatrix = coords.Translate(tx, ty).Multiply(ts.LineMatrix)
	ts.Matrix = ts.LineMatrix
}

// SetMatrix replaces both text matrices (Tm).
func (ts *TextState) SetMatrix(m coords.Matrix) {
	ts.LineMatrix = m
	ts.Matrix = m
}

// NextLine is T*.
func (ts *TextState) NextLine() { ts.MoveLine(0, -ts.Leading) }

// Advance moves the text matrix by a horizontal displacement in text space.
func (ts *TextState) Advance(tx float64) {
	ts.Matrix = coords.Translate(tx, 0).Multiply(ts.Matrix)
}

// RenderMatrix maps glyph space (scaled to one text space unit) to device space.
func (gs *GraphicsState) RenderMatrix() coords.Matrix {
	ts := gs.Text
	m := coords.Matrix{ts.FontSize * ts.HScale, 0, 0, ts.FontSize, 0, ts.Rise}
	return m.Multiply(ts.Matrix).Multiply(gs.CTM)
}

// Apply updates the state for operators that only touch state. It reports
// whether op was consumed; painting, text showing and XObjects are left to the
// caller.
func (gs *GraphicsState) Apply(op Operation) bool {
	ts := &gs.Text
	switch op.Op {
	case OpSave:
		gs.Save()
	case OpRestore:
		gs.Restore()
	case OpConcat:
		if v, ok := op.Numbers(6); ok {
			gs.Concat(coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]})
		}
	case OpLineWidth:
		if v, ok := op.Number(0); ok {
			gs.LineWidth = v
		}
	case OpFillGray, OpFillRGB, OpFillCMYK, OpFillColor, OpFillColorN:
		if c, ok := colorOperands(op); ok {
			gs.Fill = c
		}
	case OpStrokeGray, OpStrokeRGB, OpStrokeCMYK, OpStrokeColor, OpStrokeColorN:
		if c, ok := colorOperands(op); ok {
			gs.Stroke = c
		}
	case OpFillColorSpace:
		gs.Fill = Black
	case OpStrokeColorSpace:
		gs.Stroke = Black
	case OpBeginText:
		ts.BeginText()
	case OpEndText:
	case OpCharSpacing:
		if v, ok := op.Number(0); ok {
			ts.CharSpacing = v
		}
	case OpWordSpacing:
		if v, ok := op.Number(0); ok {
			ts.WordSpacing = v
		}
	case OpHScale:
		if v, ok := op.Number(0); ok {
			ts.HScale = v / 100
		}
	case OpLeading:
		if v, ok := op.Number(0); ok {
			ts.Leading = v
		}
	case OpRise:
		if v, ok := op.Number(0); ok {
			ts.Rise = v
		}
	case OpRenderMode:
		if v, ok := op.Number(0); ok {
			ts.RenderMode = int(v)
		}
	case OpFont:
		if name, ok := op.Name(0); ok {
			ts.Font = name
		}
		if v, ok := op.Number(1); ok {
			ts.FontSize = v
		}
	case OpTextMove:
		if v, ok := op.Numbers(2); ok {
			ts.MoveLine(v[0], v[1])
		}
	case OpTextMoveSet:
		if v, ok := op.Numbers(2); ok {
			ts.Leading = -v[1]
			ts.MoveLine(v[0], v[1])
		}
	case OpTextMatrix:
		if v, ok := op.Numbers(6); ok {
			ts.SetMatrix(coords.Matrix{v[0], v[1], v[2], v[3], v[4], v[5]})
		}
	case OpNextLine:
		ts.NextLine()
	default:
		return false
	}
	return true
}

// colorOperands reads the numeric operands of a colour operator. Pattern names
// after scn are ignored.
func colorOperands(op Operation) (Color, bool) {
	var v []float64
	for _, it := range op.Operands {
		if n, ok := raw.Number(it); ok {
			v = append(v, n)
		}
	}
	switch op.Op {
	case OpFillGray, OpStrokeGray:
		if len(v) != 1 {
			return Color{}, false
		}
	case OpFillRGB, OpStrokeRGB:
		if len(v) != 3 {
			return Color{}, false
		}
	case OpFillCMYK, OpStrokeCMYK:
		if len(v) != 4 {
			return Color{}, false
		}
	}
	if len(v) == 0 {
		return Color{}, false
	}
	return ColorFromComponents(v), true
}
