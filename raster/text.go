package raster

import (
	"unicode"

	"golang.org/x/text/encoding/charmap"

	"github.com/wudi/pdfcompose/contentstream"
	"github.com/wudi/pdfcompose/coords"
	"github.com/wudi/pdfcompose/fonts"
	"github.com/wudi/pdfcompose/ir/raw"
)

// fontInfo is what the renderer needs from a font dictionary. Glyphs always come
// from a built-in face; only the metrics follow the file.
type fontInfo struct {
	face      *fonts.Face
	firstChar int
	widths    []float64
	composite bool
}

// width returns the advance of code in 1/1000 text space units.
func (f *fontInfo) width(code byte, r rune) float64 {
	if i := int(code) - f.firstChar; i >= 0 && i < len(f.widths) {
		return f.widths[i]
	}
	return f.face.Advance(r)
}

func (p *painter) font(resources *raw.DictObj, name string) *fontInfo {
	obj, ok := p.resource(resources, "Font", name)
	if !ok {
		return &fontInfo{face: fonts.Regular()}
	}
	d, ok := p.doc.Dict(obj)
	if !ok {
		return &fontInfo{face: fonts.Regular()}
	}
	if info, ok := p.fonts[d]; ok {
		return info
	}
	base, _ := d.Name("BaseFont")
	sub, _ := d.Name("Subtype")
	info := &fontInfo{face: fonts.ForBaseFont(base), composite: sub == "Type0"}
	if fc, ok := raw.Number(p.doc.Resolve(d.KV["FirstChar"])); ok {
		info.firstChar = int(fc)
	}
	if arr, ok := p.doc.Array(d.KV["Widths"]); ok {
		info.widths = make([]float64, arr.Len())
		for i, it := range arr.Items {
			info.widths[i], _ = raw.Number(p.doc.Resolve(it))
		}
	}
	p.fonts[d] = info
	return info
}

// showText handles Tj, ' and ": the string is the last operand.
func (p *painter) showText(operands []raw.Object, resources *raw.DictObj, gs *contentstream.GraphicsState) {
	if len(operands) == 0 {
		return
	}
	if s, ok := operands[len(operands)-1].(raw.StringObj); ok {
		p.showString(s.Bytes, resources, gs)
	}
}

// showArray handles TJ: strings interleaved with adjustments in thousandths of
// an em, subtracted from the advance.
func (p *painter) showArray(operands []raw.Object, resources *raw.DictObj, gs *contentstream.GraphicsState) {
	if len(operands) == 0 {
		return
	}
	arr, ok := operands[0].(*raw.ArrayObj)
	if !ok {
		return
	}
	ts := &gs.Text
	for _, it := range arr.Items {
		switch v := it.(type) {
		case raw.StringObj:
			p.showString(v.Bytes, resources, gs)
		case raw.NumberObj:
			ts.Advance(-v.Float() / 1000 * ts.FontSize * ts.HScale)
		}
	}
}

// showString paints the glyphs of one string in a single coverage pass and
// advances the text matrix.
func (p *painter) showString(codes []byte, resources *raw.DictObj, gs *contentstream.GraphicsState) {
	ts := &gs.Text
	info := p.font(resources, ts.Font)
	if info.composite {
		p.skip("Type0 text")
		return
	}
	visible := ts.RenderMode != 3 && ts.RenderMode != 7 && ts.FontSize != 0
	drawn := false
	p.resetRas()
	for _, c := range codes {
		r := charmap.Windows1252.DecodeByte(c)
		if visible && !unicode.IsSpace(r) {
			if o, err := info.face.Outline(r); err == nil && len(o.Segments) > 0 {
				p.addGlyph(o, gs.RenderMatrix())
				drawn = true
			}
		}
		tx := info.width(c, r)/1000*ts.FontSize + ts.CharSpacing
		if c == ' ' {
			tx += ts.WordSpacing
		}
		ts.Advance(tx * ts.HScale)
	}
	if drawn {
		p.paint(gs.Fill, gs.FillAlpha)
	}
}

func (p *painter) addGlyph(o *fonts.Outline, m coords.Matrix) {
	pt := func(q coords.Point) (float32, float32) {
		d := m.Transform(q)
		return f32(d.X), f32(d.Y)
	}
	for i, s := range o.Segments {
		switch s.Op {
		case fonts.SegmentMoveTo:
			if i > 0 {
				p.ras.ClosePath()
			}
			p.ras.MoveTo(pt(s.Args[0]))
		case fonts.SegmentLineTo:
			p.ras.LineTo(pt(s.Args[0]))
		case fonts.SegmentQuadTo:
			x1, y1 := pt(s.Args[0])
			x2, y2 := pt(s.Args[1])
			p.ras.QuadTo(x1, y1, x2, y2)
		case fonts.SegmentCubeTo:
			x1, y1 := pt(s.Args[0])
			x2, y2 := pt(s.Args[1])
			x3, y3 := pt(s.Args[2])
			p.ras.CubeTo(x1, y1, x2, y2, x3, y3)
		}
	}
	p.ras.ClosePath()
}
