// Package fonts provides the single built-in typeface family: glyph outlines for
// the rasterizer, advance widths, and text measurement for centred overlays.
package fonts

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/pdfcompose/coords"
)

// unitsPerEm is the glyph space scale used for widths, as in PDF font programs.
const unitsPerEm = 1000

// SegmentOp is the kind of an outline segment.
type SegmentOp int

const (
	SegmentMoveTo SegmentOp = iota
	SegmentLineTo
	SegmentQuadTo
	SegmentCubeTo
)

// Segment is one outline command. Points are in em units with the y axis up.
type Segment struct {
	Op   SegmentOp
	Args [3]coords.Point
}

// Outline is a glyph shape and its advance in em units.
type Outline struct {
	Segments []Segment
	Advance  float64
}

// Face is a parsed TrueType face. It is safe for concurrent use.
type Face struct {
	name string
	data []byte
	font *sfnt.Font

	buffers  sync.Pool
	outlines sync.Map // rune -> *Outline
}

func parseFace(name string, data []byte) (*Face, error) {
	f, err := sfnt.Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}
	face := &Face{name: name, data: data, font: f}
	face.buffers.New = func() interface{} { return new(sfnt.Buffer) }
	return face, nil
}

func mustFace(name string, data []byte) func() *Face {
	return sync.OnceValue(func() *Face {
		f, err := parseFace(name, data)
		if err != nil {
			panic(err)
		}
		return f
	})
}

var (
	// Regular is the face used for non-bold text.
	Regular = mustFace("Go-Regular", goregular.TTF)
	// Bold is the face used for bold text and watermarks.
	Bold = mustFace("Go-Bold", gobold.TTF)
)

// ForBaseFont picks the face for a PDF /BaseFont name.
func ForBaseFont(baseFont string) *Face {
	lower := strings.ToLower(baseFont)
	for _, w := range []string{"bold", "black", "heavy", "semibold"} {
		if strings.Contains(lower, w) {
			return Bold()
		}
	}
	return Regular()
}

func (f *Face) Name() string { return f.name }

// TTF returns the font program.
func (f *Face) TTF() []byte { return f.data }

func (f *Face) buffer() *sfnt.Buffer   { return f.buffers.Get().(*sfnt.Buffer) }
func (f *Face) release(b *sfnt.Buffer) { f.buffers.Put(b) }

// Advance returns the advance width of r in thousandths of an em. Runes the face
// lacks get the width of its notdef glyph.
func (f *Face) Advance(r rune) float64 {
	b := f.buffer()
	defer f.release(b)
	idx, _ := f.font.GlyphIndex(b, r)
	adv, err := f.font.GlyphAdvance(b, idx, fixed.I(unitsPerEm), xfont.HintingNone)
	if err != nil {
		return 0
	}
	return float64(adv) / 64
}

// Outline returns the outline of r. Results are cached.
func (f *Face) Outline(r rune) (*Outline, error) {
	if o, ok := f.outlines.Load(r); ok {
		return o.(*Outline), nil
	}
	b := f.buffer()
	defer f.release(b)
	idx, err := f.font.GlyphIndex(b, r)
	if err != nil {
		return nil, errors.Wrapf(err, "glyph index %q", r)
	}
	ppem := fixed.I(unitsPerEm)
	segs, err := f.font.LoadGlyph(b, idx, ppem, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "load glyph %q", r)
	}
	adv, err := f.font.GlyphAdvance(b, idx, ppem, xfont.HintingNone)
	if err != nil {
		return nil, errors.Wrapf(err, "advance %q", r)
	}
	out := &Outline{
		Segments: make([]Segment, 0, len(segs)),
		Advance:  float64(adv) / 64 / unitsPerEm,
	}
	for _, s := range segs {
		seg := Segment{}
		n := 1
		switch s.Op {
		case sfnt.SegmentOpMoveTo:
			seg.Op = SegmentMoveTo
		case sfnt.SegmentOpLineTo:
			seg.Op = SegmentLineTo
		case sfnt.SegmentOpQuadTo:
			seg.Op, n = SegmentQuadTo, 2
		case sfnt.SegmentOpCubeTo:
			seg.Op, n = SegmentCubeTo, 3
		}
		for i := 0; i < n; i++ {
			seg.Args[i] = emPoint(s.Args[i])
		}
		out.Segments = append(out.Segments, seg)
	}
	actual, _ := f.outlines.LoadOrStore(r, out)
	return actual.(*Outline), nil
}

// emPoint converts a 26.6 point at unitsPerEm ppem with y down to em units with
// y up.
func emPoint(p fixed.Point26_6) coords.Point {
	return coords.Point{
		X: float64(p.X) / 64 / unitsPerEm,
		Y: -float64(p.Y) / 64 / unitsPerEm,
	}
}
