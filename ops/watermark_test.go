package ops

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfcompose/contentstream"
	"github.com/wudi/pdfcompose/internal/testpdf"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pagetree"
)

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want RGB
		ok   bool
	}{
		{"#ff0000", RGB{R: 1}, true},
		{"00ff00", RGB{G: 1}, true},
		{" #0000FF ", RGB{B: 1}, true},
		{"#fff", RGB{}, false},
		{"#gg0000", RGB{}, false},
	}
	for _, tc := range tests {
		got, err := ParseHexColor(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("ParseHexColor(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseHexColor(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestWatermarkValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*WatermarkSpec)
		ok     bool
		rot    float64
	}{
		{"defaults", func(*WatermarkSpec) {}, true, 45},
		{"negative rotation", func(s *WatermarkSpec) { s.Rotation = -90 }, true, 270},
		{"full turn", func(s *WatermarkSpec) { s.Rotation = 720 }, true, 0},
		{"blank text", func(s *WatermarkSpec) { s.Text = "  " }, false, 0},
		{"too small", func(s *WatermarkSpec) { s.FontSize = 9 }, false, 0},
		{"too large", func(s *WatermarkSpec) { s.FontSize = 201 }, false, 0},
		{"opacity", func(s *WatermarkSpec) { s.Opacity = 1.5 }, false, 0},
		{"colour", func(s *WatermarkSpec) { s.Color.G = -0.1 }, false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultWatermark()
			tc.modify(&s)
			err := s.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
			if tc.ok && s.Rotation != tc.rot {
				t.Fatalf("rotation %v, want %v", s.Rotation, tc.rot)
			}
		})
	}
}

func TestWatermarkInvariants(t *testing.T) {
	doc := load(t, testpdf.Document([]testpdf.Page{
		{Width: 612, Height: 792},
		{Width: 300, Height: 200, Rotate: 90},
		{Width: 400, Height: 400, Content: "q 0 0 1 rg"},
	}))
	before, _ := pagetree.Resolve(doc)
	out, err := newEditor().Watermark(context.Background(), doc, DefaultWatermark())
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	out = reload(t, out)
	after, err := pagetree.Resolve(out)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("page count %d, want %d", len(after), len(before))
	}
	for i := range before {
		if after[i].MediaBox != before[i].MediaBox || after[i].Rotate != before[i].Rotate {
			t.Fatalf("page %d: box %+v rotate %d, want %+v %d", i, after[i].MediaBox, after[i].Rotate, before[i].MediaBox, before[i].Rotate)
		}
	}
	orig := contents(t, doc)
	for i, c := range contents(t, out) {
		if !strings.HasPrefix(c, "q\n") {
			t.Fatalf("page %d does not start with q: %q", i, c)
		}
		if !strings.Contains(c, orig[i]) {
			t.Fatalf("page %d lost its content", i)
		}
		if !strings.Contains(c, "(CONFIDENTIAL) Tj") {
			t.Fatalf("page %d has no watermark text: %q", i, c)
		}
	}
}

func TestWatermarkOverlayOperators(t *testing.T) {
	spec := DefaultWatermark()
	spec.Rotation = 0
	spec.Text = "Entwurf é"
	data := watermarkContent(spec, pagetree.Letter.Center(), "WmF", "WmGS")
	ops, err := contentstream.Parse(data)
	if err != nil {
		t.Fatalf("parse overlay: %v", err)
	}
	var kinds []contentstream.OpKind
	for _, op := range ops {
		kinds = append(kinds, op.Op)
	}
	want := []contentstream.OpKind{
		contentstream.OpRestore, contentstream.OpSave, contentstream.OpSetExtGState,
		contentstream.OpFillRGB, contentstream.OpConcat, contentstream.OpConcat,
		contentstream.OpBeginText, contentstream.OpFont, contentstream.OpTextMove,
		contentstream.OpShowText, contentstream.OpEndText, contentstream.OpRestore,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("operators (-want +got):\n%s", diff)
	}
	move := ops[4]
	if x, _ := move.Number(4); x != 306 {
		t.Fatalf("translate x = %v, want 306", x)
	}
	td := ops[8]
	if x, _ := td.Number(0); x >= 0 || x < -spec.FontSize*float64(len(spec.Text)) {
		t.Fatalf("text offset %v should be minus half the width", x)
	}
	if y, _ := td.Number(1); y != -0.35*spec.FontSize {
		t.Fatalf("baseline offset %v", y)
	}
	s, ok := ops[9].Operands[0].(raw.StringObj)
	if !ok || string(s.Bytes) != "Entwurf \xe9" {
		t.Fatalf("shown string %q, want WinAnsi bytes", s.Bytes)
	}
}

func TestWatermarkResourceNames(t *testing.T) {
	b := testpdf.New("1.7")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [4 0 R 6 0 R] /Count 2 /Resources 3 0 R >>")
	b.Object(3, "<< /Font << /WmF 7 0 R >> /ExtGState << >> >>")
	b.Object(4, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 100 100] /Contents 5 0 R >>")
	b.Stream(5, "", []byte("0 0 10 10 re f"))
	b.Object(6, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 100 100] /Contents 5 0 R >>")
	b.Object(7, "<< /Type /Font /Subtype /Type1 /BaseFont /Courier >>")
	doc := load(t, b.Finish(""))

	out, err := newEditor().Watermark(context.Background(), doc, DefaultWatermark(), 0)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	pages, _ := pagetree.Resolve(out)
	res, _ := out.Dict(pages[0].Resources)
	fonts, _ := out.Dict(res.KV["Font"])
	if fonts.KV["WmF"] == nil || fonts.KV["WmF1"] == nil {
		t.Fatalf("font names %v", fonts.Keys())
	}
	// The shared resources and the untouched page stay as they were.
	shared, _ := out.Dict(raw.Ref(3, 0))
	sharedFonts, _ := out.Dict(shared.KV["Font"])
	if len(sharedFonts.KV) != 1 {
		t.Fatalf("shared font dictionary changed: %v", sharedFonts.Keys())
	}
	if len(pages[1].Contents) != 1 {
		t.Fatalf("page 2 was watermarked: %v", pages[1].Contents)
	}
}
