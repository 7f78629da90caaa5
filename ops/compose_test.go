package ops

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfcompose/internal/testpdf"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pagetree"
	"github.com/wudi/pdfcompose/pdferr"
)

func countFonts(doc *raw.Document) int {
	n := 0
	for _, o := range doc.Objects {
		if d, ok := o.(*raw.DictObj); ok {
			if typ, _ := d.Name("Type"); typ == "Font" {
				n++
			}
		}
	}
	return n
}

func TestMerge(t *testing.T) {
	a := load(t, testpdf.Pages(2))
	b := load(t, testpdf.Pages(3))
	out, err := newEditor().Merge(context.Background(), []*raw.Document{a, b})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	want := append(labels(1, 2), labels(1, 2, 3)...)
	if diff := cmp.Diff(want, contents(t, out)); diff != "" {
		t.Fatalf("merged content mismatch (-want +got):\n%s", diff)
	}
	// The font is shared by every page of a source and copied once per source.
	if got := countFonts(out); got != 2 {
		t.Fatalf("merged document has %d fonts, want 2", got)
	}
	if diff := cmp.Diff(want, contents(t, reload(t, out))); diff != "" {
		t.Fatalf("content changed by serialization (-want +got):\n%s", diff)
	}
	// Sources are untouched.
	if diff := cmp.Diff(labels(1, 2), contents(t, a)); diff != "" {
		t.Fatalf("source changed (-want +got):\n%s", diff)
	}
}

func TestMergeNothing(t *testing.T) {
	if _, err := newEditor().Merge(context.Background(), nil); !errors.Is(err, pdferr.ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
}

func TestSplitRange(t *testing.T) {
	doc := load(t, testpdf.Pages(5))
	plan, err := RangePlan(5, 2, 4)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	out, err := newEditor().Split(context.Background(), doc, plan)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if diff := cmp.Diff(labels(2, 3, 4), contents(t, reload(t, out))); diff != "" {
		t.Fatalf("split mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractKeepsPlanOrder(t *testing.T) {
	doc := load(t, testpdf.Pages(6))
	tests := []struct {
		text string
		want []int
	}{
		{"1,3,5-6", []int{1, 3, 5, 6}},
		{"5,3,1", []int{5, 3, 1}},
		{"2,2", []int{2, 2}},
		{"6-4, 1", []int{1}},
	}
	for _, tc := range tests {
		t.Run(tc.text, func(t *testing.T) {
			out, err := newEditor().Extract(context.Background(), doc, tc.text)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if diff := cmp.Diff(labels(tc.want...), contents(t, reload(t, out))); diff != "" {
				t.Fatalf("extract mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractNothing(t *testing.T) {
	doc := load(t, testpdf.Pages(2))
	if _, err := newEditor().Extract(context.Background(), doc, "7-9"); !errors.Is(err, pdferr.ErrInvalidPageIndex) {
		t.Fatalf("expected ErrInvalidPageIndex, got %v", err)
	}
}

func TestSplitDuplicatePageGetsOwnDict(t *testing.T) {
	doc := load(t, testpdf.Pages(2))
	out, err := newEditor().Split(context.Background(), doc, SinglePlan(1, 1))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	refs, err := pagetree.Refs(out)
	if err != nil {
		t.Fatalf("refs: %v", err)
	}
	if len(refs) != 2 || refs[0] == refs[1] {
		t.Fatalf("page refs %v", refs)
	}
	// The content stream is shared through the memo.
	pages, _ := pagetree.Resolve(out)
	if pages[0].Contents[0] != pages[1].Contents[0] {
		t.Fatalf("content copied twice: %v %v", pages[0].Contents, pages[1].Contents)
	}
}

func TestSplitInvalidPlan(t *testing.T) {
	doc := load(t, testpdf.Pages(3))
	_, err := newEditor().Split(context.Background(), doc, SinglePlan(0, 3))
	var pie *pdferr.PageIndexError
	if !errors.As(err, &pie) || pie.Index != 3 || pie.Count != 3 {
		t.Fatalf("expected PageIndexError for 3, got %v", err)
	}
	if _, err := newEditor().Split(context.Background(), doc, PagePlan{{Source: 1}}); !errors.Is(err, pdferr.ErrInvalidPageIndex) {
		t.Fatalf("unknown source: %v", err)
	}
}

// nestedPages has a two-level tree: attributes sit on the ancestors and one
// annotation points back at a sibling page.
func nestedPages() []byte {
	b := testpdf.New("1.6")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	b.Object(2, "<< /Type /Pages /Kids [4 0 R] /Count 2 /MediaBox [0 0 200 300] /Resources << /Font << /F1 3 0 R >> >> >>")
	b.Object(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	b.Object(4, "<< /Type /Pages /Parent 2 0 R /Kids [5 0 R 7 0 R] /Count 2 /Rotate 90 >>")
	b.Object(5, "<< /Type /Page /Parent 4 0 R /Contents 6 0 R /Annots [9 0 R] >>")
	b.Stream(6, "", []byte("BT /F1 12 Tf (first) Tj ET"))
	b.Object(7, "<< /Type /Page /Parent 4 0 R /Contents 8 0 R >>")
	b.Stream(8, "", []byte("BT /F1 12 Tf (second) Tj ET"))
	b.Object(9, "<< /Type /Annot /Subtype /Link /Rect [0 0 10 10] /Dest [7 0 R /Fit] /P 5 0 R >>")
	return b.Finish("")
}

func TestSplitMaterializesInheritance(t *testing.T) {
	doc := load(t, nestedPages())
	out, err := newEditor().Split(context.Background(), doc, SinglePlan(0))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	out = reload(t, out)
	pages, err := pagetree.Resolve(out)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("%d pages", len(pages))
	}
	p := pages[0]
	if p.MediaBox.Width() != 200 || p.MediaBox.Height() != 300 || p.Rotate != 90 {
		t.Fatalf("inherited attributes lost: box %+v rotate %d", p.MediaBox, p.Rotate)
	}
	if res, ok := out.Dict(p.Resources); !ok || res.KV["Font"] == nil {
		t.Fatalf("resources lost: %v", p.Resources)
	}
	// The link to the unselected sibling becomes null; /P maps to the copy.
	dict, _ := out.Dict(raw.RefObj{R: p.Ref})
	annots, _ := out.Array(dict.KV["Annots"])
	annot, _ := out.Dict(annots.Items[0])
	dest, _ := out.Array(annot.KV["Dest"])
	if _, ok := dest.Items[0].(raw.NullObj); !ok {
		t.Fatalf("dest to unselected page = %v", dest.Items[0])
	}
	if ref, ok := annot.KV["P"].(raw.RefObj); !ok || ref.R != p.Ref {
		t.Fatalf("/P = %v, want %v", annot.KV["P"], p.Ref)
	}
}

func TestSplitKeepsLinksBetweenSelectedPages(t *testing.T) {
	doc := load(t, nestedPages())
	out, err := newEditor().Split(context.Background(), doc, SinglePlan(1, 0))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	pages, _ := pagetree.Resolve(out)
	dict, _ := out.Dict(raw.RefObj{R: pages[1].Ref})
	annots, _ := out.Array(dict.KV["Annots"])
	annot, _ := out.Dict(annots.Items[0])
	dest, _ := out.Array(annot.KV["Dest"])
	if ref, ok := dest.Items[0].(raw.RefObj); !ok || ref.R != pages[0].Ref {
		t.Fatalf("dest = %v, want %v", dest.Items[0], pages[0].Ref)
	}
}

func TestComposeCancelled(t *testing.T) {
	doc := load(t, testpdf.Pages(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := newEditor().Merge(ctx, []*raw.Document{doc})
	if out != nil || !errors.Is(err, pdferr.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, %v", out, err)
	}
}
