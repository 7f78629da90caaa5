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

func pageRefs(t *testing.T, doc *raw.Document) []raw.ObjectRef {
	t.Helper()
	refs, err := pagetree.Refs(doc)
	if err != nil {
		t.Fatalf("refs: %v", err)
	}
	return refs
}

func rotations(t *testing.T, doc *raw.Document) []int {
	t.Helper()
	pages, err := pagetree.Resolve(doc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	out := make([]int, len(pages))
	for i, p := range pages {
		out[i] = p.Rotate
	}
	return out
}

func TestOrganizeInverse(t *testing.T) {
	doc := load(t, testpdf.Pages(4))
	refs := pageRefs(t, doc)
	perm := []int{2, 0, 3, 1}
	order := make([]raw.ObjectRef, len(perm))
	for i, p := range perm {
		order[i] = refs[p]
	}
	ed := newEditor()
	shuffled, err := ed.Organize(context.Background(), doc, order)
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if diff := cmp.Diff(labels(3, 1, 4, 2), contents(t, reload(t, shuffled))); diff != "" {
		t.Fatalf("permuted content mismatch (-want +got):\n%s", diff)
	}

	inverse := make([]raw.ObjectRef, len(perm))
	for i, p := range perm {
		inverse[p] = order[i]
	}
	// order[i] = refs[perm[i]], so placing it at perm[i] restores refs.
	restored, err := ed.Organize(context.Background(), shuffled, inverse)
	if err != nil {
		t.Fatalf("organize back: %v", err)
	}
	if diff := cmp.Diff(refs, pageRefs(t, restored)); diff != "" {
		t.Fatalf("page order not restored (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(contents(t, doc), contents(t, reload(t, restored))); diff != "" {
		t.Fatalf("content not restored (-want +got):\n%s", diff)
	}
}

func TestOrganizeRemovesPages(t *testing.T) {
	doc := load(t, testpdf.Pages(3))
	refs := pageRefs(t, doc)
	out, err := newEditor().Organize(context.Background(), doc, []raw.ObjectRef{refs[2]})
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	reloaded := reload(t, out)
	if diff := cmp.Diff(labels(3), contents(t, reloaded)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	// Pages 1 and 2 and their content streams were dropped by the writer.
	if _, ok := reloaded.Get(refs[0]); ok {
		t.Fatalf("removed page %v still present", refs[0])
	}
	if n, _ := pagetree.Count(doc); n != 3 {
		t.Fatalf("source changed: %d pages", n)
	}
}

func TestOrganizeRejects(t *testing.T) {
	doc := load(t, testpdf.Pages(2))
	refs := pageRefs(t, doc)
	tests := []struct {
		name  string
		order []raw.ObjectRef
		want  error
	}{
		{"duplicate", []raw.ObjectRef{refs[0], refs[0]}, pdferr.ErrCorruptPageTree},
		{"unknown", []raw.ObjectRef{refs[0], {Num: 99}}, pdferr.ErrInvalidPageIndex},
		{"empty", nil, pdferr.ErrInvalidPageIndex},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := newEditor().Organize(context.Background(), doc, tc.order); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestOrganizeKeepsInheritedAttributes(t *testing.T) {
	doc := load(t, nestedPages())
	refs := pageRefs(t, doc)
	out, err := newEditor().Organize(context.Background(), doc, []raw.ObjectRef{refs[1], refs[0]})
	if err != nil {
		t.Fatalf("organize: %v", err)
	}
	if diff := cmp.Diff([]int{90, 90}, rotations(t, reload(t, out))); diff != "" {
		t.Fatalf("rotation lost (-want +got):\n%s", diff)
	}
}

func TestRotateComposition(t *testing.T) {
	doc := load(t, nestedPages())
	ed := newEditor()
	ctx := context.Background()
	once, err := ed.Rotate(ctx, doc, 90)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	twice, err := ed.Rotate(ctx, once, 90)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	direct, err := ed.Rotate(ctx, doc, 180)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if diff := cmp.Diff(rotations(t, direct), rotations(t, twice)); diff != "" {
		t.Fatalf("90+90 != 180 (-direct +twice):\n%s", diff)
	}
	if diff := cmp.Diff([]int{270, 270}, rotations(t, reload(t, twice))); diff != "" {
		t.Fatalf("rotations (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{90, 90}, rotations(t, doc)); diff != "" {
		t.Fatalf("source changed (-want +got):\n%s", diff)
	}
}

func TestRotateSubset(t *testing.T) {
	doc := load(t, testpdf.Pages(3))
	out, err := newEditor().Rotate(context.Background(), doc, -90, 1)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if diff := cmp.Diff([]int{0, 270, 0}, rotations(t, out)); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestRotateRejects(t *testing.T) {
	doc := load(t, testpdf.Pages(2))
	if _, err := newEditor().Rotate(context.Background(), doc, 45); !errors.Is(err, ErrInvalidRotation) {
		t.Fatalf("45 degrees: %v", err)
	}
	if _, err := newEditor().Rotate(context.Background(), doc, 90, 2); !errors.Is(err, pdferr.ErrInvalidPageIndex) {
		t.Fatalf("page 2 of 2: %v", err)
	}
}
