package pagetree

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/wudi/pdfcompose/coords"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pdferr"
)

func ref(n int) raw.RefObj { return raw.Ref(n, 0) }

func dict(kv ...interface{}) *raw.DictObj {
	d := raw.Dict()
	for i := 0; i < len(kv); i += 2 {
		d.Set(kv[i].(string), kv[i+1].(raw.Object))
	}
	return d
}

func box(a, b, c, d int64) *raw.ArrayObj {
	return raw.NewArray(raw.NumberInt(a), raw.NumberInt(b), raw.NumberInt(c), raw.NumberInt(d))
}

// nestedDoc: root (2) with MediaBox A4 and Rotate 90 holds page 3 and node 4;
// node 4 overrides MediaBox and holds pages 5 and 6; page 6 sets its own Rotate.
func nestedDoc() *raw.Document {
	doc := raw.NewDocument()
	doc.Root = raw.ObjectRef{Num: 1}
	doc.Objects[raw.ObjectRef{Num: 1}] = dict("Type", raw.NameLiteral("Catalog"), "Pages", ref(2))
	doc.Objects[raw.ObjectRef{Num: 2}] = dict("Type", raw.NameLiteral("Pages"),
		"Kids", raw.NewArray(ref(3), ref(4)), "Count", raw.NumberInt(3),
		"MediaBox", box(0, 0, 595, 842), "Rotate", raw.NumberInt(90),
		"Resources", ref(9))
	doc.Objects[raw.ObjectRef{Num: 3}] = dict("Type", raw.NameLiteral("Page"), "Parent", ref(2), "Contents", ref(10))
	doc.Objects[raw.ObjectRef{Num: 4}] = dict("Type", raw.NameLiteral("Pages"), "Parent", ref(2),
		"Kids", raw.NewArray(ref(5), ref(6)), "Count", raw.NumberInt(2), "MediaBox", box(0, 0, 100, 200))
	doc.Objects[raw.ObjectRef{Num: 5}] = dict("Type", raw.NameLiteral("Page"), "Parent", ref(4),
		"Contents", raw.NewArray(ref(10), ref(11)))
	doc.Objects[raw.ObjectRef{Num: 6}] = dict("Type", raw.NameLiteral("Page"), "Parent", ref(4),
		"Rotate", raw.NumberInt(-90), "CropBox", box(10, 10, 50, 50))
	doc.Objects[raw.ObjectRef{Num: 9}] = dict("Font", raw.Dict())
	doc.Objects[raw.ObjectRef{Num: 10}] = raw.NewStream(nil, []byte("q Q"))
	doc.Objects[raw.ObjectRef{Num: 11}] = raw.NewStream(nil, []byte("0 0 m"))
	return doc
}

func TestResolveInheritance(t *testing.T) {
	pages, err := Resolve(nestedDoc())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	a4 := coords.Rect{URX: 595, URY: 842}
	small := coords.Rect{URX: 100, URY: 200}
	want := []Page{
		{Index: 0, Ref: raw.ObjectRef{Num: 3}, MediaBox: a4, CropBox: a4, Rotate: 90, Resources: ref(9),
			Contents: []raw.ObjectRef{{Num: 10}}, InheritedFrom: []raw.ObjectRef{{Num: 2}}},
		{Index: 1, Ref: raw.ObjectRef{Num: 5}, MediaBox: small, CropBox: small, Rotate: 90, Resources: ref(9),
			Contents: []raw.ObjectRef{{Num: 10}, {Num: 11}}, InheritedFrom: []raw.ObjectRef{{Num: 4}, {Num: 2}}},
		{Index: 2, Ref: raw.ObjectRef{Num: 6}, MediaBox: small, CropBox: coords.Rect{LLX: 10, LLY: 10, URX: 50, URY: 50},
			Rotate: 270, Resources: ref(9), InheritedFrom: []raw.ObjectRef{{Num: 4}, {Num: 2}}},
	}
	if diff := cmp.Diff(want, pages, cmpopts.IgnoreUnexported(Page{})); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveDefaultsToLetter(t *testing.T) {
	doc := raw.NewDocument()
	doc.Root = raw.ObjectRef{Num: 1}
	doc.Objects[raw.ObjectRef{Num: 1}] = dict("Type", raw.NameLiteral("Catalog"), "Pages", ref(2))
	doc.Objects[raw.ObjectRef{Num: 2}] = dict("Kids", raw.NewArray(ref(3), ref(7)))
	doc.Objects[raw.ObjectRef{Num: 3}] = dict("Parent", ref(2))
	pages, err := Resolve(doc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// The dangling kid 7 is dropped.
	if len(pages) != 1 || pages[0].MediaBox != Letter {
		t.Fatalf("unexpected pages %+v", pages)
	}
}

func TestResolveCorruptTrees(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(doc *raw.Document)
	}{
		{"cycle", func(doc *raw.Document) {
			node, _ := doc.Dict(ref(4))
			node.Set("Kids", raw.NewArray(ref(5), ref(2)))
		}},
		{"shared kid", func(doc *raw.Document) {
			node, _ := doc.Dict(ref(4))
			node.Set("Kids", raw.NewArray(ref(5), ref(3)))
		}},
		{"self kid", func(doc *raw.Document) {
			node, _ := doc.Dict(ref(4))
			node.Set("Kids", raw.NewArray(ref(4)))
		}},
		{"missing pages", func(doc *raw.Document) {
			cat, _ := doc.Catalog()
			cat.Delete("Pages")
		}},
		{"missing root", func(doc *raw.Document) {
			doc.Root = raw.ObjectRef{Num: 99}
		}},
		{"kids not array", func(doc *raw.Document) {
			node, _ := doc.Dict(ref(2))
			node.Set("Kids", raw.NumberInt(3))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := nestedDoc()
			tt.mutate(doc)
			if _, err := Resolve(doc); !errors.Is(err, pdferr.ErrCorruptPageTree) {
				t.Fatalf("expected ErrCorruptPageTree, got %v", err)
			}
		})
	}
}

func TestNormalizeRotation(t *testing.T) {
	tests := map[int]int{0: 0, 90: 90, 360: 0, 450: 90, -90: 270, -180: 180, 45: 0, 135: 90, -45: 270}
	for in, want := range tests {
		if got := NormalizeRotation(in); got != want {
			t.Errorf("NormalizeRotation(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRebuildFlattensAndMaterializes(t *testing.T) {
	doc := nestedDoc()
	before, err := Resolve(doc)
	if err != nil {
		t.Fatal(err)
	}
	order := []raw.ObjectRef{before[2].Ref, before[0].Ref, before[1].Ref}
	for _, p := range before {
		if err := Materialize(doc, p); err != nil {
			t.Fatal(err)
		}
	}
	if err := Rebuild(doc, order); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	after, err := Resolve(doc)
	if err != nil {
		t.Fatalf("resolve after rebuild: %v", err)
	}
	byRef := map[raw.ObjectRef]Page{}
	for _, p := range before {
		byRef[p.Ref] = p
	}
	for i, p := range after {
		if p.Ref != order[i] {
			t.Fatalf("page %d is %v, want %v", i, p.Ref, order[i])
		}
		old := byRef[p.Ref]
		if p.MediaBox != old.MediaBox || p.CropBox != old.CropBox || p.Rotate != old.Rotate {
			t.Fatalf("page %v lost inherited attributes: %+v vs %+v", p.Ref, p, old)
		}
		if len(p.InheritedFrom) != 1 || p.InheritedFrom[0] != (raw.ObjectRef{Num: 2}) {
			t.Fatalf("expected flat tree, chain %v", p.InheritedFrom)
		}
	}
	if err := Rebuild(doc, []raw.ObjectRef{order[0], order[0]}); !errors.Is(err, pdferr.ErrCorruptPageTree) {
		t.Fatalf("duplicate page should be rejected, got %v", err)
	}
}
