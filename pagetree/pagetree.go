// Package pagetree turns the catalog's page tree into an ordered list of pages with
// inherited attributes resolved, and writes flat page trees back.
package pagetree

import (
	"github.com/wudi/pdfcompose/coords"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pdferr"
)

// Letter is the MediaBox of pages that declare none anywhere in their chain.
var Letter = coords.Rect{LLX: 0, LLY: 0, URX: 612, URY: 792}

// Page is a resolved view of one leaf of the page tree. It is derived data and
// must be recomputed after the tree changes.
type Page struct {
	Index    int
	Ref      raw.ObjectRef
	MediaBox coords.Rect
	CropBox  coords.Rect
	// Rotate is normalised to 0, 90, 180 or 270.
	Rotate int
	// Resources is the page's own or inherited /Resources value, unresolved.
	Resources raw.Object
	Contents  []raw.ObjectRef
	// InheritedFrom lists the ancestors, nearest first.
	InheritedFrom []raw.ObjectRef

	hasCropBox bool
}

// ResourcesRef returns the indirect reference of the resources dictionary, if any.
func (p Page) ResourcesRef() (raw.ObjectRef, bool) {
	if r, ok := p.Resources.(raw.RefObj); ok {
		return r.R, true
	}
	return raw.ObjectRef{}, false
}

type inherited struct {
	mediaBox  *coords.Rect
	cropBox   *coords.Rect
	rotate    *int
	resources raw.Object
}

type walker struct {
	doc     *raw.Document
	onPath  map[raw.ObjectRef]bool
	visited map[raw.ObjectRef]bool
	pages   []Page
}

// Resolve walks the tree depth-first from the catalog's /Pages. A node that is
// reachable twice (a cycle or a shared kid) makes the tree corrupt.
func Resolve(doc *raw.Document) ([]Page, error) {
	root, err := rootRef(doc)
	if err != nil {
		return nil, err
	}
	w := &walker{
		doc:     doc,
		onPath:  make(map[raw.ObjectRef]bool),
		visited: make(map[raw.ObjectRef]bool),
	}
	if err := w.walk(root, inherited{}, nil); err != nil {
		return nil, err
	}
	return w.pages, nil
}

// Count returns the number of pages.
func Count(doc *raw.Document) (int, error) {
	pages, err := Resolve(doc)
	return len(pages), err
}

// Refs returns the page object references in document order.
func Refs(doc *raw.Document) ([]raw.ObjectRef, error) {
	pages, err := Resolve(doc)
	if err != nil {
		return nil, err
	}
	out := make([]raw.ObjectRef, len(pages))
	for i, p := range pages {
		out[i] = p.Ref
	}
	return out, nil
}

func rootRef(doc *raw.Document) (raw.ObjectRef, error) {
	cat, ok := doc.Catalog()
	if !ok {
		return raw.ObjectRef{}, pdferr.CorruptTree("catalog %v missing", doc.Root)
	}
	pagesObj, ok := cat.Get("Pages")
	if !ok {
		return raw.ObjectRef{}, pdferr.CorruptTree("catalog has no /Pages")
	}
	ref, ok := pagesObj.(raw.RefObj)
	if !ok {
		return raw.ObjectRef{}, pdferr.CorruptTree("/Pages is not an indirect reference")
	}
	if _, ok := doc.Dict(ref); !ok {
		return raw.ObjectRef{}, pdferr.CorruptTree("page tree root %v missing", ref.R)
	}
	return ref.R, nil
}

func (w *walker) walk(ref raw.ObjectRef, inh inherited, chain []raw.ObjectRef) error {
	if w.onPath[ref] {
		return pdferr.CorruptTree("cycle through %v", ref)
	}
	if w.visited[ref] {
		return pdferr.CorruptTree("node %v reachable more than once", ref)
	}
	dict, ok := w.doc.Dict(raw.RefObj{R: ref})
	if !ok {
		// Dangling kids are dropped.
		return nil
	}
	w.visited[ref] = true
	w.onPath[ref] = true
	defer delete(w.onPath, ref)

	next := inh
	if r, ok := RectOf(w.doc, dict, "MediaBox"); ok {
		next.mediaBox = &r
	}
	if r, ok := RectOf(w.doc, dict, "CropBox"); ok {
		next.cropBox = &r
	}
	if v, ok := raw.Number(w.doc.Resolve(dictGet(dict, "Rotate"))); ok {
		rot := int(v)
		next.rotate = &rot
	}
	if res, ok := dict.Get("Resources"); ok {
		next.resources = res
	}

	if !isPageNode(dict) {
		w.pages = append(w.pages, w.page(ref, dict, next, chain))
		return nil
	}
	kids, ok := w.doc.Array(dictGet(dict, "Kids"))
	if !ok {
		return pdferr.CorruptTree("pages node %v has no /Kids array", ref)
	}
	childChain := append([]raw.ObjectRef{ref}, chain...)
	for _, kid := range kids.Items {
		kref, ok := kid.(raw.RefObj)
		if !ok {
			continue
		}
		if err := w.walk(kref.R, next, childChain); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) page(ref raw.ObjectRef, dict *raw.DictObj, inh inherited, chain []raw.ObjectRef) Page {
	p := Page{
		Index:         len(w.pages),
		Ref:           ref,
		MediaBox:      Letter,
		Resources:     inh.resources,
		InheritedFrom: chain,
	}
	if inh.mediaBox != nil {
		p.MediaBox = *inh.mediaBox
	}
	p.CropBox = p.MediaBox
	if inh.cropBox != nil {
		p.CropBox = *inh.cropBox
		p.hasCropBox = true
	}
	if inh.rotate != nil {
		p.Rotate = NormalizeRotation(*inh.rotate)
	}
	switch c := w.doc.Resolve(dictGet(dict, "Contents")).(type) {
	case *raw.StreamObj:
		if r, ok := dictGet(dict, "Contents").(raw.RefObj); ok {
			p.Contents = []raw.ObjectRef{r.R}
		}
	case *raw.ArrayObj:
		for _, it := range c.Items {
			if r, ok := it.(raw.RefObj); ok {
				p.Contents = append(p.Contents, r.R)
			}
		}
	}
	return p
}

// isPageNode reports whether dict is an intermediate node. Without /Type the
// presence of /Kids decides.
func isPageNode(dict *raw.DictObj) bool {
	switch typ, _ := dict.Name("Type"); typ {
	case "Pages":
		return true
	case "Page":
		return false
	}
	_, hasKids := dict.Get("Kids")
	return hasKids
}

func dictGet(d *raw.DictObj, key string) raw.Object {
	v, _ := d.Get(key)
	return v
}

// NormalizeRotation maps any angle to 0, 90, 180 or 270, rounding down to a
// multiple of 90.
func NormalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg - deg%90
}

// RectOf reads a rectangle entry, resolving references.
func RectOf(doc *raw.Document, d *raw.DictObj, key string) (coords.Rect, bool) {
	arr, ok := doc.Array(dictGet(d, key))
	if !ok || arr.Len() != 4 {
		return coords.Rect{}, false
	}
	var v [4]float64
	for i, it := range arr.Items {
		n, ok := raw.Number(doc.Resolve(it))
		if !ok {
			return coords.Rect{}, false
		}
		v[i] = n
	}
	return coords.NewRect(v[0], v[1], v[2], v[3]), true
}

// RectObject renders r as a PDF array.
func RectObject(r coords.Rect) *raw.ArrayObj {
	return raw.NewArray(number(r.LLX), number(r.LLY), number(r.URX), number(r.URY))
}

func number(f float64) raw.NumberObj {
	if f == float64(int64(f)) {
		return raw.NumberInt(int64(f))
	}
	return raw.NumberFloat(f)
}
