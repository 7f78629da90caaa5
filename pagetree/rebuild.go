package pagetree

import (
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pdferr"
)

// Materialize copies inherited attributes onto the page dictionary so the page no
// longer depends on its ancestors.
func Materialize(doc *raw.Document, p Page) error {
	dict, ok := doc.Dict(raw.RefObj{R: p.Ref})
	if !ok {
		return pdferr.CorruptTree("page %v missing", p.Ref)
	}
	if _, ok := dict.Get("MediaBox"); !ok {
		dict.Set("MediaBox", RectObject(p.MediaBox))
	}
	if _, ok := dict.Get("CropBox"); !ok && p.hasCropBox {
		dict.Set("CropBox", RectObject(p.CropBox))
	}
	if _, ok := dict.Get("Rotate"); !ok && p.Rotate != 0 {
		dict.Set("Rotate", raw.NumberInt(int64(p.Rotate)))
	}
	if _, ok := dict.Get("Resources"); !ok && p.Resources != nil {
		dict.Set("Resources", raw.Clone(p.Resources))
	}
	return nil
}

// Rebuild replaces the page tree with a single node whose kids are pages, in order.
// Pages must already carry their inherited attributes (see Materialize). The
// existing root node object is reused when there is one.
func Rebuild(doc *raw.Document, pages []raw.ObjectRef) error {
	cat, ok := doc.Catalog()
	if !ok {
		return pdferr.CorruptTree("catalog %v missing", doc.Root)
	}
	seen := make(map[raw.ObjectRef]bool, len(pages))
	kids := raw.NewArray()
	for _, ref := range pages {
		if seen[ref] {
			return pdferr.CorruptTree("page %v listed twice", ref)
		}
		seen[ref] = true
		if _, ok := doc.Dict(raw.RefObj{R: ref}); !ok {
			return pdferr.CorruptTree("page %v missing", ref)
		}
		kids.Append(raw.RefObj{R: ref})
	}

	node := raw.Dict()
	node.Set("Type", raw.NameLiteral("Pages"))
	node.Set("Kids", kids)
	node.Set("Count", raw.NumberInt(int64(len(pages))))

	var rootRef raw.ObjectRef
	if r, ok := dictGet(cat, "Pages").(raw.RefObj); ok {
		rootRef = r.R
		doc.Objects[rootRef] = node
	} else {
		rootRef = doc.Add(node)
		cat.Set("Pages", raw.RefObj{R: rootRef})
	}
	for _, ref := range pages {
		dict, _ := doc.Dict(raw.RefObj{R: ref})
		dict.Set("Type", raw.NameLiteral("Page"))
		dict.Set("Parent", raw.RefObj{R: rootRef})
	}
	return nil
}
