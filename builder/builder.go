// Package builder allocates objects for a new document: the catalog, a flat page
// tree, pages with their content streams and image XObjects.
package builder

import (
	"github.com/wudi/pdfcompose/contentstream"
	"github.com/wudi/pdfcompose/coords"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pagetree"
)

// Builder hands out ascending object numbers. Object 1 is the catalog and object
// 2 the page tree root.
type Builder struct {
	doc     *raw.Document
	decoder raw.StreamDecoder
	pages   []raw.ObjectRef
	next    int
}

var (
	catalogRef = raw.ObjectRef{Num: 1}
	pagesRef   = raw.ObjectRef{Num: 2}
)

// New starts a document. Streams the builder creates get dec installed so their
// decoded bodies are available before the document is serialized; dec may be nil.
func New(dec raw.StreamDecoder) *Builder {
	doc := raw.NewDocument()
	doc.Root = catalogRef
	cat := raw.Dict()
	cat.Set("Type", raw.NameLiteral("Catalog"))
	cat.Set("Pages", raw.RefObj{R: pagesRef})
	doc.Objects[catalogRef] = cat
	doc.Objects[pagesRef] = raw.Dict()
	return &Builder{doc: doc, decoder: dec, next: 3}
}

// Reserve allocates an object number without storing an object. The caller must
// Set it before Build.
func (b *Builder) Reserve() raw.ObjectRef {
	ref := raw.ObjectRef{Num: b.next}
	b.next++
	return ref
}

// Set stores o under a reserved reference.
func (b *Builder) Set(ref raw.ObjectRef, o raw.Object) {
	if s, ok := o.(*raw.StreamObj); ok && b.decoder != nil && len(s.Filters()) > 0 {
		s.SetDecoder(b.decoder)
	}
	b.doc.Objects[ref] = o
}

// Add stores o under a fresh reference.
func (b *Builder) Add(o raw.Object) raw.ObjectRef {
	ref := b.Reserve()
	b.Set(ref, o)
	return ref
}

// AddPage appends an existing page dictionary to the page tree.
func (b *Builder) AddPage(ref raw.ObjectRef) {
	b.pages = append(b.pages, ref)
}

// PageCount is the number of pages appended so far.
func (b *Builder) PageCount() int { return len(b.pages) }

// Build finalises the page tree and returns the document. The builder must not be
// used afterwards.
func (b *Builder) Build() (*raw.Document, error) {
	if err := pagetree.Rebuild(b.doc, b.pages); err != nil {
		return nil, err
	}
	return b.doc, nil
}

// PageBuilder collects one page's resources and operations.
type PageBuilder struct {
	b         *Builder
	mediaBox  coords.Rect
	resources *raw.DictObj
	ops       []contentstream.Operation
}

// NewPage starts a page of the given size in points.
func (b *Builder) NewPage(width, height float64) *PageBuilder {
	return &PageBuilder{
		b:         b,
		mediaBox:  coords.Rect{URX: width, URY: height},
		resources: raw.Dict(),
	}
}

// Resource registers ref under /category /name in the page resources.
func (p *PageBuilder) Resource(category, name string, ref raw.ObjectRef) *PageBuilder {
	sub, ok := p.resources.KV[category].(*raw.DictObj)
	if !ok {
		sub = raw.Dict()
		p.resources.Set(category, sub)
	}
	sub.Set(name, raw.RefObj{R: ref})
	return p
}

// Draw appends operations to the page content.
func (p *PageBuilder) Draw(ops ...contentstream.Operation) *PageBuilder {
	p.ops = append(p.ops, ops...)
	return p
}

// DrawImage paints the XObject named name into the rectangle r.
func (p *PageBuilder) DrawImage(name string, r coords.Rect) *PageBuilder {
	return p.Draw(
		contentstream.Op(contentstream.OpSave),
		contentstream.Op(contentstream.OpConcat, num(r.Width()), num(0), num(0), num(r.Height()), num(r.LLX), num(r.LLY)),
		contentstream.Op(contentstream.OpXObject, raw.NameLiteral(name)),
		contentstream.Op(contentstream.OpRestore),
	)
}

// Finish writes the content stream and page dictionary and appends the page.
func (p *PageBuilder) Finish() raw.ObjectRef {
	content := p.b.Add(raw.NewStream(nil, contentstream.Write(p.ops)))
	page := raw.Dict()
	page.Set("Type", raw.NameLiteral("Page"))
	page.Set("MediaBox", pagetree.RectObject(p.mediaBox))
	page.Set("Resources", p.resources)
	page.Set("Contents", raw.RefObj{R: content})
	ref := p.b.Add(page)
	p.b.AddPage(ref)
	return ref
}

func num(f float64) raw.NumberObj {
	if f == float64(int64(f)) {
		return raw.NumberInt(int64(f))
	}
	return raw.NumberFloat(f)
}
