package ops

import (
	"context"

	"github.com/wudi/pdfcompose/builder"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pagetree"
	"github.com/wudi/pdfcompose/pdferr"
)

// inheritable are the page attributes a page may take from its ancestors.
var inheritable = []string{"Resources", "MediaBox", "CropBox", "Rotate"}

// copier moves the closure of selected pages from one source into a builder.
// Each source object is copied at most once; memo maps source references to
// their copies.
type copier struct {
	ctx    context.Context
	src    *raw.Document
	dst    *builder.Builder
	memo   map[raw.ObjectRef]raw.ObjectRef
	nodes  map[raw.ObjectRef]bool          // every page-tree node of src
	pages  map[raw.ObjectRef]raw.ObjectRef // selected page -> its first copy
	copied int
}

func newCopier(ctx context.Context, src *raw.Document, dst *builder.Builder, pages []pagetree.Page) *copier {
	c := &copier{
		ctx:   ctx,
		src:   src,
		dst:   dst,
		memo:  make(map[raw.ObjectRef]raw.ObjectRef),
		nodes: make(map[raw.ObjectRef]bool),
		pages: make(map[raw.ObjectRef]raw.ObjectRef),
	}
	for _, p := range pages {
		c.nodes[p.Ref] = true
		for _, a := range p.InheritedFrom {
			c.nodes[a] = true
		}
	}
	return c
}

// selectPage records the reserved copy of a page. The first copy is the target of
// references to that page from elsewhere in the closure.
func (c *copier) selectPage(src, dst raw.ObjectRef) {
	if _, ok := c.pages[src]; !ok {
		c.pages[src] = dst
	}
}

// copyPage writes a copy of p under ref. The copy has no /Parent and carries
// its inherited attributes.
func (c *copier) copyPage(p pagetree.Page, ref raw.ObjectRef) error {
	dict, ok := c.src.Dict(raw.RefObj{R: p.Ref})
	if !ok {
		return pdferr.CorruptTree("page %v missing", p.Ref)
	}
	out := raw.Dict()
	for _, k := range dict.Keys() {
		if k == "Parent" {
			continue
		}
		v, err := c.copy(dict.KV[k])
		if err != nil {
			return err
		}
		out.Set(k, v)
	}
	for _, key := range inheritable {
		if _, ok := out.Get(key); ok {
			continue
		}
		v := c.inherited(p, key)
		if v == nil {
			continue
		}
		cv, err := c.copy(v)
		if err != nil {
			return err
		}
		out.Set(key, cv)
	}
	if _, ok := out.Get("MediaBox"); !ok {
		out.Set("MediaBox", pagetree.RectObject(p.MediaBox))
	}
	c.dst.Set(ref, out)
	c.dst.AddPage(ref)
	return nil
}

// inherited returns the nearest ancestor's value for key.
func (c *copier) inherited(p pagetree.Page, key string) raw.Object {
	for _, a := range p.InheritedFrom {
		d, ok := c.src.Dict(raw.RefObj{R: a})
		if !ok {
			continue
		}
		if v, ok := d.Get(key); ok {
			return v
		}
	}
	return nil
}

func (c *copier) copy(o raw.Object) (raw.Object, error) {
	switch v := o.(type) {
	case raw.RefObj:
		return c.copyRef(v.R)
	case *raw.ArrayObj:
		out := &raw.ArrayObj{Items: make([]raw.Object, len(v.Items))}
		for i, it := range v.Items {
			cv, err := c.copy(it)
			if err != nil {
				return nil, err
			}
			out.Items[i] = cv
		}
		return out, nil
	case *raw.DictObj:
		out := raw.Dict()
		for _, k := range v.Keys() {
			cv, err := c.copy(v.KV[k])
			if err != nil {
				return nil, err
			}
			out.KV[k] = cv
		}
		return out, nil
	case *raw.StreamObj:
		d, err := c.copy(v.Dict)
		if err != nil {
			return nil, err
		}
		return raw.NewStream(d.(*raw.DictObj), append([]byte(nil), v.Data...)), nil
	default:
		return raw.Clone(o), nil
	}
}

// copyRef maps a source reference into the target. References to page-tree
// nodes outside the selection become null.
func (c *copier) copyRef(ref raw.ObjectRef) (raw.Object, error) {
	if n, ok := c.memo[ref]; ok {
		return raw.RefObj{R: n}, nil
	}
	if c.nodes[ref] {
		if n, ok := c.pages[ref]; ok {
			return raw.RefObj{R: n}, nil
		}
		return raw.NullObj{}, nil
	}
	obj, ok := c.src.Get(ref)
	if !ok {
		return raw.NullObj{}, nil
	}
	c.copied++
	if c.copied%64 == 0 {
		if err := pdferr.CheckContext(c.ctx); err != nil {
			return nil, err
		}
	}
	n := c.dst.Reserve()
	c.memo[ref] = n
	cv, err := c.copy(obj)
	if err != nil {
		return nil, err
	}
	c.dst.Set(n, cv)
	return raw.RefObj{R: n}, nil
}
