package ops

import (
	"context"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/pagetree"
	"github.com/wudi/pdfcompose/pdferr"
)

// Organize rebuilds the page tree of a copy of doc with the pages listed in
// order. Pages left out are detached and the writer drops whatever only they
// used. Listing a page twice is a corrupt tree.
func (e *Editor) Organize(ctx context.Context, doc *raw.Document, order []raw.ObjectRef) (*raw.Document, error) {
	if err := pdferr.CheckContext(ctx); err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, errors.Wrap(pdferr.ErrInvalidPageIndex, "organize needs at least one page")
	}
	out := doc.Clone()
	pages, err := pagetree.Resolve(out)
	if err != nil {
		return nil, err
	}
	byRef := make(map[raw.ObjectRef]pagetree.Page, len(pages))
	for _, p := range pages {
		byRef[p.Ref] = p
	}
	for _, ref := range order {
		if _, ok := byRef[ref]; !ok {
			return nil, errors.Wrapf(pdferr.ErrInvalidPageIndex, "page %v is not in the document", ref)
		}
	}
	// Attributes must move onto the pages before their ancestors are detached.
	for _, p := range pages {
		if err := pagetree.Materialize(out, p); err != nil {
			return nil, err
		}
	}
	if err := pagetree.Rebuild(out, order); err != nil {
		return nil, err
	}
	e.logger.Debug("pages organized",
		observability.Int(observability.KeyPages, len(order)),
		observability.Int("removed", len(pages)-len(order)))
	return out, nil
}

// Rotate adds delta degrees to the rotation of the pages with the given 0-based
// indices, or of every page when none are given.
func (e *Editor) Rotate(ctx context.Context, doc *raw.Document, delta int, pages ...int) (*raw.Document, error) {
	if delta%90 != 0 {
		return nil, errors.Wrapf(ErrInvalidRotation, "got %d", delta)
	}
	if err := pdferr.CheckContext(ctx); err != nil {
		return nil, err
	}
	out := doc.Clone()
	all, err := pagetree.Resolve(out)
	if err != nil {
		return nil, err
	}
	sel, err := targets(all, pages)
	if err != nil {
		return nil, err
	}
	for _, p := range sel {
		if err := pagetree.Materialize(out, p); err != nil {
			return nil, err
		}
		dict, _ := out.Dict(raw.RefObj{R: p.Ref})
		dict.Set("Rotate", raw.NumberInt(int64(pagetree.NormalizeRotation(p.Rotate+delta))))
	}
	e.logger.Debug("pages rotated",
		observability.Int(observability.KeyPages, len(sel)),
		observability.Int("delta", delta))
	return out, nil
}
