package ops

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/builder"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/pagetree"
	"github.com/wudi/pdfcompose/pdferr"
)

// Merge concatenates every page of docs, in order, into a new document.
func (e *Editor) Merge(ctx context.Context, docs []*raw.Document) (*raw.Document, error) {
	if len(docs) == 0 {
		return nil, errors.Wrap(pdferr.ErrInvalidDocument, "merge needs at least one document")
	}
	var plan PagePlan
	for i, d := range docs {
		n, err := pagetree.Count(d)
		if err != nil {
			return nil, errors.Wrapf(err, "document %d", i)
		}
		for p := 0; p < n; p++ {
			plan = append(plan, PageRef{Source: i, Page: p})
		}
	}
	return e.Compose(ctx, docs, plan)
}

// Split builds a document from the pages of doc named by plan, in plan order.
// Every entry must have Source 0.
func (e *Editor) Split(ctx context.Context, doc *raw.Document, plan PagePlan) (*raw.Document, error) {
	return e.Compose(ctx, []*raw.Document{doc}, plan)
}

// Extract is Split driven by page-range text such as "1,3,5-6".
func (e *Editor) Extract(ctx context.Context, doc *raw.Document, rangeText string) (*raw.Document, error) {
	n, err := pagetree.Count(doc)
	if err != nil {
		return nil, err
	}
	plan, err := PlanFromRange(rangeText, n)
	if err != nil {
		return nil, errors.Wrap(pdferr.ErrInvalidPageIndex, err.Error())
	}
	return e.Split(ctx, doc, plan)
}

// Compose builds a new document whose pages are the closures of the planned
// pages. Objects shared between pages of one source are copied once; sources
// never share objects in the result.
func (e *Editor) Compose(ctx context.Context, docs []*raw.Document, plan PagePlan) (*raw.Document, error) {
	if err := pdferr.CheckContext(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	pages := make([][]pagetree.Page, len(docs))
	counts := make([]int, len(docs))
	for i, d := range docs {
		if d == nil {
			return nil, errors.Wrapf(pdferr.ErrInvalidDocument, "document %d is nil", i)
		}
		p, err := pagetree.Resolve(d)
		if err != nil {
			return nil, errors.Wrapf(err, "document %d", i)
		}
		pages[i] = p
		counts[i] = len(p)
	}
	if err := plan.Validate(counts); err != nil {
		return nil, err
	}

	b := builder.New(e.pipeline)
	copiers := make([]*copier, len(docs))
	refs := make([]raw.ObjectRef, len(plan))
	for i, pr := range plan {
		if copiers[pr.Source] == nil {
			copiers[pr.Source] = newCopier(ctx, docs[pr.Source], b, pages[pr.Source])
		}
		refs[i] = b.Reserve()
		copiers[pr.Source].selectPage(pages[pr.Source][pr.Page].Ref, refs[i])
	}
	for i, pr := range plan {
		if err := pdferr.CheckContext(ctx); err != nil {
			return nil, err
		}
		if err := copiers[pr.Source].copyPage(pages[pr.Source][pr.Page], refs[i]); err != nil {
			return nil, err
		}
	}
	out, err := b.Build()
	if err != nil {
		return nil, err
	}
	out.Version = maxVersion(docs)
	e.logger.Debug("pages composed",
		observability.Int("sources", len(docs)),
		observability.Int(observability.KeyPages, len(plan)),
		observability.Int(observability.KeyObjects, len(out.Objects)),
		observability.Duration(observability.KeyDuration, time.Since(start)))
	return out, nil
}

func maxVersion(docs []*raw.Document) string {
	v := "1.4"
	for _, d := range docs {
		if d.Version > v && len(d.Version) == 3 {
			v = d.Version
		}
	}
	return v
}
