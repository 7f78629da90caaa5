// Package ops implements the document edits: merging, splitting, reordering,
// rotating, watermarking, protecting, and converting between images and pages.
//
// Every operation leaves its inputs untouched and returns a new Document.
package ops

import (
	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/filters"
	"github.com/wudi/pdfcompose/observability"
	"github.com/wudi/pdfcompose/pagerange"
	"github.com/wudi/pdfcompose/pagetree"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/security"
)

// ErrInvalidRotation is returned for rotation deltas that are not multiples of 90.
var ErrInvalidRotation = errors.New("rotation must be a multiple of 90 degrees")

type Config struct {
	Limits security.Limits
	Logger observability.Logger
}

// Editor performs edit operations. It holds no document state.
type Editor struct {
	cfg      Config
	pipeline *filters.Pipeline
	logger   observability.Logger
}

func New(cfg Config) *Editor {
	if cfg.Limits == (security.Limits{}) {
		cfg.Limits = security.DefaultLimits()
	}
	return &Editor{
		cfg: cfg,
		pipeline: filters.NewStandardPipeline(filters.Limits{
			MaxDecompressedSize: cfg.Limits.MaxDecompressedSize,
			MaxDecodeTime:       cfg.Limits.MaxDecodeTime,
		}),
		logger: observability.OrNop(cfg.Logger),
	}
}

// PageRef names page Page (0-based) of source document Source.
type PageRef struct {
	Source int
	Page   int
}

// PagePlan lists the pages of an output document, in output order.
type PagePlan []PageRef

// Validate checks every entry against the page counts of the sources. Nothing is
// clamped.
func (p PagePlan) Validate(counts []int) error {
	if len(p) == 0 {
		return errors.Wrap(pdferr.ErrInvalidPageIndex, "empty page plan")
	}
	for _, ref := range p {
		if ref.Source < 0 || ref.Source >= len(counts) {
			return errors.Wrapf(pdferr.ErrInvalidPageIndex, "source %d of %d", ref.Source, len(counts))
		}
		if ref.Page < 0 || ref.Page >= counts[ref.Source] {
			return &pdferr.PageIndexError{Index: ref.Page, Count: counts[ref.Source]}
		}
	}
	return nil
}

// SinglePlan plans the given 0-based pages of one source.
func SinglePlan(pages ...int) PagePlan {
	plan := make(PagePlan, len(pages))
	for i, p := range pages {
		plan[i] = PageRef{Page: p}
	}
	return plan
}

// PlanFromRange parses page-range text such as "1,3,5-6" for a document of
// pageCount pages.
func PlanFromRange(text string, pageCount int) (PagePlan, error) {
	idx, err := pagerange.Parse(text, pageCount)
	if err != nil {
		return nil, err
	}
	return SinglePlan(idx...), nil
}

// RangePlan plans the 1-based inclusive range [start, end], clamped into the
// document. Reversed bounds are swapped.
func RangePlan(pageCount, start, end int) (PagePlan, error) {
	if pageCount <= 0 {
		return nil, errors.Wrap(pdferr.ErrInvalidPageIndex, "document has no pages")
	}
	if start > end {
		start, end = end, start
	}
	start = clamp(start, 1, pageCount)
	end = clamp(end, 1, pageCount)
	plan := make(PagePlan, 0, end-start+1)
	for p := start; p <= end; p++ {
		plan = append(plan, PageRef{Page: p - 1})
	}
	return plan, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// targets resolves an optional 0-based page subset; no indices means every page.
func targets(pages []pagetree.Page, indices []int) ([]pagetree.Page, error) {
	if len(indices) == 0 {
		return pages, nil
	}
	out := make([]pagetree.Page, 0, len(indices))
	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(pages) {
			return nil, &pdferr.PageIndexError{Index: i, Count: len(pages)}
		}
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, pages[i])
	}
	return out, nil
}
