package ops

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wudi/pdfcompose/internal/testpdf"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pagerange"
	"github.com/wudi/pdfcompose/pagetree"
	"github.com/wudi/pdfcompose/parser"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/writer"
)

func load(t *testing.T, data []byte) *raw.Document {
	t.Helper()
	doc, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(context.Background(), data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

// reload serializes doc and parses the result.
func reload(t *testing.T, doc *raw.Document) *raw.Document {
	t.Helper()
	data, err := writer.New(writer.Config{}).Write(context.Background(), doc)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	return load(t, data)
}

// contents returns the decoded content of every page, in page order.
func contents(t *testing.T, doc *raw.Document) []string {
	t.Helper()
	pages, err := pagetree.Resolve(doc)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	out := make([]string, len(pages))
	for i, p := range pages {
		var body []byte
		for _, ref := range p.Contents {
			s, ok := doc.Stream(raw.RefObj{R: ref})
			if !ok {
				t.Fatalf("page %d: content %v is not a stream", i, ref)
			}
			data, err := s.Decoded(context.Background())
			if err != nil {
				t.Fatalf("page %d: decode: %v", i, err)
			}
			body = append(body, data...)
		}
		out[i] = string(body)
	}
	return out
}

// pageLabel is the content testpdf.Pages draws on page n (1-based) of a Letter page.
func pageLabel(n int) string {
	return "1 0 0 rg 10 10 100 100 re f\nBT /F1 24 Tf 72 720 Td (Page " + strconv.Itoa(n) + ") Tj ET"
}

func labels(ns ...int) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = pageLabel(n)
	}
	return out
}

func newEditor() *Editor { return New(Config{}) }

func TestPlanValidate(t *testing.T) {
	tests := []struct {
		name   string
		plan   PagePlan
		counts []int
		ok     bool
	}{
		{"single source", SinglePlan(0, 2, 1), []int{3}, true},
		{"two sources", PagePlan{{0, 0}, {1, 1}}, []int{1, 2}, true},
		{"empty", nil, []int{3}, false},
		{"page past end", SinglePlan(3), []int{3}, false},
		{"negative page", SinglePlan(-1), []int{3}, false},
		{"unknown source", PagePlan{{Source: 1}}, []int{3}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.plan.Validate(tc.counts)
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
			if err != nil && !errors.Is(err, pdferr.ErrInvalidPageIndex) {
				t.Fatalf("error %v does not match ErrInvalidPageIndex", err)
			}
		})
	}
}

func TestRangePlanClamps(t *testing.T) {
	tests := []struct {
		start, end int
		want       PagePlan
	}{
		{2, 4, SinglePlan(1, 2, 3)},
		{0, 2, SinglePlan(0, 1)},
		{4, 99, SinglePlan(3, 4)},
		{3, 1, SinglePlan(0, 1, 2)},
	}
	for _, tc := range tests {
		got, err := RangePlan(5, tc.start, tc.end)
		if err != nil {
			t.Fatalf("RangePlan(%d, %d): %v", tc.start, tc.end, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("RangePlan(%d, %d) mismatch (-want +got):\n%s", tc.start, tc.end, diff)
		}
	}
	if _, err := RangePlan(0, 1, 1); !errors.Is(err, pdferr.ErrInvalidPageIndex) {
		t.Fatalf("empty document: %v", err)
	}
}

func TestPlanFromRange(t *testing.T) {
	got, err := PlanFromRange("1,3,5-6", 6)
	if err != nil {
		t.Fatalf("PlanFromRange: %v", err)
	}
	if diff := cmp.Diff(SinglePlan(0, 2, 4, 5), got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	if _, err := PlanFromRange("9, x", 6); !errors.Is(err, pagerange.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestTargets(t *testing.T) {
	pages := make([]pagetree.Page, 4)
	for i := range pages {
		pages[i].Index = i
	}
	got, err := targets(pages, []int{2, 0, 2})
	if err != nil {
		t.Fatalf("targets: %v", err)
	}
	if len(got) != 2 || got[0].Index != 2 || got[1].Index != 0 {
		t.Fatalf("got %+v", got)
	}
	var pie *pdferr.PageIndexError
	if _, err := targets(pages, []int{4}); !errors.As(err, &pie) || pie.Count != 4 {
		t.Fatalf("out of range: %v", err)
	}
	if got, _ := targets(pages, nil); len(got) != 4 {
		t.Fatalf("no indices should select every page, got %d", len(got))
	}
}

func TestPagesFixtureLabels(t *testing.T) {
	doc := load(t, testpdf.Pages(2))
	if diff := cmp.Diff(labels(1, 2), contents(t, doc)); diff != "" {
		t.Fatalf("fixture content changed (-want +got):\n%s", diff)
	}
}
