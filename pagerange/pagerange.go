// Package pagerange parses the page selection syntax used by split and extract:
// comma separated tokens, each a 1-based page "N" or an inclusive range "N-M".
package pagerange

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrEmpty is returned when no token selects a page.
var ErrEmpty = errors.New("page range selects no pages")

// Parse returns the 0-based page indices selected by text in token order.
// Tokens that are malformed, reversed or outside [1, pageCount] are dropped.
// Duplicates are kept, so "1,1" selects the first page twice.
func Parse(text string, pageCount int) ([]int, error) {
	var out []int
	for _, tok := range strings.Split(text, ",") {
		tok = strings.Join(strings.Fields(tok), "")
		if tok == "" {
			continue
		}
		first, last, ok := parseToken(tok)
		if !ok || first > last {
			continue
		}
		if first < 1 || last > pageCount {
			continue
		}
		for p := first; p <= last; p++ {
			out = append(out, p-1)
		}
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(ErrEmpty, "%q with %d pages", text, pageCount)
	}
	return out, nil
}

func parseToken(tok string) (int, int, bool) {
	lo, hi, isRange := strings.Cut(tok, "-")
	first, err := strconv.Atoi(lo)
	if err != nil {
		return 0, 0, false
	}
	if !isRange {
		return first, first, true
	}
	last, err := strconv.Atoi(hi)
	if err != nil {
		return 0, 0, false
	}
	return first, last, true
}

// Selection is a page range held as text until the page count is known. It
// implements flag.Value.
type Selection struct {
	text string
}

func (s *Selection) String() string {
	if s == nil {
		return ""
	}
	return s.text
}

func (s *Selection) Set(v string) error {
	if strings.TrimSpace(v) == "" {
		return errors.New("empty page range")
	}
	s.text = v
	return nil
}

// IsSet reports whether a range was given.
func (s *Selection) IsSet() bool { return s != nil && s.text != "" }

// Indices resolves the selection against a document with pageCount pages. An
// unset selection selects every page.
func (s *Selection) Indices(pageCount int) ([]int, error) {
	if !s.IsSet() {
		out := make([]int, pageCount)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	return Parse(s.text, pageCount)
}
