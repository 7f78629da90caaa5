package xref

import (
	"bufio"
	"bytes"
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcompose/filters"
	"github.com/wudi/pdfcompose/ir/raw"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/recovery"
	"github.com/wudi/pdfcompose/scanner"
)

type EntryKind int

const (
	EntryFree EntryKind = iota
	EntryInUse
	// EntryCompressed marks an object stored inside an object stream.
	EntryCompressed
)

// Entry locates one object. For compressed entries Stream is the object stream
// number and Index the position inside it.
type Entry struct {
	Kind   EntryKind
	Offset int64
	Gen    int
	Stream int
	Index  int
}

// Table is a merged cross-reference table together with the trailer that
// introduced it.
type Table struct {
	entries map[int]Entry
	trailer *raw.DictObj
	kind    string
	// Repaired is set when the table was rebuilt by scanning the file.
	Repaired bool
	// Stream is set when the newest section was a cross-reference stream.
	Stream bool
}

func newTable(kind string) *Table {
	return &Table{entries: make(map[int]Entry), trailer: raw.Dict(), kind: kind}
}

// Lookup returns the entry for objNum. Free entries are reported as missing.
func (t *Table) Lookup(objNum int) (Entry, bool) {
	e, ok := t.entries[objNum]
	if !ok || e.Kind == EntryFree {
		return Entry{}, false
	}
	return e, true
}

// Objects lists in-use and compressed object numbers in ascending order.
func (t *Table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for n, e := range t.entries {
		if e.Kind != EntryFree {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

func (t *Table) Trailer() *raw.DictObj { return t.trailer }

// Type reports "table", "stream" or "repair".
func (t *Table) Type() string { return t.kind }

// merge adds entries from an older section without overriding newer ones.
func (t *Table) merge(older *Table) {
	for n, e := range older.entries {
		if _, ok := t.entries[n]; !ok {
			t.entries[n] = e
		}
	}
	for _, k := range older.trailer.Keys() {
		if _, ok := t.trailer.Get(k); !ok && k != "Prev" && k != "XRefStm" {
			v, _ := older.trailer.Get(k)
			t.trailer.Set(k, v)
		}
	}
}

type ResolverConfig struct {
	// MaxDepth bounds the /Prev chain. Zero means 50.
	MaxDepth int
	Filters  *filters.Pipeline
	Recovery recovery.Strategy
}

type Resolver struct {
	cfg ResolverConfig
}

func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 50
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.NewStandardPipeline(filters.Limits{})
	}
	return &Resolver{cfg: cfg}
}

// Resolve reads the cross-reference data reachable from startxref. When that fails
// and the recovery strategy allows it, the table is rebuilt by scanning.
func (r *Resolver) Resolve(ctx context.Context, data []byte) (*Table, error) {
	t, err := r.resolve(ctx, data)
	if err == nil {
		return t, nil
	}
	if cerr := pdferr.CheckContext(ctx); cerr != nil {
		return nil, cerr
	}
	if r.cfg.Recovery == nil {
		return nil, err
	}
	loc := recovery.Location{ByteOffset: -1, Component: "xref"}
	if r.cfg.Recovery.OnError(ctx, err, loc) == recovery.ActionFail {
		return nil, err
	}
	return Repair(ctx, data)
}

func (r *Resolver) resolve(ctx context.Context, data []byte) (*Table, error) {
	start, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}
	var merged *Table
	seen := make(map[int64]bool)
	offset := start
	for depth := 0; ; depth++ {
		if err := pdferr.CheckContext(ctx); err != nil {
			return nil, err
		}
		if depth >= r.cfg.MaxDepth {
			return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: errors.New("xref chain too deep")}
		}
		if seen[offset] {
			break
		}
		seen[offset] = true

		section, err := r.readSection(ctx, data, offset)
		if err != nil {
			return nil, err
		}
		// Hybrid files carry an xref stream for the same revision.
		if stm, ok := section.trailer.Int("XRefStm"); ok && !seen[stm] {
			seen[stm] = true
			if hidden, err := r.readSection(ctx, data, stm); err == nil {
				for n, e := range hidden.entries {
					if cur, ok := section.entries[n]; !ok || cur.Kind == EntryFree {
						section.entries[n] = e
					}
				}
			}
		}
		if merged == nil {
			merged = section
		} else {
			merged.merge(section)
		}
		prev, ok := section.trailer.Int("Prev")
		if !ok {
			break
		}
		offset = prev
	}
	merged.trailer.Delete("Prev")
	merged.trailer.Delete("XRefStm")
	if _, ok := merged.trailer.Get("Root"); !ok {
		return nil, &pdferr.ParseError{Offset: start, Component: "trailer", Err: errors.New("trailer has no /Root")}
	}
	if err := checkOffsets(merged, data); err != nil {
		return nil, err
	}
	return merged, nil
}

func (r *Resolver) readSection(ctx context.Context, data []byte, offset int64) (*Table, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: errors.New("offset outside file")}
	}
	p := offset
	for p < int64(len(data)) && scanner.IsWhitespace(data[p]) {
		p++
	}
	if bytes.HasPrefix(data[p:], []byte("xref")) {
		return parseTable(data, p)
	}
	return r.parseStream(ctx, data, p)
}

// findStartXRef locates the last startxref keyword and returns the offset after it.
func findStartXRef(data []byte) (int64, error) {
	idx := bytes.LastIndex(data, []byte("startxref"))
	if idx < 0 {
		return 0, &pdferr.ParseError{Offset: -1, Component: "xref", Err: errors.New("startxref not found")}
	}
	rest := bytes.TrimLeft(data[idx+len("startxref"):], " \t\r\n\f\x00")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	off, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, &pdferr.ParseError{Offset: int64(idx), Component: "xref", Err: errors.Wrap(err, "startxref offset")}
	}
	return off, nil
}

// parseTable reads a classic 'xref' section and its trailer dictionary.
func parseTable(data []byte, offset int64) (*Table, error) {
	t := newTable("table")
	br := bufio.NewReader(bytes.NewReader(data[offset:]))
	pos := offset
	readLine := func() (string, error) {
		line, err := br.ReadString('\n')
		pos += int64(len(line))
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	first, err := readLine()
	if err != nil {
		return nil, &pdferr.ParseError{Offset: offset, Component: "xref", Err: err}
	}
	// Some writers put the first subsection header on the 'xref' line.
	pending := strings.TrimSpace(strings.TrimPrefix(first, "xref"))
	for {
		var line string
		if pending != "" {
			line, pending = pending, ""
		} else if line, err = readLine(); err != nil {
			return nil, &pdferr.ParseError{Offset: pos, Component: "xref", Err: errors.New("missing trailer")}
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "trailer") {
			// The trailer dictionary may start on the same line.
			pos = offset + int64(bytes.Index(data[offset:], []byte("trailer"))) + int64(len("trailer"))
			break
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, &pdferr.ParseError{Offset: pos, Component: "xref", Err: errors.Errorf("bad subsection header %q", line)}
		}
		start, err1 := strconv.Atoi(fields[0])
		count, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil || start < 0 || count < 0 {
			return nil, &pdferr.ParseError{Offset: pos, Component: "xref", Err: errors.Errorf("bad subsection header %q", line)}
		}
		for i := 0; i < count; i++ {
			entryLine, err := readLine()
			if err != nil {
				return nil, &pdferr.ParseError{Offset: pos, Component: "xref", Err: errors.New("truncated subsection")}
			}
			parts := strings.Fields(entryLine)
			if len(parts) < 3 {
				return nil, &pdferr.ParseError{Offset: pos, Component: "xref", Err: errors.Errorf("bad entry %q", entryLine)}
			}
			off, err1 := strconv.ParseInt(parts[0], 10, 64)
			gen, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil {
				return nil, &pdferr.ParseError{Offset: pos, Component: "xref", Err: errors.Errorf("bad entry %q", entryLine)}
			}
			num := start + i
			if _, dup := t.entries[num]; dup {
				continue
			}
			switch parts[2] {
			case "n":
				t.entries[num] = Entry{Kind: EntryInUse, Offset: off, Gen: gen}
			case "f":
				t.entries[num] = Entry{Kind: EntryFree, Gen: gen}
			default:
				return nil, &pdferr.ParseError{Offset: pos, Component: "xref", Err: errors.Errorf("bad entry type %q", parts[2])}
			}
		}
	}
	s := scanner.New(data, scanner.Config{})
	if err := s.Seek(pos); err != nil {
		return nil, &pdferr.ParseError{Offset: pos, Component: "trailer", Err: err}
	}
	obj, err := scanner.NewObjectReader(s).ReadObject()
	if err != nil {
		return nil, &pdferr.ParseError{Offset: pos, Component: "trailer", Err: err}
	}
	dict, ok := obj.(*raw.DictObj)
	if !ok {
		return nil, &pdferr.ParseError{Offset: pos, Component: "trailer", Err: errors.New("trailer is not a dictionary")}
	}
	t.trailer = dict
	return t, nil
}

// checkOffsets rejects tables whose in-use entries point outside the file or at
// something other than an object header.
func checkOffsets(t *Table, data []byte) error {
	for n, e := range t.entries {
		if e.Kind != EntryInUse || n == 0 {
			continue
		}
		if e.Offset <= 0 || e.Offset >= int64(len(data)) {
			return &pdferr.ParseError{Offset: e.Offset, Component: "xref", Err: errors.Errorf("object %d offset outside file", n)}
		}
		if num, _, ok := headerAt(data, e.Offset); !ok || num != n {
			return &pdferr.ParseError{Offset: e.Offset, Component: "xref", Err: errors.Errorf("object %d offset does not point at its header", n)}
		}
	}
	return nil
}

// headerAt parses "num gen obj" at offset, skipping leading white space.
func headerAt(data []byte, offset int64) (num, gen int, ok bool) {
	p := int(offset)
	for p < len(data) && scanner.IsWhitespace(data[p]) {
		p++
	}
	num, p, ok = readUint(data, p)
	if !ok {
		return 0, 0, false
	}
	p = skipSpace(data, p)
	gen, p, ok = readUint(data, p)
	if !ok {
		return 0, 0, false
	}
	p = skipSpace(data, p)
	if !bytes.HasPrefix(data[p:], []byte("obj")) {
		return 0, 0, false
	}
	if end := p + 3; end < len(data) && !scanner.IsDelimiter(data[end]) {
		return 0, 0, false
	}
	return num, gen, true
}

func readUint(data []byte, p int) (int, int, bool) {
	start := p
	v := 0
	for p < len(data) && data[p] >= '0' && data[p] <= '9' {
		v = v*10 + int(data[p]-'0')
		if v > 1<<30 {
			return 0, p, false
		}
		p++
	}
	return v, p, p > start
}

func skipSpace(data []byte, p int) int {
	for p < len(data) && scanner.IsWhitespace(data[p]) {
		p++
	}
	return p
}
