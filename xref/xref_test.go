package xref_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wudi/pdfcompose/filters"
	"github.com/wudi/pdfcompose/pdferr"
	"github.com/wudi/pdfcompose/recovery"
	"github.com/wudi/pdfcompose/xref"
)

func buildSimplePDF() ([]byte, map[int]int64) {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	offsets := make(map[int]int64)

	offsets[1] = int64(buf.Len())
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	offsets[2] = int64(buf.Len())
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")

	xrefOffset := buf.Len()
	buf.WriteString("xref\n0 3\n")
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= 2; i++ {
		fmt.Fprintf(buf, "%010d 00000 n \n", offsets[i])
	}
	buf.WriteString("trailer\n<< /Size 3 /Root 1 0 R >>\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes(), offsets
}

func TestResolverParsesXRefTable(t *testing.T) {
	pdf, offsets := buildSimplePDF()

	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), pdf)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if table.Type() != "table" || table.Stream {
		t.Fatalf("expected classic table, got %s", table.Type())
	}
	for obj, off := range offsets {
		e, ok := table.Lookup(obj)
		if !ok {
			t.Fatalf("missing object %d", obj)
		}
		if e.Offset != off || e.Gen != 0 || e.Kind != xref.EntryInUse {
			t.Fatalf("object %d: expected (%d,0), got %+v", obj, off, e)
		}
	}
	if _, ok := table.Lookup(0); ok {
		t.Fatalf("free entry reported as present")
	}
	if root, ok := table.Trailer().Get("Root"); !ok || root.Type() != "ref" {
		t.Fatalf("trailer root missing: %v", root)
	}
}

func buildXRefStreamPDF(t *testing.T, compress bool) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")

	// Object stream with two objects (4 and 5)
	objStreamContent := "<< /Val 7 >> 5"
	header := "4 0 5 " + fmt.Sprintf("%d ", len("<< /Val 7 >>")+1)
	decoded := []byte(header + objStreamContent)
	off3 := buf.Len()
	fmt.Fprintf(buf, "3 0 obj\n<< /Type /ObjStm /N 2 /First %d /Length %d >>\nstream\n", len(header), len(decoded))
	buf.Write(decoded)
	buf.WriteString("\nendstream\nendobj\n")

	xrefOffset := buf.Len()
	entries := buildXRefStreamEntries(7, map[int]int{
		1: off1,
		2: off2,
		3: off3,
		6: xrefOffset,
	}, map[int][2]int{
		4: {3, 0},
		5: {3, 1},
	})
	filter := ""
	if compress {
		var err error
		if entries, err = filters.FlateEncode(entries, 9); err != nil {
			t.Fatalf("flate: %v", err)
		}
		filter = "/Filter /FlateDecode "
	}
	fmt.Fprintf(buf, "6 0 obj\n<< /Type /XRef /Size 7 /Root 1 0 R /W [1 4 1] /Index [0 7] %s/Length %d >>\nstream\n", filter, len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")

	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

func buildXRefStreamEntries(size int, offsets map[int]int, objStreams map[int][2]int) []byte {
	entrySize := 6 // w: [1 4 1]
	total := make([]byte, entrySize*size)
	put := func(obj, typ, f2, f3 int) {
		idx := obj * entrySize
		total[idx] = byte(typ)
		total[idx+1] = byte(f2 >> 24)
		total[idx+2] = byte(f2 >> 16)
		total[idx+3] = byte(f2 >> 8)
		total[idx+4] = byte(f2)
		total[idx+5] = byte(f3)
	}
	for obj, off := range offsets {
		put(obj, 1, off, 0)
	}
	for obj, meta := range objStreams {
		put(obj, 2, meta[0], meta[1])
	}
	return total
}

func TestResolverParsesXRefStreamAndObjStm(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			data := buildXRefStreamPDF(t, compress)
			table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), data)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if table.Type() != "stream" || !table.Stream {
				t.Fatalf("expected stream table, got %s", table.Type())
			}
			e, ok := table.Lookup(4)
			if !ok || e.Kind != xref.EntryCompressed || e.Stream != 3 || e.Index != 0 {
				t.Fatalf("expected obj 4 in objstm 3 idx 0, got %+v %v", e, ok)
			}
			if e, _ := table.Lookup(5); e.Index != 1 {
				t.Fatalf("expected obj 5 at index 1, got %+v", e)
			}
			if e, ok := table.Lookup(1); !ok || e.Offset == 0 {
				t.Fatalf("object 1 missing offset")
			}
			if _, ok := table.Trailer().Get("W"); ok {
				t.Fatalf("stream-only keys leaked into trailer")
			}
		})
	}
}

func buildHybridXRefPDF() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("%PDF-1.7\n")

	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	off2 := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\n")

	xrefStreamOff := buf.Len()
	entries := buildXRefStreamEntries(6, map[int]int{
		1: off1,
		2: off2,
		4: xrefStreamOff,
	}, nil)
	fmt.Fprintf(buf, "4 0 obj\n<< /Type /XRef /Size 6 /Root 1 0 R /W [1 4 1] /Index [0 6] /Length %d >>\nstream\n", len(entries))
	buf.Write(entries)
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(buf, "startxref\n%d\n%%%%EOF\n", xrefStreamOff)

	// incremental update with hybrid xref table referencing the stream
	obj5Off := buf.Len()
	buf.WriteString("5 0 obj\n<< /Producer (inc) >>\nendobj\n")
	tableOff := buf.Len()
	fmt.Fprintf(buf, "xref\n0 1\n0000000000 65535 f \n5 1\n%010d 00000 n \n", obj5Off)
	fmt.Fprintf(buf, "trailer\n<< /Size 6 /Root 1 0 R /Prev %d /XRefStm %d >>\nstartxref\n%d\n%%%%EOF\n", xrefStreamOff, xrefStreamOff, tableOff)
	return buf.Bytes()
}

func TestResolverHybridXRef(t *testing.T) {
	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), buildHybridXRefPDF())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, n := range []int{1, 2, 4, 5} {
		if _, ok := table.Lookup(n); !ok {
			t.Fatalf("object %d missing from merged table", n)
		}
	}
	if _, ok := table.Trailer().Get("Prev"); ok {
		t.Fatalf("merged trailer should not carry /Prev")
	}
}

func TestResolverIncrementalUpdateOverrides(t *testing.T) {
	pdf, _ := buildSimplePDF()
	buf := bytes.NewBuffer(append([]byte(nil), pdf...))
	prev := bytes.LastIndex(pdf, []byte("xref\n0 3"))

	newOff := buf.Len()
	buf.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 0 /Updated true >>\nendobj\n")
	tableOff := buf.Len()
	fmt.Fprintf(buf, "xref\n2 1\n%010d 00000 n \ntrailer\n<< /Size 3 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", newOff, prev, tableOff)

	table, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if e, _ := table.Lookup(2); e.Offset != int64(newOff) {
		t.Fatalf("newest section should win: got offset %d want %d", e.Offset, newOff)
	}
	if _, ok := table.Lookup(1); !ok {
		t.Fatalf("object from older section missing")
	}
}

func TestResolverPrevLoop(t *testing.T) {
	pdf, _ := buildSimplePDF()
	off := bytes.LastIndex(pdf, []byte("xref\n0 3"))
	looped := bytes.Replace(pdf, []byte("/Size 3 /Root 1 0 R"), []byte(fmt.Sprintf("/Size 3 /Root 1 0 R /Prev %d", off)), 1)
	// The trailer grew, but startxref still points at the table.
	if _, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(context.Background(), looped); err != nil {
		t.Fatalf("self-referencing /Prev should terminate: %v", err)
	}
}

func TestResolverBadOffsetStrict(t *testing.T) {
	pdf, _ := buildSimplePDF()
	broken := bytes.Replace(pdf, []byte("startxref\n"), []byte("startxref\n9"), 1)
	_, err := xref.NewResolver(xref.ResolverConfig{Recovery: recovery.NewStrictStrategy()}).Resolve(context.Background(), broken)
	var perr *pdferr.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestResolverFallsBackToRepair(t *testing.T) {
	pdf, offsets := buildSimplePDF()
	// Shift every object so the recorded offsets are stale.
	shifted := append([]byte("%PDF-1.7\n%junk\n"), pdf[len("%PDF-1.7\n"):]...)
	table, err := xref.NewResolver(xref.ResolverConfig{Recovery: recovery.NewLenientStrategy(nil)}).Resolve(context.Background(), shifted)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !table.Repaired {
		t.Fatalf("expected repaired table")
	}
	for obj, off := range offsets {
		e, ok := table.Lookup(obj)
		if !ok || e.Offset != off+int64(len("%junk\n")) {
			t.Fatalf("object %d: got %+v", obj, e)
		}
	}
}

func TestResolverCancelled(t *testing.T) {
	pdf, _ := buildSimplePDF()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := xref.NewResolver(xref.ResolverConfig{}).Resolve(ctx, pdf)
	if !errors.Is(err, pdferr.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
