// Package testpdf writes small PDF files byte by byte for tests. Offsets in the
// cross-reference table are computed from the bytes actually written.
package testpdf

import (
	"bytes"
	"fmt"
	"sort"
)

type Builder struct {
	buf     bytes.Buffer
	offsets map[int]int
}

func New(version string) *Builder {
	b := &Builder{offsets: make(map[int]int)}
	fmt.Fprintf(&b.buf, "%%PDF-%s\n%%\xe2\xe3\xcf\xd3\n", version)
	return b
}

// Object writes "num 0 obj body endobj".
func (b *Builder) Object(num int, body string) *Builder {
	b.offsets[num] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n%s\nendobj\n", num, body)
	return b
}

// Stream writes a stream object. dict is the dictionary body without << >> and
// without /Length, which is added.
func (b *Builder) Stream(num int, dict string, data []byte) *Builder {
	b.offsets[num] = b.buf.Len()
	fmt.Fprintf(&b.buf, "%d 0 obj\n<< %s /Length %d >>\nstream\n", num, dict, len(data))
	b.buf.Write(data)
	b.buf.WriteString("\nendstream\nendobj\n")
	return b
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(s string) *Builder {
	b.buf.WriteString(s)
	return b
}

// Offset returns where object num was written.
func (b *Builder) Offset(num int) int { return b.offsets[num] }

// Finish writes a classic xref table and the trailer. extra is inserted into the
// trailer dictionary after /Size and /Root 1 0 R.
func (b *Builder) Finish(extra string) []byte {
	max := 0
	for n := range b.offsets {
		if n > max {
			max = n
		}
	}
	xrefAt := b.buf.Len()
	fmt.Fprintf(&b.buf, "xref\n0 %d\n0000000000 65535 f \n", max+1)
	for n := 1; n <= max; n++ {
		if off, ok := b.offsets[n]; ok {
			fmt.Fprintf(&b.buf, "%010d 00000 n \n", off)
		} else {
			b.buf.WriteString("0000000000 65535 f \n")
		}
	}
	fmt.Fprintf(&b.buf, "trailer\n<< /Size %d /Root 1 0 R %s>>\nstartxref\n%d\n%%%%EOF\n", max+1, extra, xrefAt)
	return b.buf.Bytes()
}

// Unfinished returns the bytes written so far without any cross-reference data.
func (b *Builder) Unfinished() []byte { return b.buf.Bytes() }

// Page describes one page of a generated document.
type Page struct {
	Width, Height float64
	Rotate        int
	Content       string
}

// Pages returns a document with n Letter pages. Page i draws a red square and
// the text "Page i+1".
func Pages(n int) []byte {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = Page{Width: 612, Height: 792}
	}
	return Document(pages)
}

// Document builds a catalog (1), a flat page tree (2), a shared Helvetica font (3)
// and one page plus content stream per entry, numbered from 4.
func Document(pages []Page) []byte {
	b := New("1.7")
	b.Object(1, "<< /Type /Catalog /Pages 2 0 R >>")
	kids := &bytes.Buffer{}
	for i := range pages {
		fmt.Fprintf(kids, "%d 0 R ", 4+2*i)
	}
	b.Object(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids.String(), len(pages)))
	b.Object(3, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, p := range pages {
		pageNum, contentNum := 4+2*i, 5+2*i
		rotate := ""
		if p.Rotate != 0 {
			rotate = fmt.Sprintf(" /Rotate %d", p.Rotate)
		}
		b.Object(pageNum, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g]%s /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			p.Width, p.Height, rotate, contentNum))
		content := p.Content
		if content == "" {
			content = fmt.Sprintf("1 0 0 rg 10 10 100 100 re f\nBT /F1 24 Tf 72 %g Td (Page %d) Tj ET", p.Height-72, i+1)
		}
		b.Stream(contentNum, "", []byte(content))
	}
	return b.Finish("")
}

// Objects lists the numbers of objects written, ascending.
func (b *Builder) Objects() []int {
	out := make([]int, 0, len(b.offsets))
	for n := range b.offsets {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
