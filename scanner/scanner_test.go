package scanner

import (
	"context"
	"io"
	"testing"

	"github.com/wudi/pdfcompose/recovery"
)

func newScanner(data string, cfg Config) *Scanner {
	return New([]byte(data), cfg)
}

func nextToken(t *testing.T, s *Scanner) Token {
	t.Helper()
	tok, err := s.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return tok
}

func TestScanner_BasicTokens(t *testing.T) {
	s := newScanner("%PDF-1.7\n1 0 obj\n<< /Name /Value /Nums [1 2.5 -3] /Flag true /Null null >>\nendobj", Config{})

	if tok := nextToken(t, s); tok.Type != TokenNumber || !tok.IsInt || tok.Int != 1 {
		t.Fatalf("expected first token number 1, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenNumber || tok.Int != 0 {
		t.Fatalf("expected generation number 0, got %+v", tok)
	}
	if tok := nextToken(t, s); !tok.IsKeyword("obj") {
		t.Fatalf("expected obj keyword, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenDict {
		t.Fatalf("expected dict start, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenName || tok.Str != "Name" {
		t.Fatalf("expected Name key, got %+v", tok)
	}
	if tok := nextToken(t, s); tok.Type != TokenName || tok.Str != "Value" {
		t.Fatalf("expected Name value, got %+v", tok)
	}
	nextToken(t, s) // /Nums
	if tok := nextToken(t, s); tok.Type != TokenArray {
		t.Fatalf("expected array start, got %+v", tok)
	}
	for _, want := range []float64{1, 2.5, -3} {
		tok := nextToken(t, s)
		if tok.Type != TokenNumber || tok.Number() != want {
			t.Fatalf("expected number %v, got %+v", want, tok)
		}
	}
	if tok := nextToken(t, s); !tok.IsKeyword("]") {
		t.Fatalf("expected array close, got %+v", tok)
	}
	nextToken(t, s) // /Flag
	if tok := nextToken(t, s); tok.Type != TokenBoolean || !tok.Bool {
		t.Fatalf("expected true boolean, got %+v", tok)
	}
	nextToken(t, s) // /Null
	if tok := nextToken(t, s); tok.Type != TokenNull {
		t.Fatalf("expected null value, got %+v", tok)
	}
	if tok := nextToken(t, s); !tok.IsKeyword(">>") {
		t.Fatalf("expected dict close, got %+v", tok)
	}
	if tok := nextToken(t, s); !tok.IsKeyword("endobj") {
		t.Fatalf("expected endobj, got %+v", tok)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestScanner_Strings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		hex   bool
	}{
		{"escapes", `(a\nb\(c\)\\)`, "a\nb(c)\\", false},
		{"nested parens", `(x(y)z)`, "x(y)z", false},
		{"octal", `(\101\1012)`, "AA2", false},
		{"line continuation", "(ab\\\ncd)", "abcd", false},
		{"hex", "<48 65 6C6C6F>", "Hello", true},
		{"hex odd length", "<414>", "A@", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := nextToken(t, newScanner(tt.input, Config{}))
			if tok.Type != TokenString || string(tok.Bytes) != tt.want || tok.Hex != tt.hex {
				t.Fatalf("got %+v (%q), want %q", tok, tok.Bytes, tt.want)
			}
		})
	}
}

func TestScanner_NameHexEscapes(t *testing.T) {
	tok := nextToken(t, newScanner("/A#20B#2fC", Config{}))
	if tok.Type != TokenName || tok.Str != "A B/C" {
		t.Fatalf("unexpected name %+v", tok)
	}
}

func TestScanner_ReferenceDetection(t *testing.T) {
	s := newScanner("5 0 R 1 0 RG 0 0 re", Config{})
	if tok := nextToken(t, s); tok.Type != TokenRef || tok.Num != 5 || tok.Gen != 0 {
		t.Fatalf("expected ref 5 0 R, got %+v", tok)
	}
	// "1 0 RG" is two numbers and an operator, not a reference.
	for _, want := range []int64{1, 0} {
		if tok := nextToken(t, s); tok.Type != TokenNumber || tok.Int != want {
			t.Fatalf("expected number %d, got %+v", want, tok)
		}
	}
	if tok := nextToken(t, s); !tok.IsKeyword("RG") {
		t.Fatalf("expected RG operator, got %+v", tok)
	}
	nextToken(t, s)
	nextToken(t, s)
	if tok := nextToken(t, s); !tok.IsKeyword("re") {
		t.Fatalf("expected re operator, got %+v", tok)
	}
}

func TestScanner_StreamWithLength(t *testing.T) {
	s := newScanner("stream\nabcdeendstream\nendobj", Config{})
	s.SetNextStreamLength(5)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "abcde" {
		t.Fatalf("unexpected stream token %+v", tok)
	}
	if tok := nextToken(t, s); !tok.IsKeyword("endobj") {
		t.Fatalf("expected endobj after stream, got %+v", tok)
	}
}

func TestScanner_StreamFallbackToEndstream(t *testing.T) {
	// The declared length is wrong; the payload is found by searching.
	s := newScanner("stream\r\nhello world\r\nendstream endobj", Config{Recovery: recovery.NewLenientStrategy(nil)})
	s.SetNextStreamLength(3)
	tok := nextToken(t, s)
	if tok.Type != TokenStream || string(tok.Bytes) != "hello world" {
		t.Fatalf("unexpected stream payload %q", tok.Bytes)
	}
}

func TestScanner_StreamLengthMismatchStrict(t *testing.T) {
	s := newScanner("stream\nhello\nendstream", Config{Recovery: recovery.NewStrictStrategy()})
	s.SetNextStreamLength(2)
	if _, err := s.Next(); err == nil {
		t.Fatalf("expected error for wrong length under strict recovery")
	}
}

func TestScanner_InlineImage(t *testing.T) {
	s := newScanner("BI /W 2 /H 1 /BPC 8 /CS /G ID \x01\x02 EI Q", Config{})
	var tok Token
	for {
		tok = nextToken(t, s)
		if tok.Type == TokenInlineImage {
			break
		}
	}
	if string(tok.Bytes) != "\x01\x02" {
		t.Fatalf("unexpected inline data %q", tok.Bytes)
	}
	if tok := nextToken(t, s); !tok.IsKeyword("Q") {
		t.Fatalf("expected Q after inline image, got %+v", tok)
	}
}

func TestScanner_Unterminated(t *testing.T) {
	for _, input := range []string{"(abc", "<4142"} {
		t.Run(input, func(t *testing.T) {
			if _, err := newScanner(input, Config{Recovery: recovery.NewStrictStrategy()}).Next(); err == nil {
				t.Fatalf("expected error for %q", input)
			}
			rec := recovery.NewLenientStrategy(nil)
			tok, err := newScanner(input, Config{Recovery: rec}).Next()
			if err != nil {
				t.Fatalf("lenient scan failed: %v", err)
			}
			if tok.Type != TokenString || len(rec.Errors()) != 1 {
				t.Fatalf("token %+v, recorded %v", tok, rec.Errors())
			}
		})
	}
}

func TestScanner_DepthLimits(t *testing.T) {
	s := newScanner("[[[1]]]", Config{MaxArrayDepth: 2})
	nextToken(t, s)
	nextToken(t, s)
	if _, err := s.Next(); err == nil {
		t.Fatalf("expected depth error")
	}
}

func TestScanner_MaxStringLength(t *testing.T) {
	_, err := newScanner("(abcdef)", Config{MaxStringLength: 3}).Next()
	if err == nil {
		t.Fatalf("expected length error")
	}
}

func TestScanner_RecoveryLocation(t *testing.T) {
	rec := &capture{}
	s := newScanner("(abc", Config{Recovery: rec})
	s.SetRecoveryLocation(recovery.Location{ObjectNum: 7, Component: "object"})
	if _, err := s.Next(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.loc.ObjectNum != 7 || rec.loc.Component != "object->scanner:literal" {
		t.Fatalf("unexpected location %+v", rec.loc)
	}
	if rec.err == nil {
		t.Fatalf("expected recorded error")
	}
}

type capture struct {
	loc recovery.Location
	err error
}

func (c *capture) OnError(_ context.Context, err error, loc recovery.Location) recovery.Action {
	c.loc, c.err = loc, err
	return recovery.ActionFix
}
