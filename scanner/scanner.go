package scanner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/wudi/pdfcompose/recovery"
)

type TokenType int

const (
	TokenDict        TokenType = iota // '<<'
	TokenArray                        // '['
	TokenName                         // '/Name'
	TokenString                       // literal or hex string
	TokenNumber                       // numeric value
	TokenBoolean                      // true/false
	TokenNull                         // null
	TokenRef                          // indirect ref '5 0 R'
	TokenStream                       // stream payload following the 'stream' keyword
	TokenInlineImage                  // inline image data following ID ... EI (content stream only)
	TokenKeyword                      // other keywords (obj, endobj, >>, ], operators)
)

func (t TokenType) String() string {
	switch t {
	case TokenDict:
		return "dict"
	case TokenArray:
		return "array"
	case TokenName:
		return "name"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenRef:
		return "ref"
	case TokenStream:
		return "stream"
	case TokenInlineImage:
		return "inline image"
	default:
		return "keyword"
	}
}

// Token is one lexical element. Str carries names and keywords, Bytes carries string,
// stream and inline image payloads.
type Token struct {
	Type  TokenType
	Pos   int64
	Str   string
	Bytes []byte
	Hex   bool
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Num   int // reference object number
	Gen   int // reference generation
}

// Number returns the numeric value of a TokenNumber.
func (t Token) Number() float64 {
	if t.IsInt {
		return float64(t.Int)
	}
	return t.Float
}

// IsKeyword reports whether t is the keyword kw.
func (t Token) IsKeyword(kw string) bool { return t.Type == TokenKeyword && t.Str == kw }

type Config struct {
	MaxStringLength int64
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxStreamLength int64
	MaxInlineImage  int64
	Recovery        recovery.Strategy
}

// Scanner tokenizes an in-memory PDF byte slice.
type Scanner struct {
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	arrayDepth    int
	dictDepth     int
	recLoc        recovery.Location
}

func New(data []byte, cfg Config) *Scanner {
	return &Scanner{data: data, cfg: cfg, nextStreamLen: -1}
}

func (s *Scanner) Position() int64 { return s.pos }

func (s *Scanner) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	s.arrayDepth, s.dictDepth = 0, 0
	return nil
}

// SetNextStreamLength tells the scanner how many bytes the next stream payload has.
// A negative value makes it search for 'endstream'.
func (s *Scanner) SetNextStreamLength(n int64)               { s.nextStreamLen = n }
func (s *Scanner) SetRecoveryLocation(loc recovery.Location) { s.recLoc = loc }

func (s *Scanner) Next() (Token, error) {
	s.skipWSAndComments()
	if s.pos >= int64(len(s.data)) {
		return Token{}, io.EOF
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Str: "<<", Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Str: ">>", Pos: start})
		}
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: ">", Pos: start})
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Str: "[", Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: "]", Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	if !isDelimiter(c) {
		return s.scanKeyword()
	}
	// ')', '{', '}' and other stray delimiters come back as one-byte keywords.
	s.pos++
	return s.emit(Token{Type: TokenKeyword, Str: string(c), Pos: start})
}

func (s *Scanner) skipWSAndComments() {
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && !isEOL(s.data[s.pos]) {
				s.pos++
			}
			continue
		}
		return
	}
}

func (s *Scanner) peek(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Str: out.String(), Pos: start})
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	n := int64(len(s.data))
	for s.pos < n && depth > 0 {
		c := s.data[s.pos]
		switch c {
		case '\\':
			s.pos++
			if s.pos >= n {
				continue
			}
			esc := s.data[s.pos]
			switch {
			case esc == '\r':
				s.pos++
				if s.pos < n && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
				s.pos++
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2 && s.pos < n && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; k++ {
					val = val<<3 + int(s.data[s.pos]-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
				s.pos++
			}
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				s.pos++
				continue
			}
		}
		buf.WriteByte(c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, s.fail(errors.New("literal string too long"), "literal")
		}
	}
	if depth != 0 {
		if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
			return Token{}, err
		}
	}
	return s.emit(Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start})
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var hexbuf []byte
	closed := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			closed = true
			break
		}
		if isHex(c) {
			hexbuf = append(hexbuf, c)
			continue
		}
		if !isWhitespace(c) {
			if err := s.recover(errors.New("invalid hex digit"), "hex"); err != nil {
				return Token{}, err
			}
		}
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(hexbuf)%2 == 1 {
		hexbuf = append(hexbuf, '0')
	}
	out := make([]byte, 0, len(hexbuf)/2)
	for i := 0; i < len(hexbuf); i += 2 {
		out = append(out, fromHex(hexbuf[i])<<4|fromHex(hexbuf[i+1]))
	}
	if s.cfg.MaxStringLength > 0 && int64(len(out)) > s.cfg.MaxStringLength {
		return Token{}, s.fail(errors.New("hex string too long"), "hex")
	}
	return s.emit(Token{Type: TokenString, Bytes: out, Hex: true, Pos: start})
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	for s.pos < int64(len(s.data)) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	case "ID":
		return s.scanInlineImage(start)
	default:
		return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
	}
}

func (s *Scanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1 := s.scanNumberString()
	if num1 == "" {
		s.pos++
		if err := s.recover(errors.New("invalid number"), "number"); err != nil {
			return Token{}, err
		}
		return s.Next()
	}
	if isUnsignedInt(num1) {
		after1 := s.pos
		s.skipWSAndComments()
		num2 := s.scanNumberString()
		if num2 != "" && isUnsignedInt(num2) {
			s.skipWSAndComments()
			if s.pos < int64(len(s.data)) && s.data[s.pos] == 'R' &&
				(s.pos+1 >= int64(len(s.data)) || isDelimiter(s.data[s.pos+1])) {
				s.pos++
				n1, _ := strconv.Atoi(num1)
				n2, _ := strconv.Atoi(num2)
				return Token{Type: TokenRef, Num: n1, Gen: n2, Pos: start}, nil
			}
		}
		s.pos = after1
	}
	if i, err := strconv.ParseInt(num1, 10, 64); err == nil {
		return s.emit(Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start})
	}
	f, err := strconv.ParseFloat(normalizeReal(num1), 64)
	if err != nil {
		if rerr := s.recover(errors.New("malformed number "+num1), "number"); rerr != nil {
			return Token{}, rerr
		}
		f = 0
	}
	return s.emit(Token{Type: TokenNumber, Float: f, Pos: start})
}

func (s *Scanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

// normalizeReal repairs reals such as "--5" or "1.2.3" that some producers emit.
func normalizeReal(v string) string {
	neg := false
	for len(v) > 0 && (v[0] == '-' || v[0] == '+') {
		if v[0] == '-' {
			neg = !neg
		}
		v = v[1:]
	}
	if i := bytes.IndexByte([]byte(v), '.'); i >= 0 {
		if j := bytes.IndexByte([]byte(v[i+1:]), '.'); j >= 0 {
			v = v[:i+1+j]
		}
	}
	if neg {
		return "-" + v
	}
	return v
}

var endstreamMarker = []byte("endstream")

// scanStream reads the payload after the 'stream' keyword. A declared length is used
// when it lands on 'endstream'; otherwise the marker is searched for.
func (s *Scanner) scanStream(start int64) (Token, error) {
	declared := s.nextStreamLen
	s.nextStreamLen = -1
	n := int64(len(s.data))
	if s.pos < n && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < n && s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos

	if declared >= 0 && dataStart+declared <= n {
		end := dataStart + declared
		p := end
		for p < n && isWhitespace(s.data[p]) {
			p++
		}
		if bytes.HasPrefix(s.data[p:], endstreamMarker) {
			if s.cfg.MaxStreamLength > 0 && declared > s.cfg.MaxStreamLength {
				return Token{}, s.fail(errors.New("stream too long"), "stream")
			}
			s.pos = p + int64(len(endstreamMarker))
			return s.emit(Token{Type: TokenStream, Bytes: s.data[dataStart:end], Pos: start})
		}
		if err := s.recover(errors.New("stream length does not match endstream"), "stream"); err != nil {
			return Token{}, err
		}
	}

	idx := bytes.Index(s.data[dataStart:], endstreamMarker)
	if idx < 0 {
		if err := s.recover(errors.New("endstream not found"), "stream"); err != nil {
			return Token{}, err
		}
		s.pos = n
		return s.emit(Token{Type: TokenStream, Bytes: s.data[dataStart:], Pos: start})
	}
	end := dataStart + int64(idx)
	s.pos = end + int64(len(endstreamMarker))
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	if s.cfg.MaxStreamLength > 0 && end-dataStart > s.cfg.MaxStreamLength {
		return Token{}, s.fail(errors.New("stream too long"), "stream")
	}
	return s.emit(Token{Type: TokenStream, Bytes: s.data[dataStart:end], Pos: start})
}

// scanInlineImage consumes bytes after the ID keyword up to a whitespace-delimited EI.
func (s *Scanner) scanInlineImage(start int64) (Token, error) {
	n := int64(len(s.data))
	if s.pos < n && isWhitespace(s.data[s.pos]) {
		s.pos++
	}
	dataStart := s.pos
	for p := dataStart; p+1 < n; p++ {
		if s.data[p] != 'E' || s.data[p+1] != 'I' {
			continue
		}
		if p > dataStart && !isWhitespace(s.data[p-1]) {
			continue
		}
		if p+2 < n && !isDelimiter(s.data[p+2]) {
			continue
		}
		end := p
		if end > dataStart {
			end--
		}
		if s.cfg.MaxInlineImage > 0 && end-dataStart > s.cfg.MaxInlineImage {
			return Token{}, s.fail(errors.New("inline image too long"), "inline_image")
		}
		s.pos = p + 2
		return s.emit(Token{Type: TokenInlineImage, Bytes: s.data[dataStart:end], Pos: start})
	}
	s.pos = n
	return Token{}, s.fail(errors.New("unterminated inline image"), "inline_image")
}

func (s *Scanner) location(loc string) recovery.Location {
	location := s.recLoc
	location.ByteOffset = s.pos
	if location.Component != "" {
		location.Component += "->"
	}
	location.Component += "scanner:" + loc
	return location
}

// recover consults the recovery strategy. A nil return means scanning may continue
// with the best-effort result.
func (s *Scanner) recover(err error, loc string) error {
	if s.cfg.Recovery == nil {
		return err
	}
	switch s.cfg.Recovery.OnError(context.Background(), err, s.location(loc)) {
	case recovery.ActionSkip, recovery.ActionFix, recovery.ActionWarn:
		return nil
	default:
		return err
	}
}

// fail reports err to the strategy for bookkeeping and always returns it.
func (s *Scanner) fail(err error, loc string) error {
	if s.cfg.Recovery != nil {
		s.cfg.Recovery.OnError(context.Background(), err, s.location(loc))
	}
	return err
}

func (s *Scanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, s.fail(errors.New("array depth exceeded"), "array")
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, s.fail(errors.New("dict depth exceeded"), "dict")
		}
	case TokenKeyword:
		if tok.Str == "]" && s.arrayDepth > 0 {
			s.arrayDepth--
		}
		if tok.Str == ">>" && s.dictDepth > 0 {
			s.dictDepth--
		}
	}
	return tok, nil
}

func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isUnsignedInt(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return v != ""
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}
func isEOL(c byte) bool { return c == '\r' || c == '\n' }
func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

// IsDelimiter reports whether c ends a regular token.
func IsDelimiter(c byte) bool { return isDelimiter(c) }

// IsWhitespace reports whether c is PDF white space.
func IsWhitespace(c byte) bool { return isWhitespace(c) }

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
