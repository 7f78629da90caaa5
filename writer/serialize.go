package writer

import (
	"bytes"
	"encoding/hex"
	"strconv"

	"github.com/wudi/pdfcompose/ir/raw"
)

// AppendObject appends the PDF syntax of a direct object to buf. Dictionary keys
// are written in sorted order so output is stable.
func AppendObject(buf []byte, o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return AppendName(buf, v.Val)
	case raw.NumberObj:
		if v.IsInt {
			return strconv.AppendInt(buf, v.I, 10)
		}
		return AppendReal(buf, v.F)
	case raw.BoolObj:
		return strconv.AppendBool(buf, v.V)
	case raw.NullObj:
		return append(buf, "null"...)
	case raw.StringObj:
		if v.Hex {
			buf = append(buf, '<')
			buf = append(buf, bytes.ToUpper([]byte(hex.EncodeToString(v.Bytes)))...)
			return append(buf, '>')
		}
		return AppendLiteralString(buf, v.Bytes)
	case *raw.ArrayObj:
		buf = append(buf, '[')
		for i, it := range v.Items {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = AppendObject(buf, it)
		}
		return append(buf, ']')
	case *raw.DictObj:
		buf = append(buf, "<<"...)
		for _, k := range v.Keys() {
			buf = AppendName(buf, k)
			buf = append(buf, ' ')
			buf = AppendObject(buf, v.KV[k])
		}
		return append(buf, ">>"...)
	case *raw.StreamObj:
		buf = AppendObject(buf, v.Dict)
		buf = append(buf, "\nstream\n"...)
		buf = append(buf, v.Data...)
		return append(buf, "\nendstream"...)
	case raw.RefObj:
		buf = strconv.AppendInt(buf, int64(v.R.Num), 10)
		buf = append(buf, ' ')
		buf = strconv.AppendInt(buf, int64(v.R.Gen), 10)
		return append(buf, " R"...)
	}
	return append(buf, "null"...)
}

// AppendReal writes f with at most six decimals and no exponent.
func AppendReal(buf []byte, f float64) []byte {
	s := strconv.FormatFloat(f, 'f', 6, 64)
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	s = trimPoint(s)
	if s == "-0" {
		s = "0"
	}
	return append(buf, s...)
}

func trimPoint(s string) string {
	if s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

// AppendName writes /value, escaping delimiters, whitespace and non-printable
// bytes as #xx.
func AppendName(buf []byte, value string) []byte {
	buf = append(buf, '/')
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch < '!' || ch > '~' || ch == '#' || bytes.IndexByte([]byte("()<>[]{}/%"), ch) >= 0 {
			buf = append(buf, '#', hexDigits[ch>>4], hexDigits[ch&0xf])
			continue
		}
		buf = append(buf, ch)
	}
	return buf
}

const hexDigits = "0123456789ABCDEF"

// AppendLiteralString writes a parenthesised string, escaping the bytes that would
// otherwise change its meaning.
func AppendLiteralString(buf []byte, s []byte) []byte {
	buf = append(buf, '(')
	for _, ch := range s {
		switch ch {
		case '\\', '(', ')':
			buf = append(buf, '\\', ch)
		case '\n':
			buf = append(buf, `\n`...)
		case '\r':
			buf = append(buf, `\r`...)
		case '\t':
			buf = append(buf, `\t`...)
		case '\b':
			buf = append(buf, `\b`...)
		case '\f':
			buf = append(buf, `\f`...)
		default:
			if ch < 0x20 || ch >= 0x7f {
				buf = append(buf, '\\', '0'+ch>>6, '0'+(ch>>3)&7, '0'+ch&7)
			} else {
				buf = append(buf, ch)
			}
		}
	}
	return append(buf, ')')
}
