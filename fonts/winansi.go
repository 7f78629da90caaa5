package fonts

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// EncodeWinAnsi converts text to WinAnsiEncoding bytes for a simple font.
// Text is NFC-normalised first; runes without a code become '?'.
func EncodeWinAnsi(text string) []byte {
	text = norm.NFC.String(text)
	out := make([]byte, 0, len(text))
	for _, r := range text {
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}

// DecodeWinAnsi maps single-byte codes back to text.
func DecodeWinAnsi(codes []byte) string {
	var sb strings.Builder
	sb.Grow(len(codes))
	for _, c := range codes {
		sb.WriteRune(charmap.Windows1252.DecodeByte(c))
	}
	return sb.String()
}
