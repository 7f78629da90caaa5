package fonts

import (
	"bytes"
	"sync"
	"unicode"

	"github.com/go-text/typesetting/di"
	gofont "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	"golang.org/x/image/math/fixed"
)

var shapingFaces sync.Map // *Face -> *gofont.Face

func (f *Face) shapingFace() (*gofont.Face, error) {
	if v, ok := shapingFaces.Load(f); ok {
		return v.(*gofont.Face), nil
	}
	face, err := gofont.ParseTTF(bytes.NewReader(f.data))
	if err != nil {
		return nil, err
	}
	v, _ := shapingFaces.LoadOrStore(f, face)
	return v.(*gofont.Face), nil
}

// Measure returns the advance width of text set at size points, shaped with
// kerning. When shaping is unavailable it falls back to summed advances.
func (f *Face) Measure(text string, size float64) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	face, err := f.shapingFace()
	if err != nil {
		return f.sumAdvances(runes) * size / unitsPerEm
	}
	script := DetectScript(runes)
	out := (&shaping.HarfbuzzShaper{}).Shape(shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: scriptDirection(script),
		Face:      face,
		// One em is unitsPerEm 26.6 units, so advances come back in glyph space.
		Size:     fixed.Int26_6(unitsPerEm * 64),
		Script:   script,
		Language: language.DefaultLanguage(),
	})
	adv := float64(out.Advance) / 64
	if adv < 0 {
		adv = -adv
	}
	return adv * size / unitsPerEm
}

func (f *Face) sumAdvances(runes []rune) float64 {
	var w float64
	for _, r := range runes {
		w += f.Advance(r)
	}
	return w
}

func scriptDirection(script language.Script) di.Direction {
	switch script {
	case language.Arabic, language.Hebrew, language.Syriac, language.Thaana, language.Nko:
		return di.DirectionRTL
	default:
		return di.DirectionLTR
	}
}

// DetectScript returns the script with the most runes; ties keep the script
// seen first.
func DetectScript(runes []rune) language.Script {
	counts := make(map[language.Script]int)
	maxCount := 0
	best := language.Latin
	for _, r := range runes {
		script := scriptFromRune(r)
		if script == language.Unknown {
			continue
		}
		counts[script]++
		if counts[script] > maxCount {
			maxCount = counts[script]
			best = script
		}
	}
	return best
}

func scriptFromRune(r rune) language.Script {
	switch {
	case unicode.Is(unicode.Latin, r):
		return language.Latin
	case unicode.Is(unicode.Greek, r):
		return language.Greek
	case unicode.Is(unicode.Cyrillic, r):
		return language.Cyrillic
	case unicode.Is(unicode.Arabic, r):
		return language.Arabic
	case unicode.Is(unicode.Hebrew, r):
		return language.Hebrew
	}
	return language.Unknown
}
