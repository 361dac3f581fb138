package text

import (
	"strings"
	"unicode"
)

// Truncate caps text at maxRunes runes. When a whitespace falls within the last
// quarter of the window the cut backs off to it so a word is not split. The second
// return reports whether anything was removed. A non-positive cap leaves text as is.
func Truncate(text string, maxRunes int) (string, bool) {
	if maxRunes <= 0 {
		return text, false
	}

	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text, false
	}

	cut := runes[:maxRunes]
	floor := maxRunes - maxRunes/4

	for i := len(cut) - 1; i >= floor; i-- {
		if unicode.IsSpace(cut[i]) {
			cut = cut[:i]

			break
		}
	}

	return strings.TrimRightFunc(string(cut), unicode.IsSpace), true
}

// Preparer applies optional normalization followed by the length cap.
type Preparer struct {
	normalizer *Normalizer
	maxRunes   int
}

// NewPreparer creates a preparer. A nil normalizer disables normalization.
func NewPreparer(normalizer *Normalizer, maxRunes int) *Preparer {
	return &Preparer{
		normalizer: normalizer,
		maxRunes:   maxRunes,
	}
}

// MaxRunes returns the configured cap.
func (p *Preparer) MaxRunes() int {
	return p.maxRunes
}

// Prepare returns the text to synthesize and whether it was truncated.
func (p *Preparer) Prepare(text string) (string, bool) {
	if p.normalizer != nil {
		text = p.normalizer.Normalize(text)
	}

	return Truncate(strings.TrimSpace(text), p.maxRunes)
}
