// Package furigana builds ruby annotation markup for kanji readings.
package furigana

import (
	"strings"

	"github.com/kotonoha/shadowing_service/internal/sanitize"
)

// Pair is one span of text with an optional phonetic reading. Pairs without
// a reading render as plain text.
type Pair struct {
	Base    string `json:"base"`
	Reading string `json:"reading,omitempty"`
}

// Ruby returns <ruby>base<rt>reading</rt></ruby> with both sides
// entity-encoded. Falls back to the escaped base when the reading is empty.
func Ruby(base, reading string) string {
	if reading == "" {
		return sanitize.EscapeText(base)
	}

	var b strings.Builder
	b.WriteString("<ruby>")
	b.WriteString(sanitize.EscapeText(base))
	b.WriteString("<rt>")
	b.WriteString(sanitize.EscapeText(reading))
	b.WriteString("</rt></ruby>")
	return b.String()
}

// Markup renders a sequence of pairs into a single fragment.
func Markup(pairs []Pair) string {
	var b strings.Builder
	for _, p := range pairs {
		b.WriteString(Ruby(p.Base, p.Reading))
	}
	return b.String()
}
