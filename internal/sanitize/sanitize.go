// Package sanitize filters HTML fragments down to the small tag set needed
// to render furigana ruby annotations. Everything else is stripped;
// script-like containers are removed together with their content.
package sanitize

import (
	"strings"

	"golang.org/x/net/html"
)

// allowedTags are the only elements that survive filtering.
var allowedTags = map[string]bool{
	"ruby":   true,
	"rb":     true,
	"rt":     true,
	"rp":     true,
	"b":      true,
	"i":      true,
	"em":     true,
	"strong": true,
	"span":   true,
	"br":     true,
}

// allowedAttrs are the only attributes that survive on allowed tags.
var allowedAttrs = map[string]bool{
	"class": true,
	"lang":  true,
}

// droppedContainers are removed including their text content.
var droppedContainers = map[string]bool{
	"script":   true,
	"style":    true,
	"iframe":   true,
	"object":   true,
	"embed":    true,
	"noscript": true,
}

// Clean filters markup to the ruby-annotation allowlist. Disallowed tags are
// stripped but their text kept; denylisted containers lose their content
// too. All text nodes are entity-encoded.
func Clean(input string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(input))
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or malformed input; either way we are done.
			return b.String()

		case html.TextToken:
			if skipDepth == 0 {
				b.WriteString(html.EscapeString(string(z.Text())))
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)

			if droppedContainers[tag] {
				skipDepth++
				continue
			}
			if skipDepth > 0 || !allowedTags[tag] {
				continue
			}

			b.WriteByte('<')
			b.WriteString(tag)
			for hasAttr {
				var key, val []byte
				key, val, hasAttr = z.TagAttr()
				if allowedAttrs[string(key)] {
					b.WriteByte(' ')
					b.WriteString(string(key))
					b.WriteString(`="`)
					b.WriteString(html.EscapeString(string(val)))
					b.WriteByte('"')
				}
			}
			if tag == "br" {
				b.WriteString("/>")
			} else {
				b.WriteByte('>')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)

			if droppedContainers[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth > 0 || !allowedTags[tag] || tag == "br" {
				continue
			}

			b.WriteString("</")
			b.WriteString(tag)
			b.WriteByte('>')

		case html.CommentToken, html.DoctypeToken:
			// dropped
		}
	}
}

// EscapeText entity-encodes a plain text string for embedding in markup.
func EscapeText(s string) string {
	return html.EscapeString(s)
}
