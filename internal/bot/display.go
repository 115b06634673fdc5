package bot

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// escapeForDisplay strips tag-like sequences and escapes what is left so OCR
// output cannot inject formatting into an HTML message.
func escapeForDisplay(s string) string {
	return html.EscapeString(tagPattern.ReplaceAllString(s, ""))
}

// truncateDisplay cuts s to at most limit UTF-16 code units, the unit the
// Bot API measures message length in. It returns the kept text, the kept and
// total character counts and whether anything was cut.
func truncateDisplay(s string, limit int) (string, int, int, bool) {
	total := utf8.RuneCountInString(s)
	units, kept := 0, 0
	for i, r := range s {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > limit {
			return s[:i], kept, total, true
		}
		units += n
		kept++
	}
	return s, total, total, false
}

// textView builds the review message shown for text. Only the display copy
// is truncated.
func textView(heading, text, hint string, limit int) string {
	shown, kept, total, cut := truncateDisplay(text, limit)

	var b strings.Builder
	b.WriteString(heading)
	b.WriteString("\n\n<code>")
	b.WriteString(escapeForDisplay(shown))
	b.WriteString("</code>\n\n")
	b.WriteString(hint)
	if cut {
		fmt.Fprintf(&b, "\n\n⚠️ Text truncated (showing %d of %d characters)", kept, total)
	}
	return b.String()
}
