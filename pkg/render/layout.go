package render

import (
	"strings"

	"golang.org/x/image/font"
)

// Normalize splits text into lines ready for wrapping. Each line is trimmed
// and internal whitespace runs collapse to one space. A line that was empty
// in the source becomes a blank marker (""), consecutive markers collapse to
// one, and markers at either end are dropped. Lines holding only whitespace
// are dropped without leaving a marker.
func Normalize(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var out []string
	for _, raw := range strings.Split(text, "\n") {
		if raw == "" {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}
		line := strings.Join(strings.Fields(raw), " ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}

	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// Wrap breaks every normalized line at maxWidth pixels as measured with face.
// Lines are wrapped independently so words never move across a source line
// break. A single word wider than maxWidth is kept whole on its own line.
func Wrap(face font.Face, lines []string, maxWidth int) []string {
	var out []string
	for _, line := range lines {
		if line == "" {
			out = append(out, "")
			continue
		}

		var current string
		for _, word := range strings.Fields(line) {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}
			if font.MeasureString(face, candidate).Ceil() <= maxWidth {
				current = candidate
				continue
			}
			if current != "" {
				out = append(out, current)
			}
			current = word
		}
		if current != "" {
			out = append(out, current)
		}
	}
	return out
}

// CanvasHeight returns the image height needed for n wrapped lines.
func CanvasHeight(n int) int {
	return n*(FontSize+LineSpacing) + 2*Padding + HeaderAllowance
}
