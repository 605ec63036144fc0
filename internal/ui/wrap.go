package ui

import (
	"strings"
	"unicode"
)

// Wrap breaks text into lines no wider than width cells. Lines break at the
// last space when there is one; text without spaces, such as Chinese, breaks
// at any rune.
func Wrap(text string, width int) []string {
	if width <= 0 {
		return nil
	}
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		lines = append(lines, wrapLine(para, width)...)
	}
	return lines
}

func wrapLine(text string, width int) []string {
	runes := []rune(strings.TrimRightFunc(text, unicode.IsSpace))
	if len(runes) == 0 {
		return []string{""}
	}

	var lines []string
	start, cells, lastSpace := 0, 0, -1
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		w := RuneWidth(r)
		if cells+w > width && i > start {
			end := i
			next := i
			switch {
			case r == ' ':
				next = i + 1
			case lastSpace > start:
				end = lastSpace
				next = lastSpace + 1
			}
			lines = append(lines, string(runes[start:end]))
			start, cells, lastSpace = next, 0, -1
			i = next - 1
			continue
		}
		if r == ' ' {
			lastSpace = i
		}
		cells += w
	}
	return append(lines, string(runes[start:]))
}
