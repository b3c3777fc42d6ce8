package lecturequiz

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	dashedPageMarker = regexp.MustCompile(`(?i)-{2,}[ \t]*page[ \t]+\d+[ \t]*-{2,}`)
	pageOfMarker     = regexp.MustCompile(`(?i)\bpage[ \t]+\d+[ \t]+of[ \t]+\d+\b`)
	pageLineMarker   = regexp.MustCompile(`(?im)^[ \t]*page[ \t]+\d+[ \t]*$`)
	blankLineRun     = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
	spaceRun         = regexp.MustCompile(` {2,}`)
)

// NormalizeText cleans raw extracted text. Rules are applied in order: page
// markers, control characters, blank line runs, space runs, private-use
// bullet glyphs, then trailing whitespace.
func NormalizeText(raw string) string {
	if raw == "" {
		return ""
	}

	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\f", "\n")

	text = dashedPageMarker.ReplaceAllString(text, "")
	text = pageOfMarker.ReplaceAllString(text, "")
	text = pageLineMarker.ReplaceAllString(text, "")

	text = stripControl(text)

	text = blankLineRun.ReplaceAllString(text, "\n\n")
	text = spaceRun.ReplaceAllString(text, " ")

	text = strings.Map(func(r rune) rune {
		if r >= 0xE000 && r <= 0xF8FF {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\u00a0':
			return ' '
		case r == unicode.ReplacementChar:
			return -1
		case unicode.IsControl(r):
			return -1
		case unicode.Is(unicode.Cf, r):
			return -1
		}
		return r
	}, s)
}
