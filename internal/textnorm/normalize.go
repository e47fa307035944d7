// Package textnorm normalizes statement markdown into the canonical text
// stored alongside each screenshot.
package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ImagePlaceholder replaces every embedded image.
const ImagePlaceholder = "[IMAGE]"

var (
	fenceLine      = regexp.MustCompile("^\\s*(```|~~~)")
	inlineCode     = regexp.MustCompile("`[^`\n]+`")
	imagePattern   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkPattern    = regexp.MustCompile(`\[([^\]]+)\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)
	thematicBreak  = regexp.MustCompile(`^ {0,3}(?:(?:-\s*){3,}|(?:\*\s*){3,}|(?:_\s*){3,})$`)
	blockMath      = regexp.MustCompile(`(?s)\$\$(.+?)\$\$`)
	inlineMath     = regexp.MustCompile(`\$([^$\n]+?)\$`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
	texOperators   = regexp.MustCompile(`([=+\-<>/])`)
	texPunctuation = regexp.MustCompile(`\s*([,.:;!?])\s*`)
	texScripts     = regexp.MustCompile(`\s*([\^_])\s*`)
	texClosers     = regexp.MustCompile(`\s*([)\]}])`)
	texOpeners     = regexp.MustCompile(`([(\[{])\s*`)
	texSpaces      = regexp.MustCompile(`\s+`)
	texComment     = regexp.MustCompile(`(^|[^\\])%[^\n]*`)
)

// Normalize canonicalizes statement markdown: Unicode NFC, images replaced
// by ImagePlaceholder, links reduced to their text (or <url> when the text
// is the URL itself), thematic breaks unified, LaTeX compacted, and blank
// line runs collapsed. Fenced and inline code is left untouched.
func Normalize(markdown string) string {
	text := norm.NFC.String(strings.ReplaceAll(markdown, "\r\n", "\n"))

	var (
		out     []string
		prose   []string
		inFence bool
	)
	flush := func() {
		if len(prose) > 0 {
			out = append(out, normalizeProse(strings.Join(prose, "\n")))
			prose = prose[:0]
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if fenceLine.MatchString(line) {
			if !inFence {
				flush()
			}
			inFence = !inFence
			out = append(out, strings.TrimRight(line, " \t"))
			continue
		}
		if inFence {
			out = append(out, line)
			continue
		}
		prose = append(prose, line)
	}
	flush()

	joined := blankRuns.ReplaceAllString(strings.Join(out, "\n"), "\n\n")
	return strings.TrimSpace(joined)
}

func normalizeProse(block string) string {
	block = blockMath.ReplaceAllStringFunc(block, func(m string) string {
		inner := blockMath.FindStringSubmatch(m)[1]
		return "\n$$\n" + CompactLatex(inner) + "\n$$\n"
	})

	lines := strings.Split(block, "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, " \t")
		if thematicBreak.MatchString(line) {
			lines[i] = "---"
			continue
		}
		lines[i] = mapOutsideCode(line, normalizeInline)
	}
	return strings.Join(lines, "\n")
}

func normalizeInline(s string) string {
	s = imagePattern.ReplaceAllString(s, ImagePlaceholder)
	s = linkPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := linkPattern.FindStringSubmatch(m)
		label, url := strings.TrimSpace(parts[1]), parts[2]
		if label == url {
			return "<" + url + ">"
		}
		return label
	})
	return inlineMath.ReplaceAllStringFunc(s, func(m string) string {
		inner := inlineMath.FindStringSubmatch(m)[1]
		return "$" + CompactLatex(inner) + "$"
	})
}

// mapOutsideCode applies fn to the parts of line outside inline code spans.
func mapOutsideCode(line string, fn func(string) string) string {
	spans := inlineCode.FindAllStringIndex(line, -1)
	if len(spans) == 0 {
		return fn(line)
	}
	var b strings.Builder
	prev := 0
	for _, span := range spans {
		b.WriteString(fn(line[prev:span[0]]))
		b.WriteString(line[span[0]:span[1]])
		prev = span[1]
	}
	b.WriteString(fn(line[prev:]))
	return b.String()
}

// CompactLatex rewrites a TeX fragment into a single-line canonical spacing:
// binary operators are padded, punctuation is followed by one space, and no
// spaces surround sub/superscripts or sit inside brackets.
func CompactLatex(tex string) string {
	tex = texComment.ReplaceAllString(tex, "$1")
	tex = texSpaces.ReplaceAllString(tex, " ")
	tex = texOperators.ReplaceAllString(tex, " $1 ")
	tex = texPunctuation.ReplaceAllString(tex, "$1 ")
	tex = texScripts.ReplaceAllString(tex, "$1")
	tex = texClosers.ReplaceAllString(tex, "$1")
	tex = texOpeners.ReplaceAllString(tex, "$1")
	tex = texSpaces.ReplaceAllString(tex, " ")
	return strings.TrimSpace(tex)
}
