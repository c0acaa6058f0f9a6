// Package normalize performs deterministic text cleanup between extraction
// and LLM refinement: width folding, blank-line compression, and
// dictionary-based OCR error correction.
package normalize

import (
	"strings"

	"golang.org/x/text/width"
)

// Normalize runs the full deterministic cleanup over one extracted block.
func Normalize(s string) string {
	s = FoldWidth(s)
	s = CorrectOCR(s)
	s = CompressBlankLines(s)
	return s
}

// FoldWidth maps full-width ASCII and half-width kana to their canonical
// forms. Ideographic spaces become regular spaces so that blank-line
// detection treats them as whitespace.
func FoldWidth(s string) string {
	s = width.Fold.String(s)
	return strings.ReplaceAll(s, "　", " ")
}

// CompressBlankLines removes whitespace-only lines at the edges, trims
// trailing whitespace per line, and collapses every run of consecutive
// blank lines to exactly one blank line. Single blank lines are preserved.
func CompressBlankLines(s string) string {
	lines := strings.Split(s, "\n")

	var out []string
	blankRun := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r　")
		if strings.TrimSpace(line) == "" {
			blankRun++
			continue
		}
		if blankRun > 0 && len(out) > 0 {
			out = append(out, "")
		}
		blankRun = 0
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
