package refine

import (
	"math"
	"strings"
	"unicode"
)

// UnclearMarker demarcates the "unclear passages" section a refinement
// prompt asks the model to append when it could not read part of a page.
const UnclearMarker = "【不明瞭】"

var sentenceEndings = []rune{'。', '．', '.', '!', '?', '！', '？', '」', '』', '”', ')', '）', '…'}

// Score estimates how trustworthy a refined block is, in [0,1]. It starts
// at 1.0 and subtracts independent penalties:
//
//   - compression ratio below 0.8 (too much was dropped)
//   - under 30% of lines ending in sentence-final punctuation (fragmented output)
//   - over 40% Latin content when the target language is Japanese (leakage)
//   - an unclear-passages section, proportional to its share of the output
//
// The result is clamped to [0,1] and rounded to 3 decimals.
func Score(original, refined, language string) float64 {
	penalty := 0.0

	origLen := len([]rune(original))
	refLen := len([]rune(refined))
	if origLen > 0 && float64(refLen)/float64(origLen) < 0.8 {
		penalty += 0.2
	}

	if punctuationLineFraction(refined) < 0.3 {
		penalty += 0.2
	}

	if language == "ja" && latinFraction(refined) > 0.4 {
		penalty += 0.2
	}

	if idx := strings.Index(refined, UnclearMarker); idx >= 0 && refLen > 0 {
		share := float64(len([]rune(refined[idx:]))) / float64(refLen)
		penalty += math.Min(0.2, share)
	}

	score := 1.0 - penalty
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*1000) / 1000
}

// punctuationLineFraction is the fraction of non-blank lines ending in
// sentence-final punctuation. Zero non-blank lines count as fully
// fragmented.
func punctuationLineFraction(s string) float64 {
	var total, ended int
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			continue
		}
		total++
		last := []rune(line)[len([]rune(line))-1]
		for _, e := range sentenceEndings {
			if last == e {
				ended++
				break
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(ended) / float64(total)
}

// latinFraction is the share of Latin letters among all letters, used to
// spot wrong-language leakage in Japanese-targeted refinement.
func latinFraction(s string) float64 {
	var latin, letters int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.In(r, unicode.Latin) {
			latin++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(latin) / float64(letters)
}
