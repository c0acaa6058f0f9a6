package refine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreBounded(t *testing.T) {
	inputs := []struct{ original, refined, lang string }{
		{"", "", "ja"},
		{"some original text", "", "ja"},
		{"短い。", "This is entirely English output without ending", "ja"},
		{strings.Repeat("長い文章です。", 50), "ほぼ全部消えた", "ja"},
		{"abc", strings.Repeat("x", 10000), "en"},
		{"原文です。", "整形。" + UnclearMarker + strings.Repeat("不明", 100), "ja"},
	}
	for _, in := range inputs {
		s := Score(in.original, in.refined, in.lang)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestScorePerfect(t *testing.T) {
	text := "これは整形済みの文章です。\nすべての行が句点で終わります。"
	assert.Equal(t, 1.0, Score(text, text, "ja"))
}

func TestScoreCompressionPenalty(t *testing.T) {
	original := strings.Repeat("元の文章です。", 20)
	refined := "短くなった。"
	// Compression penalty applies; punctuation and language are fine.
	assert.Equal(t, 0.8, Score(original, refined, "ja"))
}

func TestScoreFragmentedOutputPenalty(t *testing.T) {
	original := "原文です。"
	refined := "断片的な\n出力が\n続いて\nいる途中"
	// Length grew so no compression penalty; no line ends with punctuation.
	assert.Equal(t, 0.8, Score(original, refined, "ja"))
}

func TestScoreEnglishLeakagePenalty(t *testing.T) {
	original := "日本語の原文です。"
	refined := "This output is entirely English prose that kept on going and going."
	s := Score(original, refined, "ja")
	// English leakage penalty; punctuation is fine, length grew.
	assert.Equal(t, 0.8, s)

	// Same output against an English target draws no language penalty.
	assert.Equal(t, 1.0, Score(original, refined, "en"))
}

func TestScoreUnclearSectionPenalty(t *testing.T) {
	body := strings.Repeat("整形済みの本文です。", 20)
	unclear := UnclearMarker + "末尾の一部。"
	s := Score(body, body+"\n"+unclear, "ja")
	assert.Less(t, s, 1.0)
	assert.GreaterOrEqual(t, s, 0.8) // capped at 0.2
}

func TestScoreRoundsToThreeDecimals(t *testing.T) {
	body := strings.Repeat("本文です。", 30)
	s := Score(body, body+UnclearMarker+"不明箇所。", "ja")
	assert.Equal(t, s, float64(int(s*1000))/1000)
}
