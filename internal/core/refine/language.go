package refine

import (
	"github.com/abadojack/whatlanggo"
)

// detectLanguage classifies the text's language, returning ("", false)
// when the detector cannot decide.
func detectLanguage(text string) (string, bool) {
	lang := whatlanggo.DetectLang(text)
	switch lang {
	case -1:
		return "", false
	case whatlanggo.Jpn:
		return "ja", true
	case whatlanggo.Eng:
		return "en", true
	default:
		return whatlanggo.LangToString(lang), true
	}
}

// detectLanguageOr collapses an undecidable detection to the configured
// fallback language.
func detectLanguageOr(text, fallback string) string {
	if lang, ok := detectLanguage(text); ok {
		return lang
	}
	return fallback
}
