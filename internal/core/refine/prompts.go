package refine

import (
	"strings"
)

const textPlaceholder = "{{TEXT}}"

// Prompt templates keyed the way ingest requests reference them. Each
// template carries the placeholder that the cleaned block is substituted
// into. An unknown key falls back to "default".
var promptTemplates = map[string]string{
	"default": "次のテキストはOCRと文書抽出の生出力です。誤認識を修正し、重複を取り除き、" +
		"自然な日本語に整形してください。判読できない箇所は末尾に「" + UnclearMarker + "」として列挙してください。" +
		"整形後の本文のみを出力してください。\n\n" + textPlaceholder,
	"ja_strict": "以下のテキストを校正してください。意味を変えず、英語の混入を取り除き、" +
		"すべて日本語で出力してください。判読不能な箇所は「" + UnclearMarker + "」の見出しの下にまとめてください。\n\n" + textPlaceholder,
	"en": "The following text is raw output from OCR and document extraction. " +
		"Fix recognition errors, remove duplicated passages, and rewrite it as clean English prose. " +
		"List unreadable passages at the end under the heading " + UnclearMarker + ". " +
		"Output only the cleaned text.\n\n" + textPlaceholder,
	"email": "次のテキストはメール本文の抜粋です。署名・定型句・引用の残骸を取り除き、" +
		"要点を保ったまま自然な日本語に整形してください。本文のみを出力してください。\n\n" + textPlaceholder,
}

// BuildPrompt renders the named template with the cleaned text. The second
// return value reports the key actually used after fallback.
func BuildPrompt(promptKey, text string) (string, string) {
	tmpl, ok := promptTemplates[promptKey]
	if !ok {
		promptKey = "default"
		tmpl = promptTemplates[promptKey]
	}
	return strings.Replace(tmpl, textPlaceholder, text, 1), promptKey
}
