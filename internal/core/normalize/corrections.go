package normalize

import (
	"embed"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/phuslu/log"
)

//go:embed corrections.json
var correctionsFS embed.FS

var (
	replacerOnce sync.Once
	replacer     *strings.Replacer
)

// CorrectOCR applies the embedded dictionary of known OCR misreads.
// Longer keys are applied first so overlapping entries resolve
// deterministically.
func CorrectOCR(s string) string {
	replacerOnce.Do(loadCorrections)
	if replacer == nil {
		return s
	}
	return replacer.Replace(s)
}

func loadCorrections() {
	raw, err := correctionsFS.ReadFile("corrections.json")
	if err != nil {
		log.Warn().Err(err).Msg("ocr corrections dictionary missing, corrections disabled")
		return
	}
	var dict map[string]string
	if err := json.Unmarshal(raw, &dict); err != nil {
		log.Warn().Err(err).Msg("ocr corrections dictionary malformed, corrections disabled")
		return
	}

	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, len(dict)*2)
	for _, k := range keys {
		pairs = append(pairs, k, dict[k])
	}
	replacer = strings.NewReplacer(pairs...)
}
