// Package refine rewrites normalized text blocks with a language model,
// producing a single-language, non-repetitive version plus a quality
// score.
package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/refinelab/textora/internal/core"
)

// ErrTimeout marks an LLM call that exceeded the per-call timeout. It is
// fatal for the file being processed and is not retried within a run.
var ErrTimeout = errors.New("llm timeout")

// degeneratePlaceholder substitutes an empty model response so downstream
// stages see a non-fatal, low-scoring block instead of an error.
const degeneratePlaceholder = "（整形結果なし）"

// minParagraphRunes is the minimum paragraph length worth an independent
// LLM pass in paragraph mode; shorter paragraphs are kept verbatim.
const minParagraphRunes = 40

var boilerplatePhrases = []string{
	"please provide",
	"i cannot",
	"i'm sorry",
	"i am sorry",
	"as an ai",
	"i am unable",
	"could you clarify",
	"sure, here is",
}

// Refiner implements core.Refiner on top of an LLMProvider.
type Refiner struct {
	llm          core.LLMProvider
	fallbackLang string
}

var _ core.Refiner = (*Refiner)(nil)

func New(llm core.LLMProvider, fallbackLang string) *Refiner {
	if fallbackLang == "" {
		fallbackLang = "ja"
	}
	return &Refiner{llm: llm, fallbackLang: fallbackLang}
}

// Refine rewrites one normalized block. A zero timeout means no timeout.
func (r *Refiner) Refine(ctx context.Context, text, promptKey string, timeout time.Duration) (*core.Refinement, error) {
	lang := detectLanguageOr(text, r.fallbackLang)
	prompt, usedKey := BuildPrompt(promptKey, text)

	out, err := r.generate(ctx, prompt, maxTokensFor(text), timeout)
	if err != nil {
		return nil, err
	}

	refined := strings.TrimSpace(out)
	if refined == "" {
		log.Warn().Str("prompt_key", usedKey).Msg("model returned empty output, substituting placeholder")
		refined = degeneratePlaceholder
	}

	return &core.Refinement{
		Text:     refined,
		Language: lang,
		Score:    Score(text, refined, lang),
		Prompt:   usedKey,
	}, nil
}

// RefineParagraphs refines paragraph-by-paragraph and drops outputs that
// match the boilerplate-rejection heuristic, so one refused paragraph does
// not pollute the aggregate. If nothing survives, the unrefined original
// is returned so the pipeline never produces an empty result.
func (r *Refiner) RefineParagraphs(ctx context.Context, text, promptKey string, timeout time.Duration) (*core.Refinement, error) {
	lang := detectLanguageOr(text, r.fallbackLang)

	var kept []string
	refinedAny := false
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len([]rune(para)) < minParagraphRunes {
			kept = append(kept, para)
			continue
		}

		res, err := r.Refine(ctx, para, promptKey, timeout)
		if err != nil {
			return nil, err
		}
		if Rejected(res.Text, lang) {
			log.Debug().Str("language", lang).Int("len", len(res.Text)).Msg("paragraph output rejected as boilerplate")
			continue
		}
		kept = append(kept, res.Text)
		refinedAny = true
	}

	if !refinedAny && len(kept) == 0 {
		log.Warn().Msg("no paragraph survived refinement, falling back to original text")
		return &core.Refinement{
			Text:     text,
			Language: lang,
			Score:    Score(text, text, lang),
			Prompt:   promptKey,
		}, nil
	}

	joined := strings.Join(kept, "\n\n")
	return &core.Refinement{
		Text:     joined,
		Language: lang,
		Score:    Score(text, joined, lang),
		Prompt:   promptKey,
	}, nil
}

// Rejected reports whether a paragraph-mode output looks like refused or
// templated model output rather than a refinement: too short, containing
// known boilerplate, detected as English when another language was the
// target, or undecidable (treated conservatively as invalid).
func Rejected(output, targetLang string) bool {
	stripped := strings.TrimSpace(output)
	if len([]rune(stripped)) < 30 {
		return true
	}
	lower := strings.ToLower(stripped)
	for _, phrase := range boilerplatePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	detected, ok := detectLanguage(stripped)
	if !ok {
		return true
	}
	if detected == "en" && targetLang != "en" {
		return true
	}
	return false
}

func (r *Refiner) generate(ctx context.Context, prompt string, maxTokens int, timeout time.Duration) (string, error) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := r.llm.Generate(callCtx, "", prompt, maxTokens)
	if err != nil {
		if timeout > 0 && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return "", fmt.Errorf("llm generate: %w", err)
	}
	return out, nil
}

// maxTokensFor sizes the generation budget relative to the input so the
// model is discouraged from truncating long pages or padding short ones.
func maxTokensFor(text string) int {
	approx := len([]rune(text)) / 2
	budget := approx * 2
	if budget < 256 {
		budget = 256
	}
	if budget > 8192 {
		budget = 8192
	}
	return budget
}
