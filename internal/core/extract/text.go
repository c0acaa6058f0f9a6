package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Text treats a plain-text file as blocks split on its existing paragraph
// structure (runs of blank lines). No OCR, no information loss: every
// non-blank line survives in exactly one block, in order.
type Text struct{}

func (t *Text) Extract(ctx context.Context, path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read txt: %w", err)
	}

	content := strings.ReplaceAll(string(raw), "\r\n", "\n")

	var blocks []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = current[:0]
		}
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return blocks, nil
}
