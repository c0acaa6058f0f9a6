package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// JSON expects a list of objects; each object carrying a "text" key yields
// one block. Malformed input fails the extraction for the whole file; a
// JSON source never partially succeeds.
type JSON struct{}

func (j *JSON) Extract(ctx context.Context, path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	var blocks []string
	for _, item := range items {
		if text, ok := item["text"].(string); ok {
			if text = strings.TrimSpace(text); text != "" {
				blocks = append(blocks, text)
			}
		}
	}
	return blocks, nil
}
