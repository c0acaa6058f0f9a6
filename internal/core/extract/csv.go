package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/phuslu/log"
)

// CSV yields one block per non-empty "text" cell. A file without a text
// column, and rows that cannot be parsed, are logged and skipped rather
// than failing the file.
type CSV struct{}

func (c *CSV) Extract(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	textCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "text") {
			textCol = i
			break
		}
	}
	if textCol < 0 {
		log.Warn().Str("file", path).Msg("csv has no text column, skipping file contents")
		return nil, nil
	}

	var blocks []string
	for row := 2; ; row++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Str("file", path).Int("row", row).Msg("invalid csv row skipped")
			continue
		}
		if textCol >= len(record) {
			log.Warn().Str("file", path).Int("row", row).Msg("csv row missing text cell, skipped")
			continue
		}
		if cell := strings.TrimSpace(record[textCol]); cell != "" {
			blocks = append(blocks, cell)
		}
	}
	return blocks, nil
}
