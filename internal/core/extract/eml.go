package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/phuslu/log"
)

// EML parses MIME parts and extracts only text/plain bodies. Quoted thread
// history (lines starting with ">>") is dropped so the same exchange is
// not re-processed once per reply. Subject and date are prepended to the
// first block as context.
type EML struct{}

func (e *EML) Extract(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open eml: %w", err)
	}
	defer f.Close()

	mr, err := mail.CreateReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse eml: %w", err)
	}

	var header strings.Builder
	if subject, err := mr.Header.Subject(); err == nil && subject != "" {
		fmt.Fprintf(&header, "Subject: %s\n", subject)
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		fmt.Fprintf(&header, "Date: %s\n", date.Format("2006-01-02 15:04"))
	}

	var blocks []string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("unreadable mime part skipped")
			continue
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, err := h.ContentType()
		if err != nil || ct != "text/plain" {
			continue
		}

		body, err := io.ReadAll(p.Body)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("mime part body read failed, skipped")
			continue
		}

		text := dropQuotedLines(string(body))
		if text == "" {
			continue
		}
		if len(blocks) == 0 && header.Len() > 0 {
			text = header.String() + "\n" + text
		}
		blocks = append(blocks, text)
	}
	return blocks, nil
}

func dropQuotedLines(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">>") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
