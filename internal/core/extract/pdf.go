package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/phuslu/log"
)

// PDF extracts one block per page: the embedded text layer plus OCR of the
// page images, clearly separated so downstream normalization treats them
// uniformly. Pages are processed one at a time so very large documents are
// never held in memory at once.
type PDF struct {
	ocr *OCREngine
}

func NewPDF(ocr *OCREngine) *PDF {
	return &PDF{ocr: ocr}
}

func (p *PDF) Extract(ctx context.Context, path string) ([]string, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	pageCount := pdfCtx.PageCount

	tempDir, err := os.MkdirTemp("", "textora-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("pdf temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	conf := model.NewDefaultConfiguration()

	blocks := make([]string, 0, pageCount)
	sawLayer := false
	for page := 1; page <= pageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		layer := p.extractTextLayer(path, tempDir, page, conf)
		if strings.TrimSpace(layer) != "" {
			sawLayer = true
		}
		ocrText := p.ocrPageImages(path, tempDir, page, conf)

		var b strings.Builder
		b.WriteString("[text]\n")
		b.WriteString(strings.TrimSpace(layer))
		b.WriteString("\n\n[ocr]\n")
		b.WriteString(strings.TrimSpace(ocrText))
		blocks = append(blocks, b.String())
	}

	// No page had a readable text layer: fall back to a document-level
	// extraction, which also reads the encodings the per-page scrape skips.
	if !sawLayer {
		blocks = prependDocText(blocks, p.wholeDocumentText(path))
	}
	return blocks, nil
}

// wholeDocumentText is the docconv text layer for the full document. It is
// not page-addressable, so it only serves as a backstop block.
func (p *PDF) wholeDocumentText(path string) string {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("document text backstop failed")
		return ""
	}
	return strings.TrimSpace(res.Body)
}

// prependDocText puts a document-level text block ahead of the per-page
// blocks. An empty backstop is a no-op.
func prependDocText(blocks []string, doc string) []string {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return blocks
	}
	return append([]string{"[text]\n" + doc}, blocks...)
}

// extractTextLayer pulls the embedded text of one page out of its content
// stream. A page with no text layer yields an empty string, never an error.
func (p *PDF) extractTextLayer(path, tempDir string, page int, conf *model.Configuration) string {
	outDir := filepath.Join(tempDir, fmt.Sprintf("content_%d", page))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return ""
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, []string{strconv.Itoa(page)}, conf); err != nil {
		log.Warn().Err(err).Int("page", page).Str("file", path).Msg("pdf content extraction failed")
		return ""
	}

	files, _ := os.ReadDir(outDir)
	var b strings.Builder
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(outDir, f.Name()))
		if err != nil {
			continue
		}
		b.WriteString(contentStreamText(string(raw)))
	}
	return b.String()
}

// ocrPageImages extracts the images of one page and OCRs each after
// orientation correction. Per-page OCR failures degrade to an empty
// result; they are logged, never raised.
func (p *PDF) ocrPageImages(path, tempDir string, page int, conf *model.Configuration) string {
	imgDir := filepath.Join(tempDir, fmt.Sprintf("images_%d", page))
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		return ""
	}
	defer os.RemoveAll(imgDir)

	if err := api.ExtractImagesFile(path, imgDir, []string{strconv.Itoa(page)}, conf); err != nil {
		log.Warn().Err(err).Int("page", page).Str("file", path).Msg("pdf image extraction failed")
		return ""
	}

	files, _ := os.ReadDir(imgDir)
	var parts []string
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		imgPath := filepath.Join(imgDir, f.Name())
		upright := p.ocr.CorrectOrientation(imgPath)
		text, err := p.ocr.RecognizeFile(upright)
		if err != nil {
			log.Warn().Err(err).Int("page", page).Str("image", f.Name()).Msg("page ocr failed, using empty result")
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// contentStreamText recovers the literal show-text strings of a
// decompressed PDF content stream. Hex strings and glyph-encoded fonts are
// out of reach here; the document-level backstop and the OCR pass cover
// those pages.
func contentStreamText(stream string) string {
	var b strings.Builder
	depth := 0
	escaped := false
	for _, r := range stream {
		switch {
		case escaped:
			if depth > 0 {
				switch r {
				case 'n':
					b.WriteRune('\n')
				case 't':
					b.WriteRune('\t')
				case '(', ')', '\\':
					b.WriteRune(r)
				}
			}
			escaped = false
		case r == '\\':
			escaped = true
		case r == '(':
			depth++
			if depth > 1 {
				b.WriteRune(r)
			}
		case r == ')':
			depth--
			if depth > 0 {
				b.WriteRune(r)
			} else if depth == 0 {
				b.WriteRune('\n')
			}
			if depth < 0 {
				depth = 0
			}
		case depth > 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
