package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
	"github.com/phuslu/log"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// DOCX combines two extractions into one block: the structured text that
// the document API exposes, and OCR of a PDF rendering produced by an
// external converter. The rendering catches content the text API misses,
// such as text inside embedded images; downstream refinement reconciles
// the two sections.
type DOCX struct {
	ocr *OCREngine
}

func NewDOCX(ocr *OCREngine) *DOCX {
	return &DOCX{ocr: ocr}
}

func (d *DOCX) Extract(ctx context.Context, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	res, err := docconv.Convert(f, docxMIME, false)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("docx text extraction: %w", err)
	}

	ocrText, err := d.ocrRendering(ctx, path)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("[docx]\n")
	b.WriteString(strings.TrimSpace(res.Body))
	b.WriteString("\n\n[pdf-ocr]\n")
	b.WriteString(strings.TrimSpace(ocrText))
	return []string{b.String()}, nil
}

// ocrRendering converts the document to PDF with LibreOffice and runs the
// PDF extractor over the rendering. Converter failure is an extraction
// error for the whole file.
func (d *DOCX) ocrRendering(ctx context.Context, path string) (string, error) {
	tempDir, err := os.MkdirTemp("", "textora-docx-*")
	if err != nil {
		return "", fmt.Errorf("docx temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	cmd := exec.CommandContext(ctx, "soffice", "--headless", "--convert-to", "pdf", "--outdir", tempDir, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("docx to pdf conversion: %w: %s", err, strings.TrimSpace(string(out)))
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pdfPath := filepath.Join(tempDir, base+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("docx to pdf conversion produced no output: %w", err)
	}

	pages, err := NewPDF(d.ocr).Extract(ctx, pdfPath)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("ocr of docx rendering failed, keeping text extraction only")
		return "", nil
	}
	return strings.Join(pages, "\n\n"), nil
}
