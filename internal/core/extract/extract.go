// Package extract converts source files into ordered raw text blocks,
// one block per logical unit (PDF page, email part, CSV row). Dispatch is
// by file extension through a registry so adding a format means
// registering a new implementation.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for extensions with no registered extractor.
var ErrUnsupported = errors.New("unsupported file extension")

// Extractor produces the ordered raw text blocks of one source file.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]string, error)
}

// SupportedExtensions is the default allowed set for folder scans.
var SupportedExtensions = []string{".txt", ".pdf", ".docx", ".csv", ".json", ".eml"}

// Registry maps lower-cased file extensions to extractor implementations.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry builds the default registry wired with the given OCR languages.
func NewRegistry(ocrLanguages []string) *Registry {
	ocr := NewOCREngine(ocrLanguages)
	r := &Registry{byExt: make(map[string]Extractor)}
	r.Register(".pdf", NewPDF(ocr))
	r.Register(".docx", NewDOCX(ocr))
	r.Register(".txt", &Text{})
	r.Register(".csv", &CSV{})
	r.Register(".json", &JSON{})
	r.Register(".eml", &EML{})
	return r
}

// Register binds an extension (with leading dot) to an implementation.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// ByExtension resolves the extractor for a path, or ErrUnsupported.
func (r *Registry) ByExtension(path string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return e, nil
}

// Extract dispatches to the registered extractor for the path's extension.
func (r *Registry) Extract(ctx context.Context, path string) ([]string, error) {
	e, err := r.ByExtension(path)
	if err != nil {
		return nil, err
	}
	return e.Extract(ctx, path)
}
