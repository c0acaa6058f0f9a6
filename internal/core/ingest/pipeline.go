// Package ingest drives one file end-to-end through extraction,
// normalization, LLM refinement, chunking, embedding and storage, emitting
// progress events and honoring cooperative cancellation.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/refinelab/textora/internal/core"
	"github.com/refinelab/textora/internal/core/normalize"
	"github.com/refinelab/textora/internal/core/refine"
	"github.com/refinelab/textora/internal/models"
)

// embedBatchSize bounds how many chunks go to a backend in one call;
// embedConcurrency bounds how many such calls run at once.
const (
	embedBatchSize   = 32
	embedConcurrency = 4
)

const previewRunes = 80

// Pipeline orchestrates the per-file ingestion sequence. Stages run in a
// fixed order; a stage failure is terminal for that file but never for
// the batch.
type Pipeline struct {
	db           core.DbClient
	extractor    core.TextExtractor
	refiner      core.Refiner
	backends     map[string]core.EmbeddingBackend
	chunkSize    int
	chunkOverlap int
}

func NewPipeline(db core.DbClient, extractor core.TextExtractor, refiner core.Refiner, backends map[string]core.EmbeddingBackend, chunkSize, chunkOverlap int) *Pipeline {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	return &Pipeline{
		db:           db,
		extractor:    extractor,
		refiner:      refiner,
		backends:     backends,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Run processes the job's files in registration order and returns the
// progress stream. The stream is lazy, ordered, finite and closed after a
// terminal done event, which is emitted even when every file failed or
// the job was cancelled.
func (p *Pipeline) Run(ctx context.Context, job *Job) <-chan models.ProgressEvent {
	events := make(chan models.ProgressEvent, 16)

	go func() {
		defer close(events)
		emit := func(ev models.ProgressEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		for _, path := range job.Files {
			// The abort flag is checked between files, never mid-call.
			if job.Aborted() || ctx.Err() != nil {
				break
			}
			p.ingestFile(ctx, job, path, emit)
		}
		emit(models.ProgressEvent{Step: models.StepDone})
	}()

	return events
}

// ingestFile runs the full stage sequence for one file. Every failure is
// converted into a terminal status plus an error event here; nothing
// escapes to abort the batch.
func (p *Pipeline) ingestFile(ctx context.Context, job *Job, path string, emit func(models.ProgressEvent)) {
	started := time.Now()
	name := filepath.Base(path)

	raw, err := os.ReadFile(path)
	if err != nil {
		emit(models.ProgressEvent{FileName: name, Step: models.StepFileError, Error: fmt.Sprintf("read file: %v", err)})
		return
	}

	sum := sha256.Sum256(raw)
	rec := &models.FileRecord{
		FileName:    name,
		Extension:   strings.ToLower(filepath.Ext(path)),
		SizeBytes:   int64(len(raw)),
		ContentHash: hex.EncodeToString(sum[:]),
		Status:      models.StatusPending,
	}

	fileID, err := p.db.FindOrCreateFile(ctx, rec)
	if err != nil {
		emit(models.ProgressEvent{FileName: name, Step: models.StepFileError, Error: fmt.Sprintf("register: %v", err)})
		return
	}
	emit(models.ProgressEvent{FileID: fileID, FileName: name, Step: models.StepRegistered})

	fail := func(note string, err error) {
		detail := note
		if err != nil {
			detail = fmt.Sprintf("%s: %v", note, err)
		}
		log.Error().Str("file", name).Str("file_id", fileID).Msg(detail)
		if uerr := p.db.UpdateFileStatus(ctx, fileID, models.StatusError, note); uerr != nil {
			log.Error().Err(uerr).Str("file_id", fileID).Msg("failed to record error status")
		}
		emit(models.ProgressEvent{FileID: fileID, FileName: name, Step: models.StepFileError, Error: detail})
	}

	if err := p.db.UpdateFileStatus(ctx, fileID, models.StatusProcessing, ""); err != nil {
		fail("storage error", err)
		return
	}

	// Extract.
	extractStart := time.Now()
	blocks, err := p.extractor.Extract(ctx, path)
	if err != nil {
		fail("extraction failed", err)
		return
	}
	blocks = dedupeBlocks(blocks)
	if len(blocks) == 0 {
		fail("no text", nil)
		return
	}
	emit(models.ProgressEvent{
		FileID:     fileID,
		FileName:   name,
		Step:       models.StepExtracted,
		Detail:     fmt.Sprintf("%d blocks", len(blocks)),
		DurationMS: time.Since(extractStart).Milliseconds(),
	})

	rawText := strings.Join(blocks, "\n\n")
	if err := p.db.UpdateFileText(ctx, fileID, models.TextUpdate{RawText: &rawText}); err != nil {
		fail("storage error", err)
		return
	}

	// Refine block by block. The file-level score is the minimum over its
	// blocks: the weakest page determines overall trust.
	useParagraphMode := rec.Extension == ".eml"
	minScore := 1.0
	var refinedBlocks []string
	for i, block := range blocks {
		if job.Aborted() || ctx.Err() != nil {
			// Cancelled mid-file: stop at the block boundary, leave the
			// record in processing. Completed writes stay persisted.
			log.Info().Str("file", name).Int("block", i+1).Msg("ingestion aborted between blocks")
			return
		}

		normalized := normalize.Normalize(block)
		if normalized == "" {
			continue
		}

		var res *core.Refinement
		if useParagraphMode {
			res, err = p.refiner.RefineParagraphs(ctx, normalized, job.Params.PromptKey, job.Params.LLMTimeout)
		} else {
			res, err = p.refiner.Refine(ctx, normalized, job.Params.PromptKey, job.Params.LLMTimeout)
		}
		if err != nil {
			if errors.Is(err, refine.ErrTimeout) {
				fail("llm timeout", nil)
			} else {
				fail("refinement failed", err)
			}
			return
		}

		if res.Score < minScore {
			minScore = res.Score
		}
		if strings.TrimSpace(res.Text) == "" {
			// Degenerate output: skip embedding for this block, keep going.
			continue
		}
		refinedBlocks = append(refinedBlocks, res.Text)
		emit(models.ProgressEvent{
			FileID:   fileID,
			FileName: name,
			Step:     models.StepRefined,
			Detail:   fmt.Sprintf("block %d/%d (%s, score %.3f)", i+1, len(blocks), res.Language, res.Score),
			Preview:  preview(res.Text),
		})
	}

	refinedText := strings.Join(refinedBlocks, "\n\n")
	chunks := Chunk(refinedText, p.chunkSize, p.chunkOverlap)

	// Embed for every requested model. Old vectors for this file are
	// removed first so they never coexist with the new ones.
	for _, key := range job.Params.ModelKeys {
		backend, ok := p.backends[key]
		if !ok {
			fail(fmt.Sprintf("unknown embedding model %q", key), nil)
			return
		}
		if err := p.embedAndStore(ctx, fileID, chunks, backend); err != nil {
			fail("embedding failed", err)
			return
		}
		emit(models.ProgressEvent{
			FileID:   fileID,
			FileName: name,
			Step:     models.StepEmbedded,
			Detail:   fmt.Sprintf("%d chunks via %s", len(chunks), key),
		})
	}

	// Commit decision for refined text and score.
	existing, err := p.db.GetFileText(ctx, fileID)
	if err != nil {
		fail("storage error", err)
		return
	}
	if ShouldOverwrite(existing, minScore, job.Params) {
		upd := models.TextUpdate{RefinedText: &refinedText, QualityScore: &minScore}
		if err := p.db.UpdateFileText(ctx, fileID, upd); err != nil {
			fail("storage error", err)
			return
		}
	} else {
		emit(models.ProgressEvent{
			FileID:   fileID,
			FileName: name,
			Step:     models.StepSkipped,
			Detail:   "existing refined text kept by overwrite policy",
		})
	}

	if err := p.db.UpdateFileStatus(ctx, fileID, models.StatusDone, ""); err != nil {
		fail("storage error", err)
		return
	}
	emit(models.ProgressEvent{
		FileID:     fileID,
		FileName:   name,
		Step:       models.StepFileDone,
		DurationMS: time.Since(started).Milliseconds(),
	})
}

func (p *Pipeline) embedAndStore(ctx context.Context, fileID string, chunks []string, backend core.EmbeddingBackend) error {
	table := TableName(backend.Key(), backend.Dimension())
	if err := p.db.EnsureEmbeddingTable(ctx, table, backend.Dimension()); err != nil {
		return fmt.Errorf("ensure table %s: %w", table, err)
	}
	if err := p.db.DeleteEmbeddingsForFile(ctx, table, fileID); err != nil {
		return fmt.Errorf("delete stale embeddings: %w", err)
	}

	var batches [][]string
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[start:end])
	}

	// Batches embed concurrently; inserts stay sequential so chunk order in
	// the table matches chunk order in the text.
	vecsByBatch := make([][][]float32, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, batch := range batches {
		g.Go(func() error {
			vecs, err := backend.Embed(gctx, batch)
			if err != nil {
				return fmt.Errorf("embed batch: %w", err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embed size mismatch: got %d want %d", len(vecs), len(batch))
			}
			vecsByBatch[i] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, batch := range batches {
		recs := make([]models.EmbeddingRecord, len(batch))
		for j := range batch {
			recs[j] = models.EmbeddingRecord{
				FileID:    fileID,
				Content:   batch[j],
				Embedding: vecsByBatch[i][j],
			}
		}
		if err := p.db.InsertEmbeddings(ctx, table, recs); err != nil {
			return fmt.Errorf("insert embeddings: %w", err)
		}
	}
	return nil
}

// ShouldOverwrite applies the commit policy: a new result replaces the
// stored refined text when overwrite was requested, when nothing usable is
// stored, when the stored score is below the threshold, or when the new
// score is LOWER than the stored one. The last branch is re-validation,
// not better-wins: a lower score means this run found a harder page the
// previous run missed.
func ShouldOverwrite(existing *models.FileText, newScore float64, params models.IngestParams) bool {
	if params.Overwrite {
		return true
	}
	if existing == nil || strings.TrimSpace(existing.RefinedText) == "" {
		return true
	}
	if existing.QualityScore == nil {
		return true
	}
	if *existing.QualityScore < params.QualityThreshold {
		return true
	}
	if newScore < *existing.QualityScore {
		return true
	}
	return false
}

// dedupeBlocks collapses byte-identical blocks, keeping first occurrence
// order. Some extractors repeat a page; identical content must not be
// refined and embedded twice.
func dedupeBlocks(blocks []string) []string {
	seen := make(map[string]struct{}, len(blocks))
	out := blocks[:0]
	for _, b := range blocks {
		if strings.TrimSpace(b) == "" {
			continue
		}
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}

func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewRunes {
		return s
	}
	return string(runes[:previewRunes]) + "…"
}

// TableName names the per-model embedding table. Key and dimension
// together identify a configuration, so a dimension change lands in a
// fresh table instead of corrupting an existing one.
func TableName(modelKey string, dim int) string {
	var b strings.Builder
	b.WriteString("emb_")
	for _, r := range strings.ToLower(modelKey) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	fmt.Fprintf(&b, "_%d", dim)
	return b.String()
}
