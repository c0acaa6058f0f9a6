package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refinelab/textora/internal/core"
	"github.com/refinelab/textora/internal/core/refine"
	"github.com/refinelab/textora/internal/models"
)

// fakeDB is an in-memory DbClient for pipeline tests.
type fakeDB struct {
	mu         sync.Mutex
	byHash     map[string]*models.FileRecord
	byID       map[string]*models.FileRecord
	embeddings map[string][]models.EmbeddingRecord
	tables     map[string]int
	onStatus   func(id, status string)
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		byHash:     make(map[string]*models.FileRecord),
		byID:       make(map[string]*models.FileRecord),
		embeddings: make(map[string][]models.EmbeddingRecord),
		tables:     make(map[string]int),
	}
}

func (f *fakeDB) FindOrCreateFile(_ context.Context, rec *models.FileRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byHash[rec.ContentHash]; ok {
		return existing.ID, nil
	}
	cp := *rec
	cp.ID = uuid.NewString()
	f.byHash[cp.ContentHash] = &cp
	f.byID[cp.ID] = &cp
	return cp.ID, nil
}

func (f *fakeDB) GetFileByID(_ context.Context, id string) (*models.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.byID[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeDB) GetFileByHash(_ context.Context, hash string) (*models.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.byHash[hash]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeDB) ListFiles(_ context.Context) ([]models.FileRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.FileRecord
	for _, rec := range f.byID {
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeDB) UpdateFileText(_ context.Context, id string, upd models.TextUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("no such file %s", id)
	}
	if upd.RawText != nil {
		rec.RawText = upd.RawText
	}
	if upd.RefinedText != nil {
		rec.RefinedText = upd.RefinedText
	}
	if upd.QualityScore != nil {
		rec.QualityScore = upd.QualityScore
	}
	return nil
}

func (f *fakeDB) UpdateFileStatus(_ context.Context, id, status, note string) error {
	f.mu.Lock()
	rec, ok := f.byID[id]
	if ok {
		rec.Status = status
		rec.StatusNote = &note
	}
	hook := f.onStatus
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such file %s", id)
	}
	if hook != nil {
		hook(id, status)
	}
	return nil
}

func (f *fakeDB) GetFileText(_ context.Context, id string) (*models.FileText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	ft := &models.FileText{QualityScore: rec.QualityScore}
	if rec.RawText != nil {
		ft.RawText = *rec.RawText
	}
	if rec.RefinedText != nil {
		ft.RefinedText = *rec.RefinedText
	}
	return ft, nil
}

func (f *fakeDB) EnsureEmbeddingTable(_ context.Context, table string, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[table] = dim
	return nil
}

func (f *fakeDB) DeleteEmbeddingsForFile(_ context.Context, table, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.embeddings[table][:0]
	for _, rec := range f.embeddings[table] {
		if rec.FileID != fileID {
			kept = append(kept, rec)
		}
	}
	f.embeddings[table] = kept
	return nil
}

func (f *fakeDB) InsertEmbeddings(_ context.Context, table string, recs []models.EmbeddingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embeddings[table] = append(f.embeddings[table], recs...)
	return nil
}

func (f *fakeDB) TopKChunks(_ context.Context, _ string, _ []float32, _ int) ([]models.ChunkMatch, error) {
	return nil, nil
}

func (f *fakeDB) TopKFilesByMinDistance(_ context.Context, _ string, _ []float32, _ int) ([]models.FileMatch, error) {
	return nil, nil
}

func (f *fakeDB) Close() error { return nil }

// fakeExtractor returns canned blocks per file base name.
type fakeExtractor struct {
	blocks map[string][]string
	err    error
}

func (f *fakeExtractor) Extract(_ context.Context, path string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.blocks[filepath.Base(path)], nil
}

// fakeRefiner echoes its input and pops scores from a queue.
type fakeRefiner struct {
	mu     sync.Mutex
	scores []float64
	err    error
}

func (f *fakeRefiner) next() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.scores) == 0 {
		return 1.0
	}
	s := f.scores[0]
	f.scores = f.scores[1:]
	return s
}

func (f *fakeRefiner) Refine(_ context.Context, text, promptKey string, _ time.Duration) (*core.Refinement, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &core.Refinement{Text: text, Language: "ja", Score: f.next(), Prompt: promptKey}, nil
}

func (f *fakeRefiner) RefineParagraphs(ctx context.Context, text, promptKey string, timeout time.Duration) (*core.Refinement, error) {
	return f.Refine(ctx, text, promptKey, timeout)
}

// fakeBackend returns constant-dimension zero vectors.
type fakeBackend struct {
	key string
	dim int
}

func (f *fakeBackend) Key() string    { return f.key }
func (f *fakeBackend) Dimension() int { return f.dim }
func (f *fakeBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func defaultParams() models.IngestParams {
	return models.IngestParams{
		PromptKey:        "default",
		ModelKeys:        []string{"test"},
		QualityThreshold: 0.5,
	}
}

func newTestPipeline(db *fakeDB, ex core.TextExtractor, rf core.Refiner) *Pipeline {
	backends := map[string]core.EmbeddingBackend{"test": &fakeBackend{key: "test", dim: 4}}
	return NewPipeline(db, ex, rf, backends, 50, 10)
}

func collect(ch <-chan models.ProgressEvent) []models.ProgressEvent {
	var out []models.ProgressEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func stepsFor(events []models.ProgressEvent, name string) []string {
	var out []string
	for _, ev := range events {
		if ev.FileName == name {
			out = append(out, ev.Step)
		}
	}
	return out
}

func TestPipelineHappyPath(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "doc.txt", "hello world")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{"doc.txt": {"ページ一の本文です。", "ページ二の本文です。"}}}
	rf := &fakeRefiner{scores: []float64{0.9, 0.8}}
	p := newTestPipeline(db, ex, rf)

	job, err := NewManager(p).Submit(defaultParams(), []string{path})
	require.NoError(t, err)

	events := collect(p.Run(context.Background(), job))
	steps := stepsFor(events, "doc.txt")
	assert.Equal(t, []string{
		models.StepRegistered, models.StepExtracted,
		models.StepRefined, models.StepRefined,
		models.StepEmbedded, models.StepFileDone,
	}, steps)
	assert.Equal(t, models.StepDone, events[len(events)-1].Step)

	rec, _ := db.GetFileByHash(context.Background(), fileHash("hello world"))
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusDone, rec.Status)
	require.NotNil(t, rec.QualityScore)
	assert.Equal(t, 0.8, *rec.QualityScore)
	require.NotNil(t, rec.RefinedText)
	assert.Contains(t, *rec.RefinedText, "ページ一の本文です。")
}

func fileHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestPipelineIdempotentRegistration(t *testing.T) {
	dir := t.TempDir()
	pathA := writeTestFile(t, dir, "a.txt", "identical bytes")
	pathB := writeTestFile(t, dir, "b.txt", "identical bytes")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{
		"a.txt": {"本文です。"},
		"b.txt": {"本文です。"},
	}}
	p := newTestPipeline(db, ex, &fakeRefiner{})
	job, _ := NewManager(p).Submit(defaultParams(), []string{pathA, pathB})
	events := collect(p.Run(context.Background(), job))

	var ids []string
	for _, ev := range events {
		if ev.Step == models.StepRegistered {
			ids = append(ids, ev.FileID)
		}
	}
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
	assert.Len(t, db.byID, 1)
}

func TestPipelineMinScoreAggregation(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "three.txt", "three pages")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{"three.txt": {"一ページ目。", "二ページ目。", "三ページ目。"}}}
	rf := &fakeRefiner{scores: []float64{0.9, 0.6, 0.95}}
	p := newTestPipeline(db, ex, rf)

	job, _ := NewManager(p).Submit(defaultParams(), []string{path})
	collect(p.Run(context.Background(), job))

	rec, _ := db.GetFileByHash(context.Background(), fileHash("three pages"))
	require.NotNil(t, rec)
	require.NotNil(t, rec.QualityScore)
	assert.Equal(t, 0.6, *rec.QualityScore)
}

func TestPipelineEmptyExtractionIsError(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "empty.txt", "nothing inside")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{"empty.txt": {"  ", ""}}}
	p := newTestPipeline(db, ex, &fakeRefiner{})

	job, _ := NewManager(p).Submit(defaultParams(), []string{path})
	events := collect(p.Run(context.Background(), job))

	steps := stepsFor(events, "empty.txt")
	assert.Contains(t, steps, models.StepFileError)

	rec, _ := db.GetFileByHash(context.Background(), fileHash("nothing inside"))
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusError, rec.Status)
	require.NotNil(t, rec.StatusNote)
	assert.Equal(t, "no text", *rec.StatusNote)
}

func TestPipelineLLMTimeoutFailsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "slow.txt", "slow content")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{"slow.txt": {"本文です。"}}}
	rf := &fakeRefiner{err: refine.ErrTimeout}
	p := newTestPipeline(db, ex, rf)

	job, _ := NewManager(p).Submit(defaultParams(), []string{path})
	events := collect(p.Run(context.Background(), job))

	assert.Contains(t, stepsFor(events, "slow.txt"), models.StepFileError)
	rec, _ := db.GetFileByHash(context.Background(), fileHash("slow content"))
	require.NotNil(t, rec)
	assert.Equal(t, models.StatusError, rec.Status)
	require.NotNil(t, rec.StatusNote)
	assert.Equal(t, "llm timeout", *rec.StatusNote)
}

func TestPipelineFailedFileDoesNotAbortBatch(t *testing.T) {
	dir := t.TempDir()
	bad := writeTestFile(t, dir, "bad.txt", "bad bytes")
	good := writeTestFile(t, dir, "good.txt", "good bytes")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{
		"bad.txt":  nil, // extraction yields nothing usable
		"good.txt": {"有効な本文です。"},
	}}
	p := newTestPipeline(db, ex, &fakeRefiner{})

	job, _ := NewManager(p).Submit(defaultParams(), []string{bad, good})
	events := collect(p.Run(context.Background(), job))

	assert.Contains(t, stepsFor(events, "bad.txt"), models.StepFileError)
	assert.Contains(t, stepsFor(events, "good.txt"), models.StepFileDone)
	assert.Equal(t, models.StepDone, events[len(events)-1].Step)
}

func TestPipelineAbortBetweenFiles(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeTestFile(t, dir, "f1.txt", "file one"),
		writeTestFile(t, dir, "f2.txt", "file two"),
		writeTestFile(t, dir, "f3.txt", "file three"),
	}

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{
		"f1.txt": {"一つ目。"}, "f2.txt": {"二つ目。"}, "f3.txt": {"三つ目。"},
	}}
	p := newTestPipeline(db, ex, &fakeRefiner{})

	job, _ := NewManager(p).Submit(defaultParams(), paths)

	// Abort as soon as file 1 reaches done, before file 2 starts.
	var doneOnce sync.Once
	db.onStatus = func(_, status string) {
		if status == models.StatusDone {
			doneOnce.Do(job.Abort)
		}
	}

	events := collect(p.Run(context.Background(), job))

	assert.Contains(t, stepsFor(events, "f1.txt"), models.StepFileDone)
	assert.Empty(t, stepsFor(events, "f2.txt"))
	assert.Empty(t, stepsFor(events, "f3.txt"))
	// The stream still terminates with a final done event.
	assert.Equal(t, models.StepDone, events[len(events)-1].Step)
}

func TestPipelineDedupesIdenticalBlocks(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "dup.txt", "duplicated pages")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{"dup.txt": {"同じページ。", "同じページ。", "別のページ。"}}}
	rf := &fakeRefiner{}
	p := newTestPipeline(db, ex, rf)

	job, _ := NewManager(p).Submit(defaultParams(), []string{path})
	events := collect(p.Run(context.Background(), job))

	refined := 0
	for _, ev := range events {
		if ev.Step == models.StepRefined {
			refined++
		}
	}
	assert.Equal(t, 2, refined)
}

func TestPipelineOverwriteDeletesStaleEmbeddings(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "re.txt", "reingest me")

	db := newFakeDB()
	ex := &fakeExtractor{blocks: map[string][]string{"re.txt": {strings.Repeat("本文。", 40)}}}
	p := newTestPipeline(db, ex, &fakeRefiner{})

	params := defaultParams()
	params.Overwrite = true

	mgr := NewManager(p)
	job1, _ := mgr.Submit(params, []string{path})
	collect(p.Run(context.Background(), job1))
	table := TableName("test", 4)
	first := len(db.embeddings[table])
	require.Greater(t, first, 0)

	job2, _ := mgr.Submit(params, []string{path})
	collect(p.Run(context.Background(), job2))
	// Delete-then-insert: the second run replaces, never accumulates.
	assert.Equal(t, first, len(db.embeddings[table]))
}

func TestShouldOverwrite(t *testing.T) {
	score := func(v float64) *float64 { return &v }
	params := models.IngestParams{QualityThreshold: 0.5}

	t.Run("higher score does not overwrite", func(t *testing.T) {
		existing := &models.FileText{RefinedText: "A", QualityScore: score(0.9)}
		assert.False(t, ShouldOverwrite(existing, 0.95, params))
	})

	t.Run("lower score triggers re-validation", func(t *testing.T) {
		existing := &models.FileText{RefinedText: "A", QualityScore: score(0.9)}
		assert.True(t, ShouldOverwrite(existing, 0.4, params))
	})

	t.Run("overwrite flag wins", func(t *testing.T) {
		existing := &models.FileText{RefinedText: "A", QualityScore: score(0.9)}
		p := params
		p.Overwrite = true
		assert.True(t, ShouldOverwrite(existing, 0.95, p))
	})

	t.Run("empty existing text overwrites", func(t *testing.T) {
		existing := &models.FileText{RefinedText: "  ", QualityScore: score(0.9)}
		assert.True(t, ShouldOverwrite(existing, 0.95, params))
	})

	t.Run("existing below threshold overwrites", func(t *testing.T) {
		existing := &models.FileText{RefinedText: "A", QualityScore: score(0.4)}
		assert.True(t, ShouldOverwrite(existing, 0.95, params))
	})

	t.Run("missing record overwrites", func(t *testing.T) {
		assert.True(t, ShouldOverwrite(nil, 0.5, params))
	})
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "emb_gemini_768", TableName("gemini", 768))
	assert.Equal(t, "emb_text_embedding_004_768", TableName("text-embedding-004", 768))
}
