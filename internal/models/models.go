package models

import (
	"time"
)

// File lifecycle states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

// FileRecord is the durable representation of one ingested document.
// Identity is the SHA-256 of the raw bytes: re-submitting identical bytes
// maps to the same record regardless of filename.
type FileRecord struct {
	ID           string   `db:"id" json:"id"`
	FileName     string   `db:"file_name" json:"file_name"`
	Extension    string   `db:"extension" json:"extension"`
	SizeBytes    int64    `db:"size_bytes" json:"size_bytes"`
	ContentHash  string   `db:"content_hash" json:"content_hash"`
	StorageURL   string   `db:"storage_url" json:"storage_url,omitempty"`
	RawText      *string  `db:"raw_text" json:"raw_text,omitempty"`
	RefinedText  *string  `db:"refined_text" json:"refined_text,omitempty"`
	QualityScore *float64 `db:"quality_score" json:"quality_score,omitempty"`
	Status       string   `db:"status" json:"status"`
	StatusNote   *string  `db:"status_note" json:"status_note,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// FileText is the text slice of a FileRecord returned by GetFileText.
type FileText struct {
	RawText      string   `json:"raw_text"`
	RefinedText  string   `json:"refined_text"`
	QualityScore *float64 `json:"quality_score,omitempty"`
}

// TextUpdate is a partial update of a file's derived text; nil fields are
// left untouched.
type TextUpdate struct {
	RawText      *string
	RefinedText  *string
	QualityScore *float64
}

// TextBlock is one extracted page/section flowing through the pipeline.
// Blocks are ephemeral; only their ordered join is persisted.
type TextBlock struct {
	Index      int     `json:"index"`
	Raw        string  `json:"raw"`
	Normalized string  `json:"normalized"`
	Refined    string  `json:"refined"`
	Score      float64 `json:"score"`
	Language   string  `json:"language"`
}

// EmbeddingRecord is one stored chunk vector, held in the per-model table.
type EmbeddingRecord struct {
	ID        string    `db:"id" json:"id"`
	FileID    string    `db:"file_id" json:"file_id"`
	Content   string    `db:"content" json:"content"`
	Embedding []float32 `db:"embedding" json:"embedding"`
}

// ChunkMatch is one similarity hit from a per-model embedding table.
type ChunkMatch struct {
	FileID   string  `json:"file_id"`
	FileName string  `json:"file_name"`
	Content  string  `json:"content"`
	Distance float64 `json:"distance"`
}

// FileMatch aggregates chunk hits to the file level using the minimum
// chunk distance within each file.
type FileMatch struct {
	FileID      string  `json:"file_id"`
	FileName    string  `json:"file_name"`
	MinDistance float64 `json:"min_distance"`
}

// ModelConfig identifies one embedding model configuration. Key and
// Dimension together name the target table, so changing the dimension of
// an existing key is a new table, never a silent schema change.
type ModelConfig struct {
	Key       string `json:"key"`
	Backend   string `json:"backend"` // "gemini" or "local"
	Model     string `json:"model"`
	Endpoint  string `json:"endpoint,omitempty"`
	Dimension int    `json:"dimension"`
}

// IngestParams is the per-batch parameter set supplied at Submit time.
type IngestParams struct {
	PromptKey        string        `json:"prompt_key"`
	ModelKeys        []string      `json:"model_keys"`
	Overwrite        bool          `json:"overwrite"`
	QualityThreshold float64       `json:"quality_threshold"`
	LLMTimeout       time.Duration `json:"llm_timeout"` // 0 = no timeout
}

// Progress event step labels, in pipeline order.
const (
	StepRegistered = "registered"
	StepExtracted  = "extracted"
	StepRefined    = "refined"
	StepSkipped    = "skipped"
	StepEmbedded   = "embedded"
	StepFileDone   = "file_done"
	StepFileError  = "file_error"
	StepDone       = "done"
)

// ProgressEvent is one entry in the lazy, ordered, finite progress stream
// consumed by the SSE transport. The stream always terminates with a
// StepDone event, even after cancellation or all-files-failed batches.
type ProgressEvent struct {
	FileID     string `json:"file_id,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	Step       string `json:"step"`
	Detail     string `json:"detail,omitempty"`
	Preview    string `json:"preview,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}
