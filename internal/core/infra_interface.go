package core

import (
	"context"
	"io"

	"github.com/refinelab/textora/internal/models"
)

// DbClient defines all persistence operations the pipeline and handlers need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	// FindOrCreateFile upserts by content hash and returns the stable file id.
	// Two files with identical bytes always resolve to the same record.
	FindOrCreateFile(ctx context.Context, rec *models.FileRecord) (string, error)
	GetFileByID(ctx context.Context, id string) (*models.FileRecord, error)
	GetFileByHash(ctx context.Context, hash string) (*models.FileRecord, error)
	ListFiles(ctx context.Context) ([]models.FileRecord, error)

	UpdateFileText(ctx context.Context, id string, upd models.TextUpdate) error
	UpdateFileStatus(ctx context.Context, id, status, note string) error
	GetFileText(ctx context.Context, id string) (*models.FileText, error)

	// EnsureEmbeddingTable is idempotent; it creates the per-model vector
	// table (content, embedding, file_id) on first use.
	EnsureEmbeddingTable(ctx context.Context, table string, dim int) error
	DeleteEmbeddingsForFile(ctx context.Context, table, fileID string) error
	InsertEmbeddings(ctx context.Context, table string, recs []models.EmbeddingRecord) error

	TopKChunks(ctx context.Context, table string, queryVec []float32, k int) ([]models.ChunkMatch, error)
	TopKFilesByMinDistance(ctx context.Context, table string, queryVec []float32, k int) ([]models.FileMatch, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// It's abstract so you can replace AWS with MinIO, GCP, etc. easily.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
