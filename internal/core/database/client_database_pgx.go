package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/refinelab/textora/internal/config"
	"github.com/refinelab/textora/internal/core"
	"github.com/refinelab/textora/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

// Embedding table names are built by the pipeline, never by callers, but
// they still end up interpolated into DDL, so gate them hard.
var validTableName = regexp.MustCompile(`^emb_[a-z0-9_]+_[0-9]+$`)

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// FindOrCreateFile registers a file keyed by its content hash. Re-submitting
// identical bytes resolves to the existing row and returns its id; nothing
// else on the row is touched.
func (c *DatabaseClient) FindOrCreateFile(ctx context.Context, rec *models.FileRecord) (string, error) {
	if rec == nil {
		return "", errors.New("nil file record")
	}
	const q = `
		INSERT INTO files (id, file_name, extension, size_bytes, content_hash, storage_url, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (content_hash) DO UPDATE SET updated_at = now()
		RETURNING id
	`
	var id string
	err := c.db.QueryRowContext(ctx, q,
		uuid.NewString(), rec.FileName, rec.Extension, rec.SizeBytes, rec.ContentHash, rec.StorageURL, rec.Status,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("register file: %w", err)
	}
	return id, nil
}

func (c *DatabaseClient) GetFileByID(ctx context.Context, id string) (*models.FileRecord, error) {
	const q = `
		SELECT id, file_name, extension, size_bytes, content_hash, storage_url,
		       raw_text, refined_text, quality_score, status, status_note, created_at, updated_at
		FROM files WHERE id = $1
	`
	return c.scanFile(c.db.QueryRowContext(ctx, q, id))
}

func (c *DatabaseClient) GetFileByHash(ctx context.Context, hash string) (*models.FileRecord, error) {
	const q = `
		SELECT id, file_name, extension, size_bytes, content_hash, storage_url,
		       raw_text, refined_text, quality_score, status, status_note, created_at, updated_at
		FROM files WHERE content_hash = $1
	`
	return c.scanFile(c.db.QueryRowContext(ctx, q, hash))
}

func (c *DatabaseClient) scanFile(row *sql.Row) (*models.FileRecord, error) {
	var (
		rec models.FileRecord
		url sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.FileName, &rec.Extension, &rec.SizeBytes, &rec.ContentHash, &url,
		&rec.RawText, &rec.RefinedText, &rec.QualityScore, &rec.Status, &rec.StatusNote,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.StorageURL = url.String
	return &rec, nil
}

// ListFiles omits the text columns; listings only need metadata.
func (c *DatabaseClient) ListFiles(ctx context.Context) ([]models.FileRecord, error) {
	const q = `
		SELECT id, file_name, extension, size_bytes, content_hash, storage_url,
		       quality_score, status, status_note, created_at, updated_at
		FROM files
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FileRecord
	for rows.Next() {
		var (
			rec models.FileRecord
			url sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &rec.FileName, &rec.Extension, &rec.SizeBytes, &rec.ContentHash, &url,
			&rec.QualityScore, &rec.Status, &rec.StatusNote, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rec.StorageURL = url.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateFileText applies a partial update; nil fields keep their stored value.
func (c *DatabaseClient) UpdateFileText(ctx context.Context, id string, upd models.TextUpdate) error {
	const q = `
		UPDATE files
		SET raw_text      = COALESCE($2, raw_text),
		    refined_text  = COALESCE($3, refined_text),
		    quality_score = COALESCE($4, quality_score),
		    updated_at    = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, upd.RawText, upd.RefinedText, upd.QualityScore)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("file not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) UpdateFileStatus(ctx context.Context, id, status, note string) error {
	const q = `
		UPDATE files
		SET status = $2, status_note = NULLIF($3, ''), updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status, note)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("file not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) GetFileText(ctx context.Context, id string) (*models.FileText, error) {
	const q = `
		SELECT raw_text, refined_text, quality_score
		FROM files WHERE id = $1
	`
	var (
		raw, refined sql.NullString
		ft           models.FileText
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(&raw, &refined, &ft.QualityScore)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ft.RawText = raw.String
	ft.RefinedText = refined.String
	return &ft, nil
}

// EnsureEmbeddingTable creates the per-model chunk table on first use. The
// dimension is baked into both the table name and the column type, so a
// re-dimensioned model lands in a fresh table instead of corrupting an old
// one.
func (c *DatabaseClient) EnsureEmbeddingTable(ctx context.Context, table string, dim int) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid embedding table name %q", table)
	}
	if dim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dim)
	}
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id        uuid PRIMARY KEY,
			file_id   uuid NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			content   text NOT NULL,
			embedding vector(%d) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %s_file_id_idx ON %s (file_id);
	`, table, dim, table, table)
	_, err := c.db.ExecContext(ctx, q)
	return err
}

func (c *DatabaseClient) DeleteEmbeddingsForFile(ctx context.Context, table, fileID string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid embedding table name %q", table)
	}
	_, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE file_id = $1`, table), fileID)
	return err
}

// InsertEmbeddings writes one batch in a single transaction.
func (c *DatabaseClient) InsertEmbeddings(ctx context.Context, table string, recs []models.EmbeddingRecord) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid embedding table name %q", table)
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	q := fmt.Sprintf(`INSERT INTO %s (id, file_id, content, embedding) VALUES ($1, $2, $3, $4)`, table)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range recs {
		rec := &recs[i]
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		vec := pgvector.NewVector(rec.Embedding)
		if _, err := stmt.ExecContext(ctx, id, rec.FileID, rec.Content, vec); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// TopKChunks finds the k nearest chunks to the query vector across all files.
func (c *DatabaseClient) TopKChunks(ctx context.Context, table string, queryVec []float32, k int) ([]models.ChunkMatch, error) {
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid embedding table name %q", table)
	}
	q := fmt.Sprintf(`
		SELECT e.file_id, f.file_name, e.content, e.embedding <-> $1 AS distance
		FROM %s e
		JOIN files f ON f.id = e.file_id
		ORDER BY e.embedding <-> $1
		LIMIT $2
	`, table)

	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChunkMatch
	for rows.Next() {
		var m models.ChunkMatch
		if err := rows.Scan(&m.FileID, &m.FileName, &m.Content, &m.Distance); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TopKFilesByMinDistance ranks files by their best-matching chunk, so one
// strong hit beats many mediocre ones.
func (c *DatabaseClient) TopKFilesByMinDistance(ctx context.Context, table string, queryVec []float32, k int) ([]models.FileMatch, error) {
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid embedding table name %q", table)
	}
	q := fmt.Sprintf(`
		SELECT e.file_id, f.file_name, MIN(e.embedding <-> $1) AS min_distance
		FROM %s e
		JOIN files f ON f.id = e.file_id
		GROUP BY e.file_id, f.file_name
		ORDER BY min_distance
		LIMIT $2
	`, table)

	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FileMatch
	for rows.Next() {
		var m models.FileMatch
		if err := rows.Scan(&m.FileID, &m.FileName, &m.MinDistance); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
