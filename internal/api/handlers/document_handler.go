package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phuslu/log"

	"github.com/refinelab/textora/internal/config"
	"github.com/refinelab/textora/internal/core"
	"github.com/refinelab/textora/internal/models"
)

const maxUploadBytes = 64 << 20

type DocumentHandler struct {
	dbclient     core.DbClient
	objectclient core.ObjectClient
	cfg          *config.Config
}

func NewDocumentHandler(dbclient core.DbClient, objectclient core.ObjectClient, cfg *config.Config) *DocumentHandler {
	return &DocumentHandler{dbclient: dbclient, objectclient: objectclient, cfg: cfg}
}

// Upload archives the original bytes, registers the file record and spools
// a local copy for ingestion. Re-uploading identical bytes is a no-op that
// answers with the existing record.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read upload")
		return
	}
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "empty file")
		return
	}

	cleanName := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(cleanName))
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Objects are keyed by content hash, so duplicate uploads overwrite
	// in place instead of piling up.
	s3Key := hash + ext
	uploadCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	var url string
	if h.objectclient != nil {
		url, err = h.objectclient.UploadFile(uploadCtx, h.cfg.BucketName, s3Key, bytes.NewReader(raw), contentType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("archive failed: %v", err))
			return
		}
	}

	spoolPath, err := h.spool(hash+ext, raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("spool failed: %v", err))
		return
	}

	rec := &models.FileRecord{
		FileName:    cleanName,
		Extension:   ext,
		SizeBytes:   int64(len(raw)),
		ContentHash: hash,
		StorageURL:  url,
		Status:      models.StatusPending,
	}
	fileID, err := h.dbclient.FindOrCreateFile(uploadCtx, rec)
	if err != nil {
		log.Error().Err(err).Str("file", cleanName).Msg("register upload")
		writeError(w, http.StatusInternalServerError, "failed to store file metadata")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"file_id": fileID,
		"path":    spoolPath,
		"hash":    hash,
	})
}

func (h *DocumentHandler) spool(name string, raw []byte) (string, error) {
	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(h.cfg.UploadDir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.dbclient.ListFiles(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if files == nil {
		files = []models.FileRecord{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "file_id")
	rec, err := h.dbclient.GetFileByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
