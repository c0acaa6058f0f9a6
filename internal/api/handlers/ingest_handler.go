package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"github.com/refinelab/textora/internal/core/extract"
	"github.com/refinelab/textora/internal/core/ingest"
	"github.com/refinelab/textora/internal/models"
)

var validate = validator.New()

type IngestHandler struct {
	manager *ingest.Manager
}

func NewIngestHandler(manager *ingest.Manager) *IngestHandler {
	return &IngestHandler{manager: manager}
}

// IngestRequest submits a batch either as an explicit file list or as a
// folder scan. Exactly one of Files/Folder must be set.
type IngestRequest struct {
	Files     []string `json:"files" validate:"omitempty,min=1,dive,required"`
	Folder    string   `json:"folder"`
	Recursive bool     `json:"recursive"`

	PromptKey         string   `json:"prompt_key"`
	ModelKeys         []string `json:"model_keys" validate:"required,min=1,dive,required"`
	Overwrite         bool     `json:"overwrite"`
	QualityThreshold  float64  `json:"quality_threshold" validate:"gte=0,lte=1"`
	LLMTimeoutSeconds int      `json:"llm_timeout_seconds" validate:"gte=0"`
}

// Submit registers a batch and returns its job handle. Processing does not
// start until the client opens the event stream.
func (h *IngestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if (len(req.Files) == 0) == (req.Folder == "") {
		writeError(w, http.StatusBadRequest, "provide either files or folder")
		return
	}

	files := req.Files
	if req.Folder != "" {
		var err error
		files, err = ingest.CollectFiles(req.Folder, req.Recursive, extract.SupportedExtensions)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("scan folder: %v", err))
			return
		}
	}

	params := models.IngestParams{
		PromptKey:        req.PromptKey,
		ModelKeys:        req.ModelKeys,
		Overwrite:        req.Overwrite,
		QualityThreshold: req.QualityThreshold,
		LLMTimeout:       time.Duration(req.LLMTimeoutSeconds) * time.Second,
	}

	job, err := h.manager.Submit(params, files)
	if err != nil {
		if errors.Is(err, ingest.ErrNoFiles) {
			writeError(w, http.StatusBadRequest, "no ingestable files found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"files":  len(job.Files),
	})
}

// Stream runs the job and relays its progress as server-sent events. The
// stream always ends with a done event; closing the connection aborts the
// job at the next file boundary.
func (h *IngestHandler) Stream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := h.manager.Stream(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrUnknownJob):
			writeError(w, http.StatusNotFound, "unknown job")
		case errors.Is(err, ingest.ErrJobConsumed):
			writeError(w, http.StatusConflict, "job already streamed")
		case errors.Is(err, ingest.ErrJobInFlight):
			writeError(w, http.StatusConflict, "another job is running")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	// A disconnected client cancels the rest of the batch.
	defer h.manager.Cancel(jobID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Msg("encode progress event")
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

// Cancel requests cooperative cancellation of the in-flight job.
func (h *IngestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !h.manager.Cancel(jobID) {
		writeError(w, http.StatusNotFound, "job not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}
