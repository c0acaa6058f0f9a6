package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/refinelab/textora/internal/core"
	"github.com/refinelab/textora/internal/core/ingest"
	"github.com/refinelab/textora/internal/models"
)

const answerSystemPrompt = "You are an assistant answering strictly from the provided document excerpts. " +
	"If the excerpts do not contain the answer, say so."

type SearchHandler struct {
	dbclient core.DbClient
	backends map[string]core.EmbeddingBackend
	llm      core.LLMProvider
}

func NewSearchHandler(dbclient core.DbClient, backends map[string]core.EmbeddingBackend, llm core.LLMProvider) *SearchHandler {
	return &SearchHandler{dbclient: dbclient, backends: backends, llm: llm}
}

type SearchRequest struct {
	Query    string `json:"query" validate:"required"`
	ModelKey string `json:"model_key" validate:"required"`
	K        int    `json:"k" validate:"gte=0,lte=100"`
	ByFile   bool   `json:"by_file"`
	Answer   bool   `json:"answer"`
}

type SearchResponse struct {
	Chunks []models.ChunkMatch `json:"chunks,omitempty"`
	Files  []models.FileMatch  `json:"files,omitempty"`
	Answer string              `json:"answer,omitempty"`
}

// Query embeds the query text with the requested model and searches that
// model's table. ByFile collapses hits to one row per file using the best
// chunk distance; Answer additionally asks the LLM to answer from the hits.
func (h *SearchHandler) Query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.K == 0 {
		req.K = 5
	}

	backend, ok := h.backends[req.ModelKey]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown embedding model %q", req.ModelKey))
		return
	}

	vecs, err := backend.Embed(ctx, []string{req.Query})
	if err != nil || len(vecs) == 0 {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("embedding failed: %v", err))
		return
	}
	table := ingest.TableName(backend.Key(), backend.Dimension())

	var resp SearchResponse
	if req.ByFile {
		resp.Files, err = h.dbclient.TopKFilesByMinDistance(ctx, table, vecs[0], req.K)
	} else {
		resp.Chunks, err = h.dbclient.TopKChunks(ctx, table, vecs[0], req.K)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("search failed: %v", err))
		return
	}

	if req.Answer && !req.ByFile && h.llm != nil && len(resp.Chunks) > 0 {
		answer, err := h.answer(ctx, req.Query, resp.Chunks)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("answer failed: %v", err))
			return
		}
		resp.Answer = answer
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *SearchHandler) answer(ctx context.Context, query string, chunks []models.ChunkMatch) (string, error) {
	var sb strings.Builder
	for _, ch := range chunks {
		sb.WriteString(ch.Content)
		sb.WriteString("\n---\n")
	}
	userPrompt := fmt.Sprintf("Excerpts:\n%s\nQuestion: %s", sb.String(), query)
	return h.llm.Generate(ctx, answerSystemPrompt, userPrompt, 1024)
}
