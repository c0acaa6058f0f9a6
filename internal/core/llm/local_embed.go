package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/refinelab/textora/internal/core"
)

// LocalEmbedder talks to an Ollama-compatible embedding endpoint. It tries
// the GPU first and retries once on CPU when the server reports memory
// exhaustion, since local boxes share the GPU with the OCR stack.
type LocalEmbedder struct {
	httpClient *http.Client
	baseURL    string
	key        string
	modelName  string
	dim        int
}

func NewLocalEmbedder(key, baseURL, modelName string, dim int) *LocalEmbedder {
	return &LocalEmbedder{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		modelName:  modelName,
		dim:        dim,
	}
}

func (l *LocalEmbedder) Key() string    { return l.key }
func (l *LocalEmbedder) Dimension() int { return l.dim }

type embedRequest struct {
	Model   string         `json:"model"`
	Input   []string       `json:"input"`
	Options map[string]any `json:"options,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (l *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out, err := l.post(ctx, embedRequest{Model: l.modelName, Input: texts})
	if err != nil && isMemoryError(err) {
		log.Warn().Err(err).Str("model", l.modelName).Msg("gpu embedding failed, retrying on cpu")
		out, err = l.post(ctx, embedRequest{
			Model:   l.modelName,
			Input:   texts,
			Options: map[string]any{"num_gpu": 0},
		})
	}
	if err != nil {
		return nil, err
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("local embed: got %d vectors for %d inputs", len(out), len(texts))
	}
	return out, nil
}

func (l *LocalEmbedder) post(ctx context.Context, reqBody embedRequest) ([][]float32, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local embed request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	var decoded embedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := decoded.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, fmt.Errorf("local embed: status %d: %s", resp.StatusCode, msg)
	}
	return decoded.Embeddings, nil
}

func isMemoryError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "out of memory") ||
		strings.Contains(msg, "cuda") ||
		strings.Contains(msg, "oom")
}

var _ core.EmbeddingBackend = (*LocalEmbedder)(nil)
