package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// EmbeddingProvider is the minimal embedding API the indexer depends on.
type EmbeddingProvider interface {
	EmbedText(ctx context.Context, model string, texts []string) ([][]float32, error)
	ModelName() string
}

// ProviderFromEnv selects an embedding backend from EMBEDDING_PROVIDER:
// "openai" (requires OPENAI_API_KEY), "local" for a deterministic hashed
// embedding with no external calls, and a zero-vector fallback otherwise.
func ProviderFromEnv() EmbeddingProvider {
	dim := 1536
	if v := os.Getenv("EMBED_DIM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			dim = parsed
		}
	}
	switch strings.ToLower(os.Getenv("EMBEDDING_PROVIDER")) {
	case "openai":
		if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
			model := os.Getenv("EMBEDDING_MODEL")
			if model == "" {
				model = "text-embedding-3-small"
			}
			return &openAIProvider{
				apiKey:  apiKey,
				model:   model,
				dim:     dim,
				limiter: rate.NewLimiter(rate.Limit(10), 20),
				http:    &http.Client{Timeout: 30 * time.Second},
			}
		}
	case "local":
		return &localProvider{dim: dim}
	}
	return &zeroProvider{dim: dim}
}

// zeroProvider returns zero vectors, used when no embedding backend is
// configured so the pipeline still exercises upsert/checkpoint plumbing.
type zeroProvider struct{ dim int }

func (p *zeroProvider) EmbedText(_ context.Context, _ string, texts []string) ([][]float32, error) {
	if p.dim <= 0 {
		return nil, errors.New("invalid embedding dimension")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, p.dim)
	}
	return out, nil
}

func (p *zeroProvider) ModelName() string { return "zero-vector" }

type openAIProvider struct {
	apiKey  string
	model   string
	dim     int
	limiter *rate.Limiter
	http    *http.Client
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (p *openAIProvider) EmbedText(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model == "" {
		model = p.model
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	reqBody, err := json.Marshal(openAIRequest{Model: model, Input: texts})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	client := p.http
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding request failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	var decoded openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	if len(decoded.Data) != len(texts) {
		return nil, errors.New("embedding count mismatch")
	}
	out := make([][]float32, len(texts))
	for i, d := range decoded.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

func (p *openAIProvider) ModelName() string { return p.model }

// localProvider produces deterministic FNV-hashed, L2-normalized embeddings
// with no external dependency, for offline development and tests.
type localProvider struct{ dim int }

func (p *localProvider) EmbedText(_ context.Context, _ string, texts []string) ([][]float32, error) {
	if p.dim <= 0 {
		return nil, errors.New("invalid embedding dimension")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embedOne(t)
	}
	return out, nil
}

func (p *localProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dim)
	words := strings.Fields(text)
	if len(words) == 0 {
		return vec
	}
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		idx := int(h.Sum32()) % p.dim
		if idx < 0 {
			idx = -idx
		}
		vec[idx] += 1.0
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		n := float32(1.0 / math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] *= n
		}
	}
	return vec
}

func (p *localProvider) ModelName() string { return "local-fnv-hash" }
