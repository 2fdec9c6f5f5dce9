package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// KnowledgeBase is the similarity-search collaborator. The document index
// lives in another service; this side only asks for relevant chunks.
type KnowledgeBase interface {
	Search(ctx context.Context, query string, topK int) ([]string, error)
}

// HTTPKnowledgeBase queries a search endpoint that accepts
// {query, top_k} and answers {chunks: [{content, score}]}.
type HTTPKnowledgeBase struct {
	URL    string
	client *http.Client
}

func NewHTTPKnowledgeBase(url string) *HTTPKnowledgeBase {
	return &HTTPKnowledgeBase{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (kb *HTTPKnowledgeBase) Search(ctx context.Context, query string, topK int) ([]string, error) {
	body, err := json.Marshal(map[string]any{"query": query, "top_k": topK})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, kb.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := kb.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("knowledge search error: %s", resp.Status)
	}

	var parsed struct {
		Chunks []struct {
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"chunks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	chunks := make([]string, 0, len(parsed.Chunks))
	for _, c := range parsed.Chunks {
		if strings.TrimSpace(c.Content) != "" {
			chunks = append(chunks, c.Content)
		}
	}
	return chunks, nil
}
