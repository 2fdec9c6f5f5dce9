package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.False(t, req.Stream)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "Hello there"}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", srv.URL)
	result, err := p.Chat(context.Background(), Request{
		Model:    "gpt-4o-mini",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", result.Content)
	assert.Equal(t, 15, result.Usage.TotalTokens)
}

func TestOpenAIChatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("bad", srv.URL)
	_, err := p.Chat(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestOpenAIChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk", srv.URL)
	_, err := p.Chat(context.Background(), Request{Model: "m"})
	require.Error(t, err)
}

func TestOpenAIStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hola\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" \"}}]}\n\n")
		fmt.Fprint(w, ": keepalive comment, ignored\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"mundo\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk", srv.URL)
	chunkCh, errCh := p.StreamChat(context.Background(), Request{Model: "m"})

	var got string
	for chunk := range chunkCh {
		got += chunk.Content
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, "Hola mundo", got)
}

func TestOpenAIStreamChatUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk", srv.URL)
	chunkCh, errCh := p.StreamChat(context.Background(), Request{Model: "m"})

	for range chunkCh {
		t.Fatal("no chunks expected")
	}
	err := <-errCh
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPKnowledgeBaseSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "shipping times", req["query"])
		assert.EqualValues(t, 3, req["top_k"])

		json.NewEncoder(w).Encode(map[string]any{
			"chunks": []map[string]any{
				{"content": "Shipping takes 3 days.", "score": 0.92},
				{"content": "  ", "score": 0.1},
				{"content": "Express is next day.", "score": 0.85},
			},
		})
	}))
	defer srv.Close()

	kb := NewHTTPKnowledgeBase(srv.URL)
	chunks, err := kb.Search(context.Background(), "shipping times", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Shipping takes 3 days.", "Express is next day."}, chunks)
}

func TestHTTPKnowledgeBaseSearchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	kb := NewHTTPKnowledgeBase(srv.URL)
	_, err := kb.Search(context.Background(), "q", 3)
	require.Error(t, err)
}
