package ai

import "context"

// ChatMessage is one turn handed to the model.
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Request is the model invocation contract.
type Request struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

// Usage is the token accounting a provider reports, when it does.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a completed blocking response.
type Result struct {
	Content string
	Usage   Usage
}

// StreamChunk is one incremental piece of model output.
type StreamChunk struct {
	Content string
}

// Provider is a language-model backend. StreamChat closes both channels when
// the stream ends; at most one error is sent.
type Provider interface {
	Chat(ctx context.Context, req Request) (Result, error)
	StreamChat(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error)
}
