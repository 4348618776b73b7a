package models

import (
	"errors"
	"fmt"
)

// Role values accepted on inbound messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Finish reasons carried on terminal chunks and completions.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishError  = "error"
)

// Message is a single conversational turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamOptions mirrors the OpenAI stream_options object.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// ChatRequest is the inbound chat-completion payload.
type ChatRequest struct {
	Messages        []Message      `json:"messages"`
	Temperature     *float64       `json:"temperature,omitempty"`
	MaxTokens       *int           `json:"max_tokens,omitempty"`
	TopP            *float64       `json:"top_p,omitempty"`
	TopK            *int           `json:"top_k,omitempty"`
	Seed            *int           `json:"seed,omitempty"`
	Stream          bool           `json:"stream,omitempty"`
	AssetID         string         `json:"asset_id,omitempty"`
	EnableReasoning bool           `json:"enable_reasoning,omitempty"`
	StreamOptions   *StreamOptions `json:"stream_options,omitempty"`
}

// Validate performs inbound sanity checks before any backend call.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("at least one message is required")
	}
	for i, msg := range r.Messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message[%d]: invalid role %q", i, msg.Role)
		}
	}
	return nil
}

// LastUserMessage returns the content of the latest user-role message, or
// an empty string when the conversation has none.
func (r ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletion is the materialized (non-streaming) answer.
type ChatCompletion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []CompletionChoice `json:"choices"`
	Usage   *Usage             `json:"usage,omitempty"`
}

// CompletionChoice holds the full message of a non-streaming answer.
type CompletionChoice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatCompletionChunk is one incremental unit of a streamed answer.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
	Error   *ChunkError   `json:"error,omitempty"`
}

// ChunkChoice carries the delta of one streamed chunk. FinishReason is nil
// on content chunks and set exactly once on the terminal chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental message fragment inside a chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkError carries the diagnostic on a finish_reason=error chunk.
type ChunkError struct {
	Message string `json:"message"`
}
