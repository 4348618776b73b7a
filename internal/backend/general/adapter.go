package general

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/backend"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/config"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/models"
)

// Adapter shapes requests for the general-purpose LLM backend, which speaks
// the OpenAI chat-completion dialect. No asset id is involved.
type Adapter struct {
	model   string
	apiKey  string
	client  *http.Client
	chatURL string
}

// New constructs the general backend adapter. The API key is optional; NIM
// deployments inside the cluster typically run without one.
func New(cfg config.GeneralConfig, client *http.Client) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("model must not be empty")
	}

	return &Adapter{
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  client,
		chatURL: baseURL + "/chat/completions",
	}, nil
}

func (a *Adapter) Name() string {
	return "general"
}

type chatPayload struct {
	Model              string                `json:"model"`
	Messages           []models.Message      `json:"messages"`
	Temperature        *float64              `json:"temperature,omitempty"`
	TopP               *float64              `json:"top_p,omitempty"`
	TopK               *int                  `json:"top_k,omitempty"`
	MaxTokens          *int                  `json:"max_tokens,omitempty"`
	Seed               *int                  `json:"seed,omitempty"`
	Stream             bool                  `json:"stream,omitempty"`
	StreamOptions      *models.StreamOptions `json:"stream_options,omitempty"`
	ChatTemplateKwargs map[string]any        `json:"chat_template_kwargs,omitempty"`
}

// BuildCall translates the uniform request into the OpenAI-style payload.
// The stream flag passes through untouched, same as the RAG adapter.
func (a *Adapter) BuildCall(req models.ChatRequest, _ string) (*backend.CallSpec, error) {
	payload := chatPayload{
		Model:         a.model,
		Messages:      req.Messages,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		MaxTokens:     req.MaxTokens,
		Seed:          req.Seed,
		Stream:        req.Stream,
		StreamOptions: req.StreamOptions,
	}
	if req.EnableReasoning {
		// NIM reasoning models toggle thinking through the chat template.
		payload.ChatTemplateKwargs = map[string]any{"thinking": true}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal general payload: %w", err)
	}

	header := backend.NewJSONHeader(req.Stream)
	if a.apiKey != "" {
		header.Set("Authorization", "Bearer "+a.apiKey)
	}

	return &backend.CallSpec{
		URL:    a.chatURL,
		Method: http.MethodPost,
		Header: header,
		Body:   body,
		Stream: req.Stream,
		Model:  a.model,
	}, nil
}

// Invoke issues the call and exposes either the materialized completion or
// the live event source.
func (a *Adapter) Invoke(ctx context.Context, spec *backend.CallSpec) (*backend.Invocation, error) {
	resp, err := backend.Do(ctx, a.client, a.Name(), spec)
	if err != nil {
		return nil, err
	}

	if spec.Stream {
		return &backend.Invocation{
			Events: &backend.EventSource{
				Backend: a.Name(),
				Model:   spec.Model,
				Body:    resp.Body,
				Decode:  decodeEvent,
			},
		}, nil
	}

	defer resp.Body.Close()

	var providerResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&providerResp); err != nil {
		return nil, &backend.ProtocolError{Backend: a.Name(), Detail: fmt.Sprintf("decode completion body: %v", err)}
	}

	completion, err := providerResp.toNormalized(a.Name(), spec.Model)
	if err != nil {
		return nil, err
	}
	return &backend.Invocation{Completion: completion}, nil
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   *usageBlock  `json:"usage,omitempty"`
}

type chatChoice struct {
	Message      models.Message `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type usageBlock struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (r chatResponse) toNormalized(backendName, model string) (*models.ChatCompletion, error) {
	if len(r.Choices) == 0 {
		return nil, &backend.ProtocolError{Backend: backendName, Detail: "completion response did not include choices"}
	}

	choice := r.Choices[0]
	if choice.Message.Role == "" {
		choice.Message.Role = models.RoleAssistant
	}
	finishReason := choice.FinishReason
	if finishReason == "" {
		finishReason = models.FinishStop
	}

	id := r.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}

	completion := &models.ChatCompletion{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []models.CompletionChoice{{
			Message:      choice.Message,
			FinishReason: finishReason,
		}},
	}
	if r.Usage != nil {
		completion.Usage = &models.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
	}
	return completion, nil
}

type chunkEvent struct {
	Choices []struct {
		Delta        models.Message `json:"delta"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
	Usage *usageBlock `json:"usage,omitempty"`
}

func decodeEvent(data []byte) (backend.Event, error) {
	var raw chunkEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return backend.Event{}, fmt.Errorf("malformed event: %w", err)
	}

	var evt backend.Event
	if raw.Usage != nil {
		evt.Usage = &models.Usage{
			PromptTokens:     raw.Usage.PromptTokens,
			CompletionTokens: raw.Usage.CompletionTokens,
			TotalTokens:      raw.Usage.TotalTokens,
		}
	}
	if len(raw.Choices) == 0 {
		return evt, nil
	}

	choice := raw.Choices[0]
	evt.Role = choice.Delta.Role
	evt.Content = choice.Delta.Content
	evt.FinishReason = choice.FinishReason
	return evt, nil
}
