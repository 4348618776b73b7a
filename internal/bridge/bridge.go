package bridge

import (
	"context"
	"log/slog"

	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/asset"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/backend"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/models"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/router"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/sse"
)

// ClientRequestError marks an inbound request the bridge rejects before any
// backend call.
type ClientRequestError struct {
	Message string
}

func (e *ClientRequestError) Error() string {
	return e.Message
}

// Bridge ties resolution, routing, adaptation and transcoding together for
// one request at a time. It holds configuration only; every request is an
// independent unit of work.
type Bridge struct {
	resolver *asset.Resolver
	router   *router.Router
	rag      backend.Backend
	general  backend.Backend
}

// New wires the orchestrator from its collaborators.
func New(resolver *asset.Resolver, rt *router.Router, rag, general backend.Backend) *Bridge {
	return &Bridge{
		resolver: resolver,
		router:   rt,
		rag:      rag,
		general:  general,
	}
}

// Outcome is the result of one chat request: exactly one of Completion or
// Stream is set. A Stream outcome must be Closed by the consumer.
type Outcome struct {
	Completion *models.ChatCompletion
	Stream     *sse.Transcoder
	Decision   router.Decision
}

// Chat runs one request through resolve → route → adapt → invoke. Streaming
// answers come back as a live transcoder; materialized answers as a
// completion.
func (b *Bridge) Chat(ctx context.Context, req models.ChatRequest) (*Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, &ClientRequestError{Message: err.Error()}
	}

	decision := b.router.Decide(req.LastUserMessage())

	// The asset id only matters to the RAG backend; skipping resolution for
	// general requests keeps a missing id from failing requests that never
	// needed one.
	var assetID string
	if decision.Target == router.RAGBackend {
		resolved, err := b.resolver.Resolve(req.AssetID)
		if err != nil {
			return nil, err
		}
		assetID = resolved
	}

	selected := b.general
	if decision.Target == router.RAGBackend {
		selected = b.rag
	}

	slog.Info("routing chat request",
		"backend", selected.Name(),
		"keyword", decision.Keyword,
		"stream", req.Stream,
	)

	spec, err := selected.BuildCall(req, assetID)
	if err != nil {
		return nil, err
	}

	invocation, err := selected.Invoke(ctx, spec)
	if err != nil {
		return nil, err
	}

	switch {
	case invocation.Events != nil:
		if !req.Stream {
			invocation.Events.Close()
			return nil, &backend.ProtocolError{
				Backend: selected.Name(),
				Detail:  "backend opened an event stream for a non-streaming request",
			}
		}
		includeUsage := req.StreamOptions != nil && req.StreamOptions.IncludeUsage
		return &Outcome{
			Stream:   sse.NewTranscoder(invocation.Events, includeUsage),
			Decision: decision,
		}, nil
	case invocation.Completion != nil:
		return &Outcome{Completion: invocation.Completion, Decision: decision}, nil
	default:
		return nil, &backend.ProtocolError{
			Backend: selected.Name(),
			Detail:  "backend returned neither a completion nor an event stream",
		}
	}
}
