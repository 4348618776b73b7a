package router

import "strings"

// Target identifies which backend family serves a request.
type Target int

const (
	// GeneralBackend is the direct, context-free LLM service.
	GeneralBackend Target = iota
	// RAGBackend is the retrieval backend requiring an asset id.
	RAGBackend
)

func (t Target) String() string {
	switch t {
	case RAGBackend:
		return "rag"
	default:
		return "general"
	}
}

// Decision records the routing outcome and, for observability, the keyword
// that triggered it.
type Decision struct {
	Target  Target
	Keyword string
}

// Router selects a backend by matching the latest user message against a
// keyword whitelist. Deciding has no side effects; the same input always
// yields the same decision.
type Router struct {
	keywords []string
}

// New constructs a router from the configured whitelist. Keywords are
// lower-cased once here so every decision is a plain substring scan.
func New(keywords []string) *Router {
	normalized := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" {
			normalized = append(normalized, keyword)
		}
	}
	return &Router{keywords: normalized}
}

// Decide returns the backend for the given message text. Matching is a
// case-insensitive substring test; an empty message or empty whitelist
// always selects the general backend.
func (r *Router) Decide(lastUserMessage string) Decision {
	text := strings.ToLower(lastUserMessage)
	if text == "" {
		return Decision{Target: GeneralBackend}
	}
	for _, keyword := range r.keywords {
		if strings.Contains(text, keyword) {
			return Decision{Target: RAGBackend, Keyword: keyword}
		}
	}
	return Decision{Target: GeneralBackend}
}
