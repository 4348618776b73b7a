package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/models"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "vss-bridge/0.1"

	errorBodyLimit = 8 << 10
)

// Backend adapts the uniform chat request to one upstream family. The set
// of implementations is closed: the RAG adapter and the general adapter.
type Backend interface {
	Name() string
	BuildCall(req models.ChatRequest, assetID string) (*CallSpec, error)
	Invoke(ctx context.Context, spec *CallSpec) (*Invocation, error)
}

// CallSpec is a fully materialized upstream HTTP call, determined entirely
// by the routing decision, the request, and the resolved asset id.
type CallSpec struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
	Stream bool
	Model  string
}

// Invocation is the result of issuing a CallSpec: exactly one of Completion
// or Events is set, depending on the caller-chosen stream flag.
type Invocation struct {
	Completion *models.ChatCompletion
	Events     *EventSource
}

// Event is one decoded upstream streaming event in the backend's own delta
// representation.
type Event struct {
	Role         string
	Content      string
	FinishReason string
	Usage        *models.Usage
}

// EventSource is a live upstream event stream. Body delivers the raw SSE
// bytes; Decode parses one data frame into the backend's delta shape.
type EventSource struct {
	Backend string
	Model   string
	Body    io.ReadCloser
	Decode  func(data []byte) (Event, error)
}

// Close releases the upstream connection.
func (s *EventSource) Close() error {
	return s.Body.Close()
}

// NewJSONHeader returns the base headers every upstream call carries.
func NewJSONHeader(stream bool) http.Header {
	header := http.Header{}
	header.Set("Content-Type", contentTypeJSON)
	header.Set("User-Agent", userAgent)
	if stream {
		header.Set("Accept", "text/event-stream")
	} else {
		header.Set("Accept", contentTypeJSON)
	}
	return header
}

// Do issues the upstream call and enforces the availability policy: network
// failures, timeouts and non-2xx statuses surface as *UnavailableError. A
// context cancelled by the caller is passed through untouched.
func Do(ctx context.Context, client *http.Client, name string, spec *CallSpec) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, bytes.NewReader(spec.Body))
	if err != nil {
		return nil, fmt.Errorf("construct %s request: %w", name, err)
	}
	for key, values := range spec.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &UnavailableError{Backend: name, Detail: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()
		return nil, &UnavailableError{
			Backend: name,
			Status:  resp.StatusCode,
			Detail:  strings.TrimSpace(string(body)),
		}
	}

	return resp, nil
}
