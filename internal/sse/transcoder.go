package sse

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/backend"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/models"
)

// Transcoder turns one backend-native event stream into the bridge's chunk
// sequence. Chunks come out strictly in upstream order with a single event
// in flight at a time; the sequence always ends with exactly one terminal
// chunk, after which Next returns io.EOF.
type Transcoder struct {
	src          *backend.EventSource
	reader       *Reader
	id           string
	created      int64
	includeUsage bool
	usage        *models.Usage
	sentRole     bool
	done         bool
}

// NewTranscoder starts transcoding an event source. The chunk id and model
// are fixed here and carried through every chunk of the answer.
func NewTranscoder(src *backend.EventSource, includeUsage bool) *Transcoder {
	return &Transcoder{
		src:          src,
		reader:       NewReader(src.Body),
		id:           "chatcmpl-" + uuid.NewString(),
		created:      time.Now().Unix(),
		includeUsage: includeUsage,
	}
}

// Close releases the upstream connection. Safe to call at any point of the
// sequence, including after a client disconnect.
func (t *Transcoder) Close() error {
	return t.src.Close()
}

// Next returns the next normalized chunk. After the terminal chunk has been
// delivered it returns io.EOF; it never returns content past a terminal
// chunk, and a broken upstream yields one finish_reason=error chunk instead
// of a silent truncation.
func (t *Transcoder) Next() (*models.ChatCompletionChunk, error) {
	if t.done {
		return nil, io.EOF
	}

	for {
		data, err := t.reader.Next()
		if err != nil {
			t.done = true
			if errors.Is(err, io.EOF) {
				// Terminator arrived before any finish_reason event.
				return t.terminalChunk(models.FinishStop, ""), nil
			}
			slog.Warn("upstream stream broke", "backend", t.src.Backend, "error", err)
			return t.errorChunk(err), nil
		}

		evt, err := t.src.Decode(data)
		if err != nil {
			t.done = true
			slog.Warn("malformed upstream event", "backend", t.src.Backend, "error", err)
			return t.errorChunk(&backend.ProtocolError{Backend: t.src.Backend, Detail: err.Error()}), nil
		}

		if evt.Usage != nil {
			t.usage = evt.Usage
		}

		if evt.FinishReason != "" {
			t.done = true
			if t.includeUsage {
				// OpenAI-compatible upstreams send the usage block as a
				// choice-less event after the finish event.
				t.drainTrailingUsage()
			}
			return t.terminalChunk(evt.FinishReason, evt.Content), nil
		}

		if evt.Content == "" && evt.Role == "" {
			continue
		}

		delta := models.Delta{Content: evt.Content}
		if !t.sentRole {
			delta.Role = models.RoleAssistant
			if evt.Role != "" {
				delta.Role = evt.Role
			}
			t.sentRole = true
		}

		chunk := t.newChunk()
		chunk.Choices = []models.ChunkChoice{{Delta: delta}}
		return chunk, nil
	}
}

// drainTrailingUsage reads past the finish event looking for the usage
// block. It stops at the terminator, at any read or decode failure, and at
// the first event that carries anything other than usage.
func (t *Transcoder) drainTrailingUsage() {
	for {
		data, err := t.reader.Next()
		if err != nil {
			return
		}
		evt, err := t.src.Decode(data)
		if err != nil {
			return
		}
		if evt.Usage != nil {
			t.usage = evt.Usage
		}
		if evt.Usage == nil || evt.Content != "" || evt.FinishReason != "" {
			return
		}
	}
}

func (t *Transcoder) newChunk() *models.ChatCompletionChunk {
	return &models.ChatCompletionChunk{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.src.Model,
	}
}

func (t *Transcoder) terminalChunk(finishReason, content string) *models.ChatCompletionChunk {
	reason := finishReason
	chunk := t.newChunk()
	chunk.Choices = []models.ChunkChoice{{
		Delta:        models.Delta{Content: content},
		FinishReason: &reason,
	}}
	if t.includeUsage && t.usage != nil {
		chunk.Usage = t.usage
	}
	return chunk
}

func (t *Transcoder) errorChunk(cause error) *models.ChatCompletionChunk {
	reason := models.FinishError
	chunk := t.newChunk()
	chunk.Choices = []models.ChunkChoice{{FinishReason: &reason}}
	chunk.Error = &models.ChunkError{Message: cause.Error()}
	return chunk
}
