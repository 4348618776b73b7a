package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/asset"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/backend/general"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/backend/rag"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/config"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/models"
	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/router"
)

func userRequest(content string) models.ChatRequest {
	return models.ChatRequest{
		Messages: []models.Message{{Role: "user", Content: content}},
	}
}

func newTestBridge(t *testing.T, ragURL, generalURL string, resolver *asset.Resolver) *Bridge {
	t.Helper()

	ragAdapter, err := rag.New(config.RAGConfig{BaseURL: ragURL, Model: "vila-1.5"}, http.DefaultClient)
	require.NoError(t, err)
	generalAdapter, err := general.New(config.GeneralConfig{BaseURL: generalURL, Model: "llama-3.1"}, http.DefaultClient)
	require.NoError(t, err)

	if resolver == nil {
		resolver = asset.NewResolver("", "")
	}
	return New(resolver, router.New([]string{"document", "rag"}), ragAdapter, generalAdapter)
}

func TestChatRejectsInvalidRequest(t *testing.T) {
	br := newTestBridge(t, "http://rag.invalid", "http://general.invalid", nil)

	_, err := br.Chat(context.Background(), models.ChatRequest{})
	var clientErr *ClientRequestError
	assert.ErrorAs(t, err, &clientErr)
}

func TestChatRAGWithoutAssetIDIsConfigurationError(t *testing.T) {
	br := newTestBridge(t, "http://rag.invalid", "http://general.invalid", nil)

	_, err := br.Chat(context.Background(), userRequest("what is in this document?"))
	assert.ErrorIs(t, err, asset.ErrNoAssetID)
}

func TestChatRoutesToRAGWithResolvedAssetID(t *testing.T) {
	var captured map[string]any
	ragUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		fmt.Fprint(w, `{"id":"vss-1","choices":[{"message":{"role":"assistant","content":"a parked truck"},"finish_reason":"stop"}]}`)
	}))
	defer ragUpstream.Close()

	assetFile := filepath.Join(t.TempDir(), "asset_id")
	require.NoError(t, os.WriteFile(assetFile, []byte("file-asset\n"), 0o600))
	resolver := asset.NewResolver(assetFile, "static-asset")

	br := newTestBridge(t, ragUpstream.URL, "http://general.invalid", resolver)

	outcome, err := br.Chat(context.Background(), userRequest("what is in this document?"))
	require.NoError(t, err)
	require.NotNil(t, outcome.Completion)

	assert.Equal(t, router.RAGBackend, outcome.Decision.Target)
	assert.Equal(t, "document", outcome.Decision.Keyword)
	assert.Equal(t, "file-asset", captured["id"])
	assert.Equal(t, "a parked truck", outcome.Completion.Choices[0].Message.Content)
}

func TestChatRequestOverrideBeatsFile(t *testing.T) {
	var captured map[string]any
	ragUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer ragUpstream.Close()

	assetFile := filepath.Join(t.TempDir(), "asset_id")
	require.NoError(t, os.WriteFile(assetFile, []byte("file-asset"), 0o600))

	br := newTestBridge(t, ragUpstream.URL, "http://general.invalid", asset.NewResolver(assetFile, ""))

	req := userRequest("summarize the document")
	req.AssetID = "request-asset"

	_, err := br.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "request-asset", captured["id"])
}

func TestChatRoutesToGeneral(t *testing.T) {
	generalUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"cmpl-1","choices":[{"message":{"role":"assistant","content":"a joke"},"finish_reason":"stop"}]}`)
	}))
	defer generalUpstream.Close()

	// No asset id anywhere: general requests must not care.
	br := newTestBridge(t, "http://rag.invalid", generalUpstream.URL, nil)

	outcome, err := br.Chat(context.Background(), userRequest("tell me a joke"))
	require.NoError(t, err)
	require.NotNil(t, outcome.Completion)
	assert.Equal(t, router.GeneralBackend, outcome.Decision.Target)
	assert.Equal(t, "a joke", outcome.Completion.Choices[0].Message.Content)
}

func TestChatStreamingOutcome(t *testing.T) {
	generalUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"ha\"},\"finish_reason\":null}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" ha\"},\"finish_reason\":null}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" ha!\"},\"finish_reason\":null}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer generalUpstream.Close()

	br := newTestBridge(t, "http://rag.invalid", generalUpstream.URL, nil)

	req := userRequest("tell me a joke")
	req.Stream = true

	outcome, err := br.Chat(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, outcome.Stream)
	defer outcome.Stream.Close()

	var contents []string
	var finishReasons []string
	for {
		chunk, err := outcome.Stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if chunk.Choices[0].FinishReason != nil {
			finishReasons = append(finishReasons, *chunk.Choices[0].FinishReason)
			continue
		}
		contents = append(contents, chunk.Choices[0].Delta.Content)
	}

	assert.Equal(t, []string{"ha", " ha", " ha!"}, contents)
	assert.Equal(t, []string{"stop"}, finishReasons)
}
