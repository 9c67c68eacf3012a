package azopenai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/res-labs/hrcopilot/internal/core/domain"
)

func newTestService(t *testing.T, handler http.HandlerFunc) (*EmbeddingService, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	service, err := NewEmbeddingService(Config{
		Endpoint:          server.URL,
		Deployment:        "embed",
		APIKey:            "test-key",
		BatchSize:         2,
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return service, server
}

func embeddingHandler(t *testing.T, fn func(req embeddingRequest) any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		assert.Contains(t, r.URL.Path, "/openai/deployments/embed/embeddings")

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NoError(t, json.NewEncoder(w).Encode(fn(req)))
	}
}

func TestNewEmbeddingService_Validation(t *testing.T) {
	_, err := NewEmbeddingService(Config{Deployment: "embed", APIKey: "k"})
	assert.Error(t, err)

	_, err = NewEmbeddingService(Config{Endpoint: "https://x", APIKey: "k"})
	assert.Error(t, err)

	_, err = NewEmbeddingService(Config{Endpoint: "https://x", Deployment: "embed"})
	assert.Error(t, err)
}

func TestEmbedBatch_SplitsAndPreservesOrder(t *testing.T) {
	var batches [][]string
	service, _ := newTestService(t, embeddingHandler(t, func(req embeddingRequest) any {
		batches = append(batches, req.Input)

		// Answer out of order to exercise index-based placement.
		data := make([]map[string]any, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"index":     i,
				"embedding": []float64{float64(len(req.Input[i]))},
			})
		}
		return map[string]any{"data": data}
	}))

	embeddings, err := service.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})

	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"a", "bb"}, batches[0])
	assert.Equal(t, []string{"ccc"}, batches[1])

	require.Len(t, embeddings, 3)
	assert.Equal(t, []float32{1}, embeddings[0])
	assert.Equal(t, []float32{2}, embeddings[1])
	assert.Equal(t, []float32{3}, embeddings[2])
}

func TestEmbed_SingleText(t *testing.T) {
	service, _ := newTestService(t, embeddingHandler(t, func(req embeddingRequest) any {
		return map[string]any{"data": []map[string]any{
			{"index": 0, "embedding": []float64{0.5, 0.25}},
		}}
	}))

	embedding, err := service.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, embedding)
}

func TestEmbedBatch_QuotaExhausted(t *testing.T) {
	service, _ := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := service.EmbedBatch(context.Background(), []string{"a"})

	assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
}

func TestEmbedBatch_ServiceError(t *testing.T) {
	service, _ := newTestService(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "InvalidInput", "message": "too long"},
		})
	})

	_, err := service.EmbedBatch(context.Background(), []string{"a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "too long")
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	service, _ := newTestService(t, func(http.ResponseWriter, *http.Request) {
		t.Fatal("no request expected")
	})

	embeddings, err := service.EmbedBatch(context.Background(), nil)

	assert.NoError(t, err)
	assert.Nil(t, embeddings)
}

func TestDimensions_Default(t *testing.T) {
	service, _ := newTestService(t, func(http.ResponseWriter, *http.Request) {})
	assert.Equal(t, DefaultDimensions, service.Dimensions())
}
