package voyage_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mongodb-tool-broker/broker/internal/keychain"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
	"github.com/mongodb-tool-broker/broker/internal/voyage"
)

func TestEmbedSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float64{0.1, 0.2}, "index": 1},
				{"embedding": []float64{0.3, 0.4}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	kc := keychain.New()
	client := voyage.New("secret-key", 1000, kc, voyage.WithEndpoint(srv.URL))

	vectors, err := client.Embed(context.Background(), voyage.Request{
		Input:     []string{"a", "b"},
		Model:     "voyage-3",
		InputType: voyage.InputDocument,
	})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float64{0.3, 0.4}, vectors[0])
	assert.Equal(t, []float64{0.1, 0.2}, vectors[1])

	assert.NotContains(t, kc.Redact("the key is secret-key here"), "secret-key")
}

func TestEmbedEmptyInputIsNoop(t *testing.T) {
	client := voyage.New("key", 1000, nil)
	vectors, err := client.Embed(context.Background(), voyage.Request{})
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := voyage.New("key", 1000, nil, voyage.WithEndpoint(srv.URL))

	_, err := client.Embed(context.Background(), voyage.Request{Input: []string{"a"}})
	require.Error(t, err)
	assert.Equal(t, toolerrors.EmbeddingServiceError, toolerrors.CodeOf(err))
}

func TestEmbedEmptyDataIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer srv.Close()

	client := voyage.New("key", 1000, nil, voyage.WithEndpoint(srv.URL))

	_, err := client.Embed(context.Background(), voyage.Request{Input: []string{"a"}})
	require.Error(t, err)
	assert.Equal(t, toolerrors.EmbeddingServiceError, toolerrors.CodeOf(err))
}
