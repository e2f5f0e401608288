// Package voyage implements the Voyage AI embeddings HTTP client used by the
// Vector-Search Embeddings Manager (spec.md §4.3(b)). Grounded on the
// teacher's golang.org/x/time/rate token-bucket idiom
// (features/model/middleware/ratelimit.go), simplified from its adaptive
// AIMD budget to a fixed per-minute request limiter sized to Voyage's
// documented free-tier rate.
package voyage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/mongodb-tool-broker/broker/internal/keychain"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
)

const defaultEndpoint = "https://api.voyageai.com/v1/embeddings"

// InputType distinguishes document-side from query-side embedding calls
// (spec.md §4.3(b)).
type InputType string

const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// Request describes one batched embeddings call.
type Request struct {
	Input          []string
	Model          string
	OutputDimension int
	OutputDType    string
	InputType      InputType
}

// Client calls the Voyage AI embeddings endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	limiter    *rate.Limiter
	keychain   *keychain.Keychain
}

// Option customizes Client construction.
type Option func(*Client)

// WithEndpoint overrides the embeddings endpoint URL, primarily for tests.
func WithEndpoint(url string) Option {
	return func(c *Client) { c.endpoint = url }
}

// New constructs a Client. requestsPerMinute defaults to Voyage's documented
// free-tier limit (3 RPM) when <= 0. kc, if non-nil, has apiKey appended so
// it is redacted from logs.
func New(apiKey string, requestsPerMinute int, kc *keychain.Keychain, opts ...Option) *Client {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 3
	}
	if kc != nil && apiKey != "" {
		kc.Append(apiKey, keychain.KindPassword)
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   defaultEndpoint,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
		keychain:   kc,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embeddingsPayload struct {
	Input           []string `json:"input"`
	Model           string   `json:"model"`
	OutputDimension int      `json:"output_dimension,omitempty"`
	OutputDType     string   `json:"output_dtype,omitempty"`
	InputType       string   `json:"input_type,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed batches req.Input into a single request and returns a positionally
// aligned list of vectors (spec.md §4.3(b)). It fails with
// EmbeddingServiceError on transport failure, non-2xx response, or an empty
// result set.
func (c *Client) Embed(ctx context.Context, req Request) ([][]float64, error) {
	if len(req.Input) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, toolerrors.New(toolerrors.EmbeddingServiceError, "rate limiter wait canceled").WithCause(err)
	}

	body, err := json.Marshal(embeddingsPayload{
		Input:           req.Input,
		Model:           req.Model,
		OutputDimension: req.OutputDimension,
		OutputDType:     req.OutputDType,
		InputType:       string(req.InputType),
	})
	if err != nil {
		return nil, toolerrors.New(toolerrors.EmbeddingServiceError, "failed to encode embeddings request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, toolerrors.New(toolerrors.EmbeddingServiceError, "failed to build embeddings request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, toolerrors.New(toolerrors.EmbeddingServiceError, "embedding service request failed").WithCause(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, toolerrors.New(toolerrors.EmbeddingServiceError, "failed to read embedding service response").WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, toolerrors.New(toolerrors.EmbeddingServiceError, fmt.Sprintf("embedding service returned status %d", resp.StatusCode))
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, toolerrors.New(toolerrors.EmbeddingServiceError, "failed to decode embedding service response").WithCause(err)
	}
	if len(parsed.Data) == 0 {
		return nil, toolerrors.New(toolerrors.EmbeddingServiceError, "embedding service returned no vectors")
	}

	out := make([][]float64, len(parsed.Data))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(out) {
			continue
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}
