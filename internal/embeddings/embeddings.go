// Package embeddings implements the Vector-Search Embeddings Manager
// (spec.md §4.3): index introspection, batched embedding generation,
// document rewrite for insert, query-pipeline rewrite, and dimension
// validation.
package embeddings

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongodb-tool-broker/broker/internal/docwalk"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
	"github.com/mongodb-tool-broker/broker/internal/voyage"
)

// Embedder is the subset of voyage.Client the manager depends on, narrowed
// for testability.
type Embedder interface {
	Embed(ctx context.Context, req voyage.Request) ([][]float64, error)
}

// Parameters names the model/shape used for one embedding call, supplied
// per-field by the caller (the document's "embeddingParameters" mapping or a
// $vectorSearch stage's embeddingParameters object).
type Parameters struct {
	Model           string
	OutputDimension int
	OutputDType     string
}

// FieldInput is one (fieldPath, rawText) pair with the parameters to embed
// it, supplied alongside a document being inserted (spec.md §4.3(c)).
type FieldInput struct {
	FieldPath  string
	RawText    string
	Parameters Parameters
}

// Manager implements spec.md §4.3(a)-(e).
type Manager struct {
	Provider                 mongoprovider.Provider
	Embedder                 Embedder
	DisableDimensionValidation bool
}

// New constructs a Manager.
func New(provider mongoprovider.Provider, embedder Embedder, disableValidation bool) *Manager {
	return &Manager{Provider: provider, Embedder: embedder, DisableDimensionValidation: disableValidation}
}

// vectorField is a (path, dimensions, similarity) triple extracted from the
// namespace's search indexes (spec.md §4.3(a)).
type vectorField struct {
	numDimensions int
	similarity    string
}

// indexedFields returns the vector-typed fields declared across all search
// indexes for db.coll, keyed by field path.
func (m *Manager) indexedFields(ctx context.Context, db, coll string) (map[string]vectorField, error) {
	indexes, err := m.Provider.ListSearchIndexes(ctx, db, coll)
	if err != nil {
		return nil, toolerrors.New(toolerrors.Unexpected, "failed to list search indexes").WithCause(err)
	}
	out := make(map[string]vectorField)
	for _, idx := range indexes {
		for _, f := range idx.Fields {
			out[f.Path] = vectorField{numDimensions: f.NumDimensions, similarity: f.Similarity}
		}
	}
	return out, nil
}

// IndexExists confirms a named vector index is present and queryable
// (spec.md §4.3(a)).
func (m *Manager) IndexExists(ctx context.Context, db, coll, name string) (bool, error) {
	indexes, err := m.Provider.ListSearchIndexes(ctx, db, coll)
	if err != nil {
		return false, toolerrors.New(toolerrors.Unexpected, "failed to list search indexes").WithCause(err)
	}
	for _, idx := range indexes {
		if idx.Name == name {
			return idx.Queryable, nil
		}
	}
	return false, nil
}

// RewriteForInsert implements spec.md §4.3(c) and §4.3(e): for every
// document/input pair, validate each field path is vector-indexed,
// batch-generate embeddings with a single call, and overwrite each
// document's field with its vector. Documents with no corresponding input
// entry are left unchanged. Once any rewrite is done, every document in docs
// is checked against the namespace's vector-indexed fields regardless of
// whether it went through a rewrite, since a caller can supply a raw vector
// value at an indexed field without asking for embedding at all.
func (m *Manager) RewriteForInsert(ctx context.Context, db, coll string, docs []map[string]any, inputs [][]FieldInput) error {
	if len(inputs) > 0 && len(inputs) != len(docs) {
		return toolerrors.New(toolerrors.InvalidArguments, "embeddings input must have one entry per document, or be omitted")
	}

	indexed, err := m.indexedFields(ctx, db, coll)
	if err != nil {
		return err
	}

	type slot struct {
		docIndex int
		field    string
	}
	var texts []string
	var slots []slot
	var params Parameters

	for i, fields := range inputs {
		for _, f := range fields {
			if _, ok := indexed[f.FieldPath]; !ok {
				return toolerrors.New(toolerrors.AtlasVectorSearchInvalid, fmt.Sprintf(
					"Field '%s' does not have a vector search index in collection %s.%s", f.FieldPath, db, coll))
			}
			texts = append(texts, f.RawText)
			slots = append(slots, slot{docIndex: i, field: f.FieldPath})
			params = f.Parameters
		}
	}

	if len(texts) > 0 {
		vectors, err := m.Embedder.Embed(ctx, voyage.Request{
			Input:           texts,
			Model:           params.Model,
			OutputDimension: params.OutputDimension,
			OutputDType:     params.OutputDType,
			InputType:       voyage.InputDocument,
		})
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return toolerrors.New(toolerrors.EmbeddingServiceError, "embedding service returned a mismatched vector count")
		}

		for i, sl := range slots {
			doc := docs[sl.docIndex]
			docwalk.Delete(doc, sl.field)
			docwalk.SetTopLevel(doc, sl.field, vectors[i])
		}
	}

	if m.DisableDimensionValidation {
		return nil
	}
	for _, doc := range docs {
		if err := m.ValidateDimensions(doc, indexed); err != nil {
			return err
		}
	}
	return nil
}

// RewriteQueryPipeline implements spec.md §4.3(d): for each $vectorSearch
// stage whose queryVector is a string, require embeddingParameters, assert
// the path is a vector index, embed it with inputType=query, and replace
// queryVector in place. A stage whose queryVector is not a string has any
// embeddingParameters removed without error.
func (m *Manager) RewriteQueryPipeline(ctx context.Context, db, coll string, pipeline []bson.M) error {
	indexed, err := m.indexedFields(ctx, db, coll)
	if err != nil {
		return err
	}

	for _, stage := range pipeline {
		vs, ok := stage["$vectorSearch"]
		if !ok {
			continue
		}
		stageDoc, ok := vs.(bson.M)
		if !ok {
			continue
		}
		queryText, ok := stageDoc["queryVector"].(string)
		if !ok {
			delete(stageDoc, "embeddingParameters")
			continue
		}

		rawParams, ok := stageDoc["embeddingParameters"]
		if !ok {
			return toolerrors.New(toolerrors.AtlasVectorSearchInvalid, "$vectorSearch stage with a string queryVector requires embeddingParameters")
		}
		params, err := toParameters(rawParams)
		if err != nil {
			return toolerrors.New(toolerrors.AtlasVectorSearchInvalid, "embeddingParameters is malformed").WithCause(err)
		}

		path, _ := stageDoc["path"].(string)
		if _, ok := indexed[path]; !ok {
			return toolerrors.New(toolerrors.AtlasVectorSearchInvalid, fmt.Sprintf("path %q is not a vector-indexed field", path))
		}

		vectors, err := m.Embedder.Embed(ctx, voyage.Request{
			Input:           []string{queryText},
			Model:           params.Model,
			OutputDimension: params.OutputDimension,
			OutputDType:     params.OutputDType,
			InputType:       voyage.InputQuery,
		})
		if err != nil {
			return err
		}
		if len(vectors) != 1 {
			return toolerrors.New(toolerrors.EmbeddingServiceError, "embedding service returned a mismatched vector count")
		}

		stageDoc["queryVector"] = vectors[0]
		delete(stageDoc, "embeddingParameters")
	}
	return nil
}

// ValidateDimensions implements spec.md §4.3(e). indexed is the set of
// vector-indexed fields for the target namespace.
func (m *Manager) ValidateDimensions(doc map[string]any, indexed map[string]vectorField) error {
	for path, field := range indexed {
		raw, ok := docwalk.Get(doc, path)
		if !ok {
			continue
		}
		vec, isVector := toFloatSlice(raw)
		if !isVector {
			return toolerrors.New(toolerrors.EmbeddingDimensionMismatch, fmt.Sprintf(
				"Field %s is an embedding with %d dimensions, and the provided value is not compatible. Actual dimensions: unknown, Error: not-a-vector", path, field.numDimensions))
		}
		if len(vec) != field.numDimensions {
			return toolerrors.New(toolerrors.EmbeddingDimensionMismatch, fmt.Sprintf(
				"Field %s is an embedding with %d dimensions, and the provided value is not compatible. Actual dimensions: %d, Error: dimension-mismatch", path, field.numDimensions, len(vec)))
		}
	}
	return nil
}

func toFloatSlice(v any) ([]float64, bool) {
	switch val := v.(type) {
	case []float64:
		return val, true
	case []any:
		out := make([]float64, 0, len(val))
		for _, item := range val {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			case int32:
				out = append(out, float64(n))
			default:
				return nil, false
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func toParameters(v any) (Parameters, error) {
	m, ok := v.(bson.M)
	if !ok {
		return Parameters{}, fmt.Errorf("embeddingParameters must be an object")
	}
	p := Parameters{}
	if model, ok := m["model"].(string); ok {
		p.Model = model
	}
	if dtype, ok := m["outputDType"].(string); ok {
		p.OutputDType = dtype
	}
	switch dim := m["outputDimension"].(type) {
	case int:
		p.OutputDimension = dim
	case int32:
		p.OutputDimension = int(dim)
	case int64:
		p.OutputDimension = int(dim)
	}
	return p, nil
}
