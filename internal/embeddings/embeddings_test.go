package embeddings_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongodb-tool-broker/broker/internal/embeddings"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider/fake"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
	"github.com/mongodb-tool-broker/broker/internal/voyage"
)

type fakeEmbedder struct {
	vectors [][]float64
	err     error
}

func (f *fakeEmbedder) Embed(context.Context, voyage.Request) ([][]float64, error) {
	return f.vectors, f.err
}

func seedVectorIndex(p *fake.Provider, db, coll, path string, dims int) {
	p.SeedSearchIndex(db, coll, mongoprovider.SearchIndex{
		Name:      "vector_index",
		Status:    "READY",
		Queryable: true,
		Fields:    []mongoprovider.VectorField{{Path: path, NumDimensions: dims, Similarity: "cosine"}},
	})
}

func TestRewriteForInsertAssignsVectorAndDeletesRawText(t *testing.T) {
	p := fake.New()
	seedVectorIndex(p, "db", "coll", "plot_embedding", 3)
	embedder := &fakeEmbedder{vectors: [][]float64{{0.1, 0.2, 0.3}}}
	mgr := embeddings.New(p, embedder, false)

	docs := []map[string]any{
		{"title": "Movie", "plot_embedding": "raw text to embed"},
	}
	inputs := [][]embeddings.FieldInput{
		{{FieldPath: "plot_embedding", RawText: "raw text to embed", Parameters: embeddings.Parameters{Model: "voyage-3"}}},
	}

	err := mgr.RewriteForInsert(context.Background(), "db", "coll", docs, inputs)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, docs[0]["plot_embedding"])
	assert.Equal(t, "Movie", docs[0]["title"])
}

func TestRewriteForInsertRejectsUnindexedField(t *testing.T) {
	p := fake.New()
	embedder := &fakeEmbedder{vectors: [][]float64{{0.1}}}
	mgr := embeddings.New(p, embedder, false)

	docs := []map[string]any{{"x": "text"}}
	inputs := [][]embeddings.FieldInput{{{FieldPath: "x", RawText: "text"}}}

	err := mgr.RewriteForInsert(context.Background(), "db", "coll", docs, inputs)
	require.Error(t, err)
	assert.Equal(t, toolerrors.AtlasVectorSearchInvalid, toolerrors.CodeOf(err))
}

func TestRewriteForInsertEmptyInputIsNoop(t *testing.T) {
	p := fake.New()
	mgr := embeddings.New(p, &fakeEmbedder{}, false)
	docs := []map[string]any{{"x": 1}}
	err := mgr.RewriteForInsert(context.Background(), "db", "coll", docs, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, docs[0]["x"])
}

func TestValidateDimensionsRejectsMismatch(t *testing.T) {
	p := fake.New()
	seedVectorIndex(p, "db", "coll", "vec", 4)
	mgr := embeddings.New(p, &fakeEmbedder{}, false)

	docs := []map[string]any{{"vec": []any{1.0, 2.0}}}
	inputs := [][]embeddings.FieldInput{{}}
	mgr.Embedder = &fakeEmbedder{}
	err := mgr.RewriteForInsert(context.Background(), "db", "coll", docs, inputs)
	require.Error(t, err)
	assert.Equal(t, toolerrors.EmbeddingDimensionMismatch, toolerrors.CodeOf(err))
}

func TestRewriteQueryPipelineReplacesQueryVector(t *testing.T) {
	p := fake.New()
	seedVectorIndex(p, "db", "coll", "plot_embedding", 3)
	embedder := &fakeEmbedder{vectors: [][]float64{{0.5, 0.6, 0.7}}}
	mgr := embeddings.New(p, embedder, false)

	pipeline := []bson.M{
		{"$vectorSearch": bson.M{
			"path":                "plot_embedding",
			"queryVector":         "a space movie",
			"embeddingParameters": bson.M{"model": "voyage-3"},
		}},
	}

	err := mgr.RewriteQueryPipeline(context.Background(), "db", "coll", pipeline)
	require.NoError(t, err)

	stage := pipeline[0]["$vectorSearch"].(bson.M)
	assert.Equal(t, []float64{0.5, 0.6, 0.7}, stage["queryVector"])
	assert.NotContains(t, stage, "embeddingParameters")
}

func TestRewriteQueryPipelineRequiresEmbeddingParameters(t *testing.T) {
	p := fake.New()
	seedVectorIndex(p, "db", "coll", "plot_embedding", 3)
	mgr := embeddings.New(p, &fakeEmbedder{}, false)

	pipeline := []bson.M{
		{"$vectorSearch": bson.M{"path": "plot_embedding", "queryVector": "text"}},
	}
	err := mgr.RewriteQueryPipeline(context.Background(), "db", "coll", pipeline)
	require.Error(t, err)
	assert.Equal(t, toolerrors.AtlasVectorSearchInvalid, toolerrors.CodeOf(err))
}

func TestRewriteQueryPipelineIgnoresNonStringQueryVector(t *testing.T) {
	p := fake.New()
	mgr := embeddings.New(p, &fakeEmbedder{}, false)

	pipeline := []bson.M{
		{"$vectorSearch": bson.M{"path": "plot_embedding", "queryVector": []float64{0.1, 0.2}}},
	}
	err := mgr.RewriteQueryPipeline(context.Background(), "db", "coll", pipeline)
	require.NoError(t, err)
}
