package mongodb_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongodb-tool-broker/broker/internal/config"
	"github.com/mongodb-tool-broker/broker/internal/dispatcher"
	"github.com/mongodb-tool-broker/broker/internal/embeddings"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider/fake"
	"github.com/mongodb-tool-broker/broker/internal/session"
	"github.com/mongodb-tool-broker/broker/internal/toolspec"
	"github.com/mongodb-tool-broker/broker/internal/voyage"
	"github.com/mongodb-tool-broker/broker/tools/mongodb"
)

type noopEmbedder struct{}

func (noopEmbedder) Embed(context.Context, voyage.Request) ([][]float64, error) {
	return nil, nil
}

func invoke(t *testing.T, d *dispatcher.Dispatcher, sessions *session.Manager, cfg config.Config, name string, args string) dispatcher.Result {
	t.Helper()
	return d.Invoke(context.Background(), cfg, sessions, "s1", name, json.RawMessage(args))
}

func newSessions(provider mongoprovider.Provider) *session.Manager {
	return session.NewManager(func(context.Context, string) (mongoprovider.Provider, error) {
		return provider, nil
	}, "mongodb://default")
}

func TestInsertManyInsertsAndReportsIDs(t *testing.T) {
	provider := fake.New()
	sessions := newSessions(provider)
	d := dispatcher.New()
	mongodb.Register(d, nil)

	result := invoke(t, d, sessions, config.Defaults(), "insert-many", `{
		"database": "db", "collection": "coll",
		"documents": [{"a": 1}, {"a": 2}]
	}`)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Inserted `2` document(s) into db.coll.")
}

func TestInsertManyRendersHexObjectIDs(t *testing.T) {
	provider := fake.New()
	sessions := newSessions(provider)
	d := dispatcher.New()
	mongodb.Register(d, nil)

	result := invoke(t, d, sessions, config.Defaults(), "insert-many", `{
		"database": "db", "collection": "coll",
		"documents": [{"a": 1}]
	}`)
	require.False(t, result.IsError)
	assert.NotContains(t, result.Content[0].Text, "ObjectID(")
	assert.Regexp(t, `Inserted IDs: [0-9a-f]{24}$`, result.Content[0].Text)
}

func TestInsertManyRejectsMalformedVectorWithNoEmbeddingParameters(t *testing.T) {
	provider := fake.New()
	provider.SeedSearchIndex("db", "coll", mongoprovider.SearchIndex{
		Name:      "vector_index",
		Status:    "READY",
		Queryable: true,
		Fields:    []mongoprovider.VectorField{{Path: "embedding", NumDimensions: 256, Similarity: "cosine"}},
	})
	sessions := newSessions(provider)
	d := dispatcher.New()
	mongodb.Register(d, func(ctx *dispatcher.ExecutionContext) *embeddings.Manager {
		p, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
		require.NoError(t, err)
		return embeddings.New(p, noopEmbedder{}, false)
	})

	result := invoke(t, d, sessions, config.Defaults(), "insert-many", `{
		"database": "db", "collection": "coll",
		"documents": [{"embedding": "oopsie"}]
	}`)
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text,
		"Field embedding is an embedding with 256 dimensions, and the provided value is not compatible. Actual dimensions: unknown, Error: not-a-vector")

	found := invoke(t, d, sessions, config.Defaults(), "find", `{"database": "db", "collection": "coll"}`)
	require.False(t, found.IsError)
	assert.Contains(t, found.Content[0].Text, "Found 0 document(s).")
}

func TestFindReturnsSeededDocuments(t *testing.T) {
	provider := fake.New()
	provider.Seed("db", "coll", bson.M{"a": 1}, bson.M{"a": 2})
	sessions := newSessions(provider)
	d := dispatcher.New()
	mongodb.Register(d, nil)

	result := invoke(t, d, sessions, config.Defaults(), "find", `{"database": "db", "collection": "coll"}`)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Found 2 document(s).")
	require.Len(t, result.Content, 2)
	assert.True(t, result.Content[1].IsUntrusted)
}

func TestAggregateRejectsOutStageWhenReadOnly(t *testing.T) {
	provider := fake.New()
	sessions := newSessions(provider)
	d := dispatcher.New()
	mongodb.Register(d, nil)

	cfg := config.Defaults()
	cfg.ReadOnly = true
	result := invoke(t, d, sessions, cfg, "aggregate", `{
		"database": "db", "collection": "coll",
		"pipeline": [{"$out": "other"}]
	}`)
	require.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "ForbiddenWriteOperation")
}

func TestDropDatabaseRequiresConfirmation(t *testing.T) {
	provider := fake.New()
	sessions := newSessions(provider)
	d := dispatcher.New(dispatcher.WithConfirmer(dispatcher.ConfirmerFunc(
		func(context.Context, string, string) (bool, error) { return false, nil },
	)))
	mongodb.Register(d, nil)

	result := invoke(t, d, sessions, config.Defaults(), "drop-database", `{"database": "db"}`)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "not confirmed")
}

func TestCreateIndexReturnsName(t *testing.T) {
	provider := fake.New()
	sessions := newSessions(provider)
	d := dispatcher.New()
	mongodb.Register(d, nil)

	result := invoke(t, d, sessions, config.Defaults(), "create-index", `{
		"database": "db", "collection": "coll", "keys": {"a": 1}
	}`)
	require.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "Created index")
}

func TestMongoDBCategoryConstantIsComparable(t *testing.T) {
	// References toolspec.CategoryMongoDB, the category Register assigns to
	// every tool in this package.
	assert.Equal(t, toolspec.CategoryMongoDB, toolspec.CategoryMongoDB)
}
