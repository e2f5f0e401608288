// Package mongodb registers the MongoDB CRUD, index, and export tool family
// (spec.md §4.2, §4.4, §4.5) into a dispatcher.Dispatcher. Grounded on the
// teacher's per-toolset registration files
// (runtime/agent/tools/*.go registering into a toolregistry), generalized
// from the teacher's agent-tool signature to the broker's
// (ExecutionContext, args) -> (Result, error) signature.
package mongodb

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongodb-tool-broker/broker/internal/aggregation"
	"github.com/mongodb-tool-broker/broker/internal/dispatcher"
	"github.com/mongodb-tool-broker/broker/internal/embeddings"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
	"github.com/mongodb-tool-broker/broker/internal/toolspec"
)

// EmbedderFactory builds the embeddings Manager lazily per session, since it
// depends on the session's live Provider. A nil return disables embeddings
// rewriting for insert-many/aggregate.
type EmbedderFactory func(ctx *dispatcher.ExecutionContext) *embeddings.Manager

// Register adds every MongoDB tool to d. embedderFactory may be nil, in
// which case embeddings rewriting is skipped entirely (equivalent to the
// vectorSearch preview feature being off).
func Register(d *dispatcher.Dispatcher, embedderFactory EmbedderFactory) {
	if embedderFactory == nil {
		embedderFactory = func(*dispatcher.ExecutionContext) *embeddings.Manager { return nil }
	}

	d.Register(connectTool())
	d.Register(disconnectTool())
	d.Register(insertManyTool(embedderFactory))
	d.Register(findTool())
	d.Register(aggregateTool(embedderFactory))
	d.Register(updateManyTool())
	d.Register(deleteManyTool())
	d.Register(dropCollectionTool())
	d.Register(dropDatabaseTool())
	d.Register(collectionIndexesTool())
	d.Register(createIndexTool())
	d.Register(dropIndexTool())
	d.Register(exportTool())
}

func schema(name, raw string) *toolspec.ArgsShape {
	args, err := toolspec.Compile(name, json.RawMessage(raw))
	if err != nil {
		panic(fmt.Sprintf("mongodb: invalid schema for %s: %v", name, err))
	}
	return args
}

// connect establishes (or re-establishes) the session's MongoDB connection
// explicitly (spec.md §4.2).
func connectTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "connect",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationMetadata,
			Description:   "Connect to a MongoDB instance using a connection string.",
			Args: schema("connect", `{
				"type": "object",
				"properties": {"connectionString": {"type": "string"}},
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			connStr, _ := args["connectionString"].(string)
			if _, err := ctx.Sessions.Connect(ctx, ctx.SessionID, connStr); err != nil {
				return dispatcher.Result{}, err
			}
			return dispatcher.Text("Connected to MongoDB."), nil
		},
	}
}

func disconnectTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "disconnect",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationMetadata,
			Description:   "Close the current MongoDB connection.",
			Args:          schema("disconnect", `{"type": "object", "additionalProperties": false}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			if err := ctx.Sessions.Disconnect(ctx, ctx.SessionID); err != nil {
				ctx.Logger.Warn(ctx, "failed to close provider cleanly on disconnect", "error", err.Error())
			}
			return dispatcher.Text("Disconnected from MongoDB."), nil
		},
	}
}

func insertManyTool(embedderFactory EmbedderFactory) dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "insert-many",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationCreate,
			Description:   "Insert multiple documents into a MongoDB collection.",
			Args: schema("insert-many", `{
				"type": "object",
				"properties": {
					"database": {"type": "string"},
					"collection": {"type": "string"},
					"documents": {"type": "array", "items": {"type": "object"}},
					"embeddingParameters": {
						"type": "object",
						"properties": {
							"input": {
								"type": "array",
								"items": {"type": "object"}
							}
						}
					}
				},
				"required": ["database", "collection", "documents"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			db := args["database"].(string)
			coll := args["collection"].(string)

			rawDocs, _ := args["documents"].([]any)
			docs := make([]map[string]any, 0, len(rawDocs))
			for _, d := range rawDocs {
				m, ok := d.(map[string]any)
				if !ok {
					return dispatcher.Result{}, toolerrors.New(toolerrors.InvalidArguments, "documents must be an array of objects")
				}
				docs = append(docs, m)
			}

			// Dimension validation (spec.md §4.3(e)) must run over every
			// document regardless of whether embeddingParameters were
			// supplied at all: a caller can hand a raw, already-shaped value
			// at a vector-indexed field without asking for a rewrite.
			if mgr := embedderFactory(ctx); mgr != nil {
				inputs := parseEmbeddingInputs(args["embeddingParameters"], len(docs))
				if err := mgr.RewriteForInsert(ctx, db, coll, docs, inputs); err != nil {
					return dispatcher.Result{}, err
				}
			}

			toInsert := make([]any, len(docs))
			for i, d := range docs {
				toInsert[i] = d
			}
			res, err := provider.InsertMany(ctx, db, coll, toInsert)
			if err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "insert-many failed").WithCause(err)
			}

			ids := make([]string, 0, len(res.InsertedIDs))
			for _, id := range res.InsertedIDs {
				if oid, ok := id.(bson.ObjectID); ok {
					ids = append(ids, oid.Hex())
					continue
				}
				ids = append(ids, fmt.Sprintf("%v", id))
			}
			text := fmt.Sprintf(
				"Documents were inserted successfully.\nInserted `%d` document(s) into %s.%s.\nInserted IDs: %s",
				len(res.InsertedIDs), db, coll, strings.Join(ids, ", "),
			)
			return dispatcher.Text(text), nil
		},
	}
}

// parseEmbeddingInputs decodes embeddingParameters.input (spec.md §4.3(c))
// into one []embeddings.FieldInput slice per document, aligned by index.
func parseEmbeddingInputs(raw any, docCount int) [][]embeddings.FieldInput {
	params, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	rawInputs, ok := params["input"].([]any)
	if !ok || len(rawInputs) == 0 {
		return nil
	}

	out := make([][]embeddings.FieldInput, docCount)
	for i, rawEntry := range rawInputs {
		if i >= docCount {
			break
		}
		entry, ok := rawEntry.(map[string]any)
		if !ok {
			continue
		}
		var fields []embeddings.FieldInput
		for path, rawVal := range entry {
			text, ok := rawVal.(string)
			if !ok {
				continue
			}
			fields = append(fields, embeddings.FieldInput{FieldPath: path, RawText: text})
		}
		out[i] = fields
	}
	return out
}

func findTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "find",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationRead,
			Description:   "Query documents from a MongoDB collection.",
			Args: schema("find", `{
				"type": "object",
				"properties": {
					"database": {"type": "string"},
					"collection": {"type": "string"},
					"filter": {"type": "object"},
					"projection": {"type": "object"},
					"sort": {"type": "object"},
					"limit": {"type": "integer", "minimum": 0}
				},
				"required": ["database", "collection"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			db := args["database"].(string)
			coll := args["collection"].(string)
			filter := toBSONM(args["filter"])

			opts := mongoprovider.FindOptions{Projection: toBSONM(args["projection"])}
			if limit, ok := args["limit"].(float64); ok {
				opts.Limit = int64(limit)
			}
			if sortMap, ok := args["sort"].(map[string]any); ok {
				opts.Sort = sortedBSOND(sortMap)
			}

			cur, err := provider.Find(ctx, db, coll, filter, opts)
			if err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "find failed").WithCause(err)
			}
			defer func() { _ = cur.Close(ctx) }()

			var docs []bson.M
			for cur.Next(ctx) {
				var doc bson.M
				if err := cur.Decode(&doc); err != nil {
					return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "failed to decode find result").WithCause(err)
				}
				docs = append(docs, doc)
			}
			if err := cur.Err(); err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "find cursor error").WithCause(err)
			}

			return dispatcher.UntrustedJSON(fmt.Sprintf("Found %d document(s).", len(docs)), docs), nil
		},
	}
}

func aggregateTool(embedderFactory EmbedderFactory) dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "aggregate",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationRead,
			Description:   "Run an aggregation pipeline against a MongoDB collection.",
			Args: schema("aggregate", `{
				"type": "object",
				"properties": {
					"database": {"type": "string"},
					"collection": {"type": "string"},
					"pipeline": {"type": "array", "items": {"type": "object"}},
					"responseBytesLimit": {"type": "integer", "minimum": 0}
				},
				"required": ["database", "collection", "pipeline"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			db := args["database"].(string)
			coll := args["collection"].(string)
			pipeline := toBSONPipeline(args["pipeline"])

			var respLimit int64
			if v, ok := args["responseBytesLimit"].(float64); ok {
				respLimit = int64(v)
			}

			runner := aggregation.New(provider, embedderFactory(ctx))
			result, err := runner.Run(ctx, aggregation.Options{
				Database:             db,
				Collection:           coll,
				Pipeline:             pipeline,
				ResponseBytesLimit:   respLimit,
				ReadOnly:             ctx.Config.ReadOnly,
				IndexCheck:           ctx.Config.IndexCheck,
				MaxDocumentsPerQuery: ctx.Config.MaxDocumentsPerQuery,
				MaxBytesPerQuery:     ctx.Config.MaxBytesPerQuery,
				DisabledOperations:   disabledOperationSet(ctx.Config.DisabledTools),
			})
			if err != nil {
				return dispatcher.Result{}, err
			}

			summary := result.Summary()
			if len(result.Documents) == 0 {
				return dispatcher.Text(summary), nil
			}
			return dispatcher.UntrustedJSON(summary, result.Documents), nil
		},
	}
}

func disabledOperationSet(disabled []string) map[string]bool {
	out := make(map[string]bool, len(disabled))
	for _, d := range disabled {
		out[d] = true
	}
	return out
}

func updateManyTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "update-many",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationUpdate,
			Description:   "Update all documents matching a filter.",
			Args: schema("update-many", `{
				"type": "object",
				"properties": {
					"database": {"type": "string"},
					"collection": {"type": "string"},
					"filter": {"type": "object"},
					"update": {"type": "object"},
					"upsert": {"type": "boolean"}
				},
				"required": ["database", "collection", "filter", "update"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			upsert, _ := args["upsert"].(bool)
			res, err := provider.UpdateMany(ctx,
				args["database"].(string), args["collection"].(string),
				toBSONM(args["filter"]), toBSONM(args["update"]), upsert)
			if err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "update-many failed").WithCause(err)
			}
			return dispatcher.Text(fmt.Sprintf(
				"Matched %d document(s), modified %d, upserted %d.",
				res.MatchedCount, res.ModifiedCount, res.UpsertedCount,
			)), nil
		},
	}
}

func deleteManyTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "delete-many",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationDelete,
			Description:   "Delete all documents matching a filter.",
			Args: schema("delete-many", `{
				"type": "object",
				"properties": {
					"database": {"type": "string"},
					"collection": {"type": "string"},
					"filter": {"type": "object"}
				},
				"required": ["database", "collection", "filter"],
				"additionalProperties": false
			}`),
			ConfirmationTemplate: "This will permanently delete documents matching the given filter. Continue?",
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			res, err := provider.DeleteMany(ctx, args["database"].(string), args["collection"].(string), toBSONM(args["filter"]))
			if err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "delete-many failed").WithCause(err)
			}
			return dispatcher.Text(fmt.Sprintf("Deleted %d document(s).", res.DeletedCount)), nil
		},
	}
}

func dropCollectionTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "drop-collection",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationDelete,
			Description:   "Drop a collection.",
			Args: schema("drop-collection", `{
				"type": "object",
				"properties": {"database": {"type": "string"}, "collection": {"type": "string"}},
				"required": ["database", "collection"],
				"additionalProperties": false
			}`),
			ConfirmationTemplate: "This will permanently drop the named collection. Continue?",
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			db, coll := args["database"].(string), args["collection"].(string)
			if err := provider.DropCollection(ctx, db, coll); err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "drop-collection failed").WithCause(err)
			}
			return dispatcher.Text(fmt.Sprintf("Dropped collection %s.%s.", db, coll)), nil
		},
	}
}

func dropDatabaseTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "drop-database",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationDelete,
			Description:   "Drop an entire database.",
			Args: schema("drop-database", `{
				"type": "object",
				"properties": {"database": {"type": "string"}},
				"required": ["database"],
				"additionalProperties": false
			}`),
			ConfirmationTemplate: "This will permanently drop the named database and all its collections. Continue?",
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			db := args["database"].(string)
			if err := provider.DropDatabase(ctx, db); err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "drop-database failed").WithCause(err)
			}
			return dispatcher.Text(fmt.Sprintf("Dropped database %s.", db)), nil
		},
	}
}

func collectionIndexesTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "collection-indexes",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationMetadata,
			Description:   "List the indexes on a collection.",
			Args: schema("collection-indexes", `{
				"type": "object",
				"properties": {"database": {"type": "string"}, "collection": {"type": "string"}},
				"required": ["database", "collection"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			indexes, err := provider.ListIndexes(ctx, args["database"].(string), args["collection"].(string))
			if err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "collection-indexes failed").WithCause(err)
			}
			return dispatcher.UntrustedJSON(fmt.Sprintf("Found %d index(es).", len(indexes)), indexes), nil
		},
	}
}

func createIndexTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "create-index",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationCreate,
			Description:   "Create an index on a collection.",
			Args: schema("create-index", `{
				"type": "object",
				"properties": {
					"database": {"type": "string"},
					"collection": {"type": "string"},
					"keys": {"type": "object"},
					"unique": {"type": "boolean"}
				},
				"required": ["database", "collection", "keys"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			keysMap, _ := args["keys"].(map[string]any)
			unique, _ := args["unique"].(bool)
			name, err := provider.CreateIndex(ctx, args["database"].(string), args["collection"].(string), sortedBSOND(keysMap), unique)
			if err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "create-index failed").WithCause(err)
			}
			return dispatcher.Text(fmt.Sprintf("Created index %q.", name)), nil
		},
	}
}

func dropIndexTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "drop-index",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationDelete,
			Description:   "Drop a named index from a collection.",
			Args: schema("drop-index", `{
				"type": "object",
				"properties": {"database": {"type": "string"}, "collection": {"type": "string"}, "name": {"type": "string"}},
				"required": ["database", "collection", "name"],
				"additionalProperties": false
			}`),
			ConfirmationTemplate: "This will permanently drop the named index. Continue?",
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			db, coll, name := args["database"].(string), args["collection"].(string), args["name"].(string)
			if err := provider.DropIndex(ctx, db, coll, name); err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "drop-index failed").WithCause(err)
			}
			return dispatcher.Text(fmt.Sprintf("Dropped index %q from %s.%s.", name, db, coll)), nil
		},
	}
}

func exportTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "export",
			Category:      toolspec.CategoryMongoDB,
			OperationType: toolspec.OperationRead,
			Description:   "Export the results of a find query as extended JSON.",
			Args: schema("export", `{
				"type": "object",
				"properties": {
					"database": {"type": "string"},
					"collection": {"type": "string"},
					"filter": {"type": "object"}
				},
				"required": ["database", "collection"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			db, coll := args["database"].(string), args["collection"].(string)
			cur, err := provider.Find(ctx, db, coll, toBSONM(args["filter"]), mongoprovider.FindOptions{})
			if err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "export failed").WithCause(err)
			}
			defer func() { _ = cur.Close(ctx) }()

			var docs []bson.M
			for cur.Next(ctx) {
				var doc bson.M
				if err := cur.Decode(&doc); err != nil {
					return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "failed to decode export result").WithCause(err)
				}
				docs = append(docs, doc)
			}
			if err := cur.Err(); err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "export cursor error").WithCause(err)
			}
			return dispatcher.UntrustedJSON(fmt.Sprintf("Exported %d document(s).", len(docs)), docs), nil
		},
	}
}

func toBSONM(v any) bson.M {
	m, ok := v.(map[string]any)
	if !ok {
		return bson.M{}
	}
	return bson.M(m)
}

func toBSONPipeline(v any) []bson.M {
	rawStages, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]bson.M, 0, len(rawStages))
	for _, s := range rawStages {
		if m, ok := s.(map[string]any); ok {
			out = append(out, bson.M(m))
		}
	}
	return out
}

// sortedBSOND turns a JSON-decoded object into a bson.D with a stable key
// order, since map[string]any iteration order is undefined and sort/index
// key order is semantically significant.
func sortedBSOND(m map[string]any) bson.D {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := make(bson.D, 0, len(keys))
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: m[k]})
	}
	return d
}
