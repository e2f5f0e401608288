// Package mongoprovider is the narrow facade the broker's tools call through
// to reach MongoDB, grounded on the teacher's collection/cursor/indexView
// interface pattern (features/session/mongo/clients/mongo) but widened from
// session bookkeeping to the full CRUD/aggregate/index surface spec.md §4.4,
// §4.5, §4.6 need.
package mongoprovider

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"goa.design/clue/health"
)

// healthCheckerName identifies this provider in a health.Checker's report,
// matching the teacher's features/*/mongo/clients/mongo naming convention.
const healthCheckerName = "mongodb"

var _ health.Pinger = (*client)(nil)

// SearchIndex describes one Atlas Search/Vector Search index as returned by
// $listSearchIndexes, trimmed to the fields the embeddings manager needs
// (spec.md §4.3(a)).
type SearchIndex struct {
	Name      string
	Status    string
	Queryable bool
	Fields    []VectorField
}

// VectorField is one (path, numDimensions, similarity) vector field
// declared in a search index definition.
type VectorField struct {
	Path           string
	NumDimensions  int
	Similarity     string
	Quantization   string
}

// IndexInfo describes a regular (non-search) index as returned by
// listIndexes, used by the collection-indexes tool and the index-check gate.
type IndexInfo struct {
	Name string
	Keys bson.D
}

// Cursor is the minimal streaming-result surface the aggregation and find
// tools consume; it mirrors mongo.Cursor's shape so the real and fake
// providers can share call sites.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// InsertManyResult mirrors mongo.InsertManyResult.
type InsertManyResult struct {
	InsertedIDs []any
}

// UpdateResult mirrors mongo.UpdateResult.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
	UpsertedID    any
}

// DeleteResult mirrors mongo.DeleteResult.
type DeleteResult struct {
	DeletedCount int64
}

// Provider is the facade over a live MongoDB connection. One Provider
// corresponds to exactly one Connected session (spec.md §4.2).
type Provider interface {
	Ping(ctx context.Context) error
	Disconnect(ctx context.Context) error

	InsertMany(ctx context.Context, db, coll string, docs []any) (InsertManyResult, error)
	Find(ctx context.Context, db, coll string, filter any, opts FindOptions) (Cursor, error)
	Aggregate(ctx context.Context, db, coll string, pipeline []bson.M, opts AggregateOptions) (Cursor, error)
	UpdateMany(ctx context.Context, db, coll string, filter, update any, upsert bool) (UpdateResult, error)
	DeleteMany(ctx context.Context, db, coll string, filter any) (DeleteResult, error)
	DropCollection(ctx context.Context, db, coll string) error
	DropDatabase(ctx context.Context, db string) error

	ListIndexes(ctx context.Context, db, coll string) ([]IndexInfo, error)
	CreateIndex(ctx context.Context, db, coll string, keys bson.D, unique bool) (string, error)
	DropIndex(ctx context.Context, db, coll, name string) error
	ListSearchIndexes(ctx context.Context, db, coll string) ([]SearchIndex, error)

	EstimatedDocumentCount(ctx context.Context, db, coll string) (int64, error)
	IsIndexedField(ctx context.Context, db, coll, field string) (bool, error)

	// Explain returns the server's queryPlanner explain output for an
	// aggregation pipeline, used by the index-check gate (spec.md §4.4 step 3).
	Explain(ctx context.Context, db, coll string, pipeline []bson.M) (bson.M, error)

	// SupportsSearch reports whether the connected cluster accepts Atlas
	// Search ($vectorSearch/$search) aggregation stages (spec.md §4.4 step 1).
	SupportsSearch(ctx context.Context, db, coll string) (bool, error)
}

// FindOptions narrows options.FindOptions to the fields the find tool sets.
type FindOptions struct {
	Projection bson.M
	Sort       bson.D
	Limit      int64
}

// AggregateOptions narrows options.AggregateOptions.
type AggregateOptions struct {
	AllowDiskUse bool
}

type client struct {
	mongo *mongo.Client
}

// Connect dials MongoDB with the given URI and returns a live Provider. The
// caller owns redacting the URI into the Keychain before logging it.
func Connect(ctx context.Context, uri string) (Provider, error) {
	opts := options.Client().ApplyURI(uri)
	c, err := mongo.Connect(opts)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = c.Disconnect(ctx)
		return nil, err
	}
	return &client{mongo: c}, nil
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Name satisfies health.Pinger, identifying this dependency by name in a
// health.Checker's report.
func (c *client) Name() string {
	return healthCheckerName
}

func (c *client) Disconnect(ctx context.Context) error {
	return c.mongo.Disconnect(ctx)
}

func (c *client) coll(db, name string) *mongo.Collection {
	return c.mongo.Database(db).Collection(name)
}

func (c *client) InsertMany(ctx context.Context, db, coll string, docs []any) (InsertManyResult, error) {
	res, err := c.coll(db, coll).InsertMany(ctx, docs)
	if err != nil {
		return InsertManyResult{}, err
	}
	return InsertManyResult{InsertedIDs: res.InsertedIDs}, nil
}

func (c *client) Find(ctx context.Context, db, coll string, filter any, opts FindOptions) (Cursor, error) {
	findOpts := options.Find()
	if opts.Projection != nil {
		findOpts.SetProjection(opts.Projection)
	}
	if len(opts.Sort) > 0 {
		findOpts.SetSort(opts.Sort)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	return c.coll(db, coll).Find(ctx, filter, findOpts)
}

func (c *client) Aggregate(ctx context.Context, db, coll string, pipeline []bson.M, opts AggregateOptions) (Cursor, error) {
	aggOpts := options.Aggregate()
	if opts.AllowDiskUse {
		aggOpts.SetAllowDiskUse(true)
	}
	stages := make(bson.A, 0, len(pipeline))
	for _, stage := range pipeline {
		stages = append(stages, stage)
	}
	return c.coll(db, coll).Aggregate(ctx, stages, aggOpts)
}

func (c *client) UpdateMany(ctx context.Context, db, coll string, filter, update any, upsert bool) (UpdateResult, error) {
	updateOpts := options.Update()
	if upsert {
		updateOpts.SetUpsert(true)
	}
	res, err := c.coll(db, coll).UpdateMany(ctx, filter, update, updateOpts)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
		UpsertedCount: res.UpsertedCount,
		UpsertedID:    res.UpsertedID,
	}, nil
}

func (c *client) DeleteMany(ctx context.Context, db, coll string, filter any) (DeleteResult, error) {
	res, err := c.coll(db, coll).DeleteMany(ctx, filter)
	if err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{DeletedCount: res.DeletedCount}, nil
}

func (c *client) DropCollection(ctx context.Context, db, coll string) error {
	return c.coll(db, coll).Drop(ctx)
}

func (c *client) DropDatabase(ctx context.Context, db string) error {
	return c.mongo.Database(db).Drop(ctx)
}

func (c *client) ListIndexes(ctx context.Context, db, coll string) ([]IndexInfo, error) {
	cur, err := c.coll(db, coll).Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []IndexInfo
	for cur.Next(ctx) {
		var doc struct {
			Name string `bson:"name"`
			Key  bson.D `bson:"key"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, IndexInfo{Name: doc.Name, Keys: doc.Key})
	}
	return out, cur.Err()
}

func (c *client) CreateIndex(ctx context.Context, db, coll string, keys bson.D, unique bool) (string, error) {
	model := mongo.IndexModel{Keys: keys}
	if unique {
		model.Options = options.Index().SetUnique(true)
	}
	return c.coll(db, coll).Indexes().CreateOne(ctx, model)
}

func (c *client) DropIndex(ctx context.Context, db, coll, name string) error {
	_, err := c.coll(db, coll).Indexes().DropOne(ctx, name)
	return err
}

func (c *client) ListSearchIndexes(ctx context.Context, db, coll string) ([]SearchIndex, error) {
	cur, err := c.coll(db, coll).SearchIndexes().List(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []SearchIndex
	for cur.Next(ctx) {
		var doc searchIndexDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toSearchIndex())
	}
	return out, cur.Err()
}

func (c *client) EstimatedDocumentCount(ctx context.Context, db, coll string) (int64, error) {
	return c.coll(db, coll).EstimatedDocumentCount(ctx)
}

func (c *client) Explain(ctx context.Context, db, coll string, pipeline []bson.M) (bson.M, error) {
	stages := make(bson.A, 0, len(pipeline))
	for _, stage := range pipeline {
		stages = append(stages, stage)
	}
	cmd := bson.D{
		{Key: "explain", Value: bson.D{
			{Key: "aggregate", Value: coll},
			{Key: "pipeline", Value: stages},
			{Key: "cursor", Value: bson.D{}},
		}},
		{Key: "verbosity", Value: "queryPlanner"},
	}
	var out bson.M
	if err := c.mongo.Database(db).RunCommand(ctx, cmd).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) SupportsSearch(ctx context.Context, db, coll string) (bool, error) {
	_, err := c.ListSearchIndexes(ctx, db, coll)
	if err == nil {
		return true, nil
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == 59 || cmdErr.Code == 115) {
		return false, nil
	}
	return false, err
}

func (c *client) IsIndexedField(ctx context.Context, db, coll, field string) (bool, error) {
	indexes, err := c.ListIndexes(ctx, db, coll)
	if err != nil {
		return false, err
	}
	for _, idx := range indexes {
		if len(idx.Keys) > 0 && idx.Keys[0].Key == field {
			return true, nil
		}
	}
	return false, nil
}

type searchIndexDocument struct {
	Name       string `bson:"name"`
	Status     string `bson:"status"`
	Queryable  bool   `bson:"queryable"`
	LatestDef  struct {
		Fields []struct {
			Type          string `bson:"type"`
			Path          string `bson:"path"`
			NumDimensions int    `bson:"numDimensions"`
			Similarity    string `bson:"similarity"`
			Quantization  string `bson:"quantization"`
		} `bson:"fields"`
	} `bson:"latestDefinition"`
}

func (d searchIndexDocument) toSearchIndex() SearchIndex {
	out := SearchIndex{Name: d.Name, Status: d.Status, Queryable: d.Queryable}
	for _, f := range d.LatestDef.Fields {
		if f.Type != "vector" {
			continue
		}
		out.Fields = append(out.Fields, VectorField{
			Path:          f.Path,
			NumDimensions: f.NumDimensions,
			Similarity:    f.Similarity,
			Quantization:  f.Quantization,
		})
	}
	return out
}
