// Package fake is an in-memory mongoprovider.Provider for tests, grounded on
// the teacher's runtime/agent/session/inmem in-memory store idiom.
package fake

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
)

type namespace struct {
	db, coll string
}

// Provider is a mutex-guarded, in-process mongoprovider.Provider. It keeps
// documents as plain bson.M so filters/updates can be matched with naive
// equality semantics sufficient for tests; it does not implement the
// MongoDB query language.
type Provider struct {
	mu          sync.Mutex
	docs        map[namespace][]bson.M
	indexes     map[namespace][]mongoprovider.IndexInfo
	searchIdx   map[namespace][]mongoprovider.SearchIndex
	nextIndexID int
	closed      bool

	// SearchUnsupported, when true, makes SupportsSearch report false.
	SearchUnsupported bool
	// ExplainStage, when set, is returned verbatim by Explain's
	// winningPlan.stage (defaults to "COLLSCAN" so tests opt in to IXSCAN).
	ExplainStage string
}

// New returns an empty fake Provider.
func New() *Provider {
	return &Provider{
		docs:      make(map[namespace][]bson.M),
		indexes:   make(map[namespace][]mongoprovider.IndexInfo),
		searchIdx: make(map[namespace][]mongoprovider.SearchIndex),
	}
}

// Seed inserts docs directly, bypassing InsertMany, for test setup.
func (p *Provider) Seed(db, coll string, docs ...bson.M) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	p.docs[ns] = append(p.docs[ns], docs...)
}

// SeedSearchIndex registers a search index definition for ListSearchIndexes.
func (p *Provider) SeedSearchIndex(db, coll string, idx mongoprovider.SearchIndex) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	p.searchIdx[ns] = append(p.searchIdx[ns], idx)
}

func (p *Provider) Ping(context.Context) error { return nil }

func (p *Provider) Disconnect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Provider) InsertMany(_ context.Context, db, coll string, docs []any) (mongoprovider.InsertManyResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	ids := make([]any, 0, len(docs))
	for _, d := range docs {
		m, _ := toBsonM(d)
		if _, ok := m["_id"]; !ok {
			m["_id"] = bson.NewObjectID()
		}
		p.docs[ns] = append(p.docs[ns], m)
		ids = append(ids, m["_id"])
	}
	return mongoprovider.InsertManyResult{InsertedIDs: ids}, nil
}

func (p *Provider) Find(_ context.Context, db, coll string, filter any, opts mongoprovider.FindOptions) (mongoprovider.Cursor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	f, _ := toBsonM(filter)
	var matched []bson.M
	for _, d := range p.docs[ns] {
		if matches(d, f) {
			matched = append(matched, d)
		}
	}
	if opts.Limit > 0 && int64(len(matched)) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return &cursor{docs: matched, pos: -1}, nil
}

func (p *Provider) Aggregate(_ context.Context, db, coll string, pipeline []bson.M, _ mongoprovider.AggregateOptions) (mongoprovider.Cursor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	docs := append([]bson.M{}, p.docs[ns]...)

	for _, stage := range pipeline {
		if match, ok := stage["$match"]; ok {
			f, _ := toBsonM(match)
			var filtered []bson.M
			for _, d := range docs {
				if matches(d, f) {
					filtered = append(filtered, d)
				}
			}
			docs = filtered
		}
		if limit, ok := stage["$limit"]; ok {
			n := toInt64(limit)
			if int64(len(docs)) > n {
				docs = docs[:n]
			}
		}
		if skip, ok := stage["$skip"]; ok {
			n := toInt64(skip)
			if n >= int64(len(docs)) {
				docs = nil
			} else {
				docs = docs[n:]
			}
		}
		if countField, ok := stage["$count"].(string); ok {
			docs = []bson.M{{countField: int64(len(docs))}}
		}
	}
	return &cursor{docs: docs, pos: -1}, nil
}

func (p *Provider) UpdateMany(_ context.Context, db, coll string, filter, update any, upsert bool) (mongoprovider.UpdateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	f, _ := toBsonM(filter)
	set, _ := toBsonM(update)
	setDoc, _ := toBsonM(set["$set"])

	var matched int64
	for i, d := range p.docs[ns] {
		if !matches(d, f) {
			continue
		}
		matched++
		for k, v := range setDoc {
			p.docs[ns][i][k] = v
		}
	}
	if matched == 0 && upsert {
		newDoc := bson.M{}
		for k, v := range f {
			newDoc[k] = v
		}
		for k, v := range setDoc {
			newDoc[k] = v
		}
		newDoc["_id"] = bson.NewObjectID()
		p.docs[ns] = append(p.docs[ns], newDoc)
		return mongoprovider.UpdateResult{UpsertedCount: 1, UpsertedID: newDoc["_id"]}, nil
	}
	return mongoprovider.UpdateResult{MatchedCount: matched, ModifiedCount: matched}, nil
}

func (p *Provider) DeleteMany(_ context.Context, db, coll string, filter any) (mongoprovider.DeleteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	f, _ := toBsonM(filter)
	var kept []bson.M
	var deleted int64
	for _, d := range p.docs[ns] {
		if matches(d, f) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	p.docs[ns] = kept
	return mongoprovider.DeleteResult{DeletedCount: deleted}, nil
}

func (p *Provider) DropCollection(_ context.Context, db, coll string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	delete(p.docs, ns)
	delete(p.indexes, ns)
	delete(p.searchIdx, ns)
	return nil
}

func (p *Provider) DropDatabase(_ context.Context, db string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ns := range p.docs {
		if ns.db == db {
			delete(p.docs, ns)
			delete(p.indexes, ns)
			delete(p.searchIdx, ns)
		}
	}
	return nil
}

func (p *Provider) ListIndexes(_ context.Context, db, coll string) ([]mongoprovider.IndexInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	out := append([]mongoprovider.IndexInfo{{Name: "_id_", Keys: bson.D{{Key: "_id", Value: 1}}}}, p.indexes[ns]...)
	return out, nil
}

func (p *Provider) CreateIndex(_ context.Context, db, coll string, keys bson.D, _ bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	p.nextIndexID++
	name := indexName(keys)
	p.indexes[ns] = append(p.indexes[ns], mongoprovider.IndexInfo{Name: name, Keys: keys})
	return name, nil
}

func (p *Provider) DropIndex(_ context.Context, db, coll, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	var kept []mongoprovider.IndexInfo
	for _, idx := range p.indexes[ns] {
		if idx.Name != name {
			kept = append(kept, idx)
		}
	}
	p.indexes[ns] = kept
	return nil
}

func (p *Provider) ListSearchIndexes(_ context.Context, db, coll string) ([]mongoprovider.SearchIndex, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ns := namespace{db, coll}
	return append([]mongoprovider.SearchIndex{}, p.searchIdx[ns]...), nil
}

func (p *Provider) EstimatedDocumentCount(_ context.Context, db, coll string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.docs[namespace{db, coll}])), nil
}

func (p *Provider) Explain(_ context.Context, db, coll string, _ []bson.M) (bson.M, error) {
	p.mu.Lock()
	stage := p.ExplainStage
	p.mu.Unlock()
	if stage == "" {
		stage = "COLLSCAN"
	}
	return bson.M{
		"queryPlanner": bson.M{
			"winningPlan": bson.M{"stage": stage},
		},
	}, nil
}

func (p *Provider) SupportsSearch(_ context.Context, db, coll string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.SearchUnsupported, nil
}

func (p *Provider) IsIndexedField(_ context.Context, db, coll, field string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if field == "_id" {
		return true, nil
	}
	for _, idx := range p.indexes[namespace{db, coll}] {
		if len(idx.Keys) > 0 && idx.Keys[0].Key == field {
			return true, nil
		}
	}
	return false, nil
}

func indexName(keys bson.D) string {
	name := ""
	for _, e := range keys {
		if name != "" {
			name += "_"
		}
		name += e.Key + "_1"
	}
	return name
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}

// toBsonM best-effort coerces filter/update values (which tools build as
// bson.M already) into bson.M for the naive in-memory matcher.
func toBsonM(v any) (bson.M, bool) {
	if v == nil {
		return bson.M{}, true
	}
	if m, ok := v.(bson.M); ok {
		return m, true
	}
	if d, ok := v.(bson.D); ok {
		m := bson.M{}
		for _, e := range d {
			m[e.Key] = e.Value
		}
		return m, true
	}
	return bson.M{}, false
}

// matches implements plain equality matching only: every key in filter must
// be present in doc with an equal value. Operator documents ($gt, $in, ...)
// are not evaluated: such a key matches any doc that has the key at all,
// since the fake only needs to exercise
// broker-level gating/plumbing, not MongoDB query semantics.
func matches(doc, filter bson.M) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok {
			return false
		}
		if sub, ok := want.(bson.M); ok {
			_ = sub
			continue
		}
		if got != want {
			return false
		}
	}
	return true
}

type cursor struct {
	docs []bson.M
	pos  int
}

func (c *cursor) Next(context.Context) bool {
	c.pos++
	return c.pos < len(c.docs)
}

func (c *cursor) Decode(val any) error {
	data, err := bson.Marshal(c.docs[c.pos])
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, val)
}

func (c *cursor) Err() error                  { return nil }
func (c *cursor) Close(context.Context) error { return nil }
