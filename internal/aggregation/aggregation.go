// Package aggregation implements the Aggregation Tool's execution contract
// (spec.md §4.4): stage-permission checks, index-use enforcement, cursor
// capping, and a parallel $count estimate. The capped-result consumption and
// count estimate run concurrently via plain goroutines and a channel,
// grounded on the teacher's provider worker-pool idiom
// (runtime/toolregistry/provider.Serve) rather than an errgroup dependency
// the pack does not otherwise use.
package aggregation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongodb-tool-broker/broker/internal/embeddings"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
	"github.com/mongodb-tool-broker/broker/internal/toolspec"
)

// Options configures one Run call.
type Options struct {
	Database           string
	Collection         string
	Pipeline           []bson.M
	ResponseBytesLimit int64

	ReadOnly             bool
	IndexCheck           bool
	MaxDocumentsPerQuery int
	MaxBytesPerQuery     int64
	DisabledOperations   map[string]bool

	CountTimeout time.Duration
}

// Result is the formatted outcome of one aggregation run.
type Result struct {
	Documents []bson.M
	Total     *int64 // nil means "indeterminable"
	Returned  int
	Truncated bool
}

// Runner executes aggregation pipelines against a Provider.
type Runner struct {
	Provider   mongoprovider.Provider
	Embeddings *embeddings.Manager
}

// New constructs a Runner.
func New(provider mongoprovider.Provider, embeddingsMgr *embeddings.Manager) *Runner {
	return &Runner{Provider: provider, Embeddings: embeddingsMgr}
}

var writeStages = map[string]bool{"$out": true, "$merge": true}

// Run checks stage permissions and search support, enforces index use when
// IndexCheck is set, rewrites $vectorSearch query text into vectors, then
// runs the capped pipeline alongside a $count estimate and collects the
// results. It does not check $vectorSearch filter fields against the index
// definition, and it does not run dimension validation over documents that
// appear inline in the pipeline.
func (r *Runner) Run(ctx context.Context, opts Options) (Result, error) {
	if err := checkStagePermissions(opts); err != nil {
		return Result{}, err
	}
	if hasVectorSearch(opts.Pipeline) {
		supported, err := r.Provider.SupportsSearch(ctx, opts.Database, opts.Collection)
		if err != nil {
			return Result{}, toolerrors.New(toolerrors.Unexpected, "failed to determine search support").WithCause(err)
		}
		if !supported {
			return Result{}, toolerrors.New(toolerrors.AtlasSearchNotSupported, "the connected cluster does not support Atlas Search")
		}
	}

	if opts.IndexCheck {
		if err := r.checkIndexUse(ctx, opts); err != nil {
			return Result{}, err
		}
	}

	if r.Embeddings != nil {
		if err := r.Embeddings.RewriteQueryPipeline(ctx, opts.Database, opts.Collection, opts.Pipeline); err != nil {
			return Result{}, err
		}
	}

	cappedPipeline := opts.Pipeline
	if opts.MaxDocumentsPerQuery > 0 {
		cappedPipeline = append(append([]bson.M{}, opts.Pipeline...), bson.M{"$limit": opts.MaxDocumentsPerQuery})
	}

	type countOutcome struct {
		total int64
		err   error
	}
	countCh := make(chan countOutcome, 1)
	go func() {
		timeout := opts.CountTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		countCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		total, err := r.estimateCount(countCtx, opts)
		countCh <- countOutcome{total: total, err: err}
	}()

	docs, truncated, err := r.collect(ctx, opts, cappedPipeline)
	if err != nil {
		return Result{}, err
	}

	result := Result{Documents: docs, Returned: len(docs), Truncated: truncated}
	outcome := <-countCh
	if outcome.err == nil {
		result.Total = &outcome.total
	}
	return result, nil
}

func checkStagePermissions(opts Options) error {
	for _, stage := range opts.Pipeline {
		for name := range stage {
			if writeStages[name] {
				if opts.ReadOnly {
					return toolerrors.New(toolerrors.ForbiddenWriteOperation, fmt.Sprintf("%s is a write operation and readOnly is enabled", name))
				}
				if isWriteDisabled(opts.DisabledOperations) {
					return toolerrors.New(toolerrors.ForbiddenWriteOperation, fmt.Sprintf("%s is disabled by configuration", name))
				}
			}
		}
	}
	return nil
}

// isWriteDisabled reports whether disabledTools (keyed the same way
// dispatcher.isDisabled matches them: tool name, category, or operationType
// string) disables any of the write operation types a $out/$merge stage
// performs. "write" itself is never a real disabledTools value.
func isWriteDisabled(disabled map[string]bool) bool {
	return disabled[string(toolspec.OperationCreate)] ||
		disabled[string(toolspec.OperationUpdate)] ||
		disabled[string(toolspec.OperationDelete)]
}

func hasVectorSearch(pipeline []bson.M) bool {
	for _, stage := range pipeline {
		if _, ok := stage["$vectorSearch"]; ok {
			return true
		}
	}
	return false
}

// checkIndexUse implements spec.md §4.4 step 3.
func (r *Runner) checkIndexUse(ctx context.Context, opts Options) error {
	if hasVectorSearch(opts.Pipeline) {
		name := vectorSearchIndexName(opts.Pipeline)
		exists, err := r.Embeddings.IndexExists(ctx, opts.Database, opts.Collection, name)
		if err != nil {
			return err
		}
		if !exists {
			return toolerrors.New(toolerrors.AtlasVectorSearchIndexNF, fmt.Sprintf("vector search index %q not found or not queryable", name))
		}
		return nil
	}

	plan, err := r.Provider.Explain(ctx, opts.Database, opts.Collection, opts.Pipeline)
	if err != nil {
		return toolerrors.New(toolerrors.Unexpected, "failed to explain aggregation pipeline").WithCause(err)
	}
	if usesCollectionScan(plan) {
		return toolerrors.New(toolerrors.ForbiddenReadOperation, "query plan performs a collection scan; indexCheck forbids this")
	}
	return nil
}

func vectorSearchIndexName(pipeline []bson.M) string {
	for _, stage := range pipeline {
		vs, ok := stage["$vectorSearch"].(bson.M)
		if !ok {
			continue
		}
		if name, ok := vs["index"].(string); ok {
			return name
		}
	}
	return ""
}

// usesCollectionScan walks the winningPlan/inputStage chain looking for a
// COLLSCAN stage (spec.md §4.4 step 3, SPEC_FULL.md §4.4).
func usesCollectionScan(plan bson.M) bool {
	queryPlanner, ok := plan["queryPlanner"].(bson.M)
	if !ok {
		return false
	}
	stage, ok := queryPlanner["winningPlan"].(bson.M)
	if !ok {
		return false
	}
	for {
		if name, _ := stage["stage"].(string); name == "COLLSCAN" {
			return true
		}
		next, ok := stage["inputStage"].(bson.M)
		if !ok {
			return false
		}
		stage = next
	}
}

func (r *Runner) estimateCount(ctx context.Context, opts Options) (int64, error) {
	countPipeline := append(append([]bson.M{}, opts.Pipeline...), bson.M{"$count": "count"})
	cur, err := r.Provider.Aggregate(ctx, opts.Database, opts.Collection, countPipeline, mongoprovider.AggregateOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var doc struct {
		Count int64 `bson:"count"`
	}
	if !cur.Next(ctx) {
		return 0, nil
	}
	if err := cur.Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Count, cur.Err()
}

// collect implements spec.md §4.4 step 7: accumulate documents until the
// cursor is exhausted, maxBytesPerQuery is reached, or responseBytesLimit is
// reached, always closing the cursor on exit.
func (r *Runner) collect(ctx context.Context, opts Options, pipeline []bson.M) ([]bson.M, bool, error) {
	cur, err := r.Provider.Aggregate(ctx, opts.Database, opts.Collection, pipeline, mongoprovider.AggregateOptions{})
	if err != nil {
		return nil, false, toolerrors.New(toolerrors.Unexpected, "failed to run aggregation pipeline").WithCause(err)
	}
	defer func() { _ = cur.Close(ctx) }()

	limit := opts.MaxBytesPerQuery
	if opts.ResponseBytesLimit > 0 && (limit <= 0 || opts.ResponseBytesLimit < limit) {
		limit = opts.ResponseBytesLimit
	}

	var docs []bson.M
	var bytesUsed int64
	truncated := false
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, false, toolerrors.New(toolerrors.Unexpected, "failed to decode aggregation result").WithCause(err)
		}
		if limit > 0 {
			encoded, err := json.Marshal(doc)
			if err == nil && bytesUsed+int64(len(encoded)) > limit {
				truncated = true
				break
			}
			bytesUsed += int64(len(encoded))
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, false, toolerrors.New(toolerrors.Unexpected, "aggregation cursor error").WithCause(err)
	}
	return docs, truncated, nil
}

// Summary renders spec.md §4.4 step 8's text summary.
func (result Result) Summary() string {
	var b strings.Builder
	if result.Total != nil {
		b.WriteString(fmt.Sprintf("The aggregation resulted in %s documents. ", strconv.FormatInt(*result.Total, 10)))
	} else {
		b.WriteString("The aggregation resulted in an indeterminable number of documents. ")
	}
	b.WriteString(fmt.Sprintf("Returning %d document(s).", result.Returned))
	if result.Truncated {
		b.WriteString(" Results were truncated to fit within the configured byte limit.")
	}
	return b.String()
}
