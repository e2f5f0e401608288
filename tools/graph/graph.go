// Package graph registers the road-network routing tool family (spec.md
// §4.6) into a dispatcher.Dispatcher: plain Dijkstra over named junctions,
// the gate-aware variant that splits roads at AOI access points, and the
// two read-only AOI/road lookups. Grounded on the same per-toolset
// registration idiom as tools/mongodb, generalized to the
// internal/graph package's pure routing algorithms plus document loading
// from the connected collection.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"

	internalgraph "github.com/mongodb-tool-broker/broker/internal/graph"
	"github.com/mongodb-tool-broker/broker/internal/dispatcher"
	"github.com/mongodb-tool-broker/broker/internal/mongoprovider"
	"github.com/mongodb-tool-broker/broker/internal/toolerrors"
	"github.com/mongodb-tool-broker/broker/internal/toolspec"
)

// Register adds every graph tool to d.
func Register(d *dispatcher.Dispatcher) {
	d.Register(shortestPathTool())
	d.Register(shortestPathFromGatesTool())
	d.Register(getAOIsByPOITool())
	d.Register(getRoadsByAOITool())
}

func schema(name, raw string) *toolspec.ArgsShape {
	args, err := toolspec.Compile(name, json.RawMessage(raw))
	if err != nil {
		panic(fmt.Sprintf("graph: invalid schema for %s: %v", name, err))
	}
	return args
}

// junctionID normalizes a junction identifier that may arrive as a plain
// number or as a 64-bit boxed {high, low} pair (spec.md §4.6).
func junctionID(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case bson.M:
		high, _ := t["high"].(int32)
		low, _ := t["low"].(int32)
		return internalgraph.BoxedInt64(high, low)
	case map[string]any:
		high, _ := t["high"].(int32)
		low, _ := t["low"].(int32)
		return internalgraph.BoxedInt64(high, low)
	default:
		return 0
	}
}

// loadNetwork pulls every LineString road out of db.coll and builds a
// directed Network with both travel directions (roads are two-way unless
// a caller-level convention says otherwise).
func loadNetwork(ctx context.Context, provider mongoprovider.Provider, db, coll string) (*internalgraph.Network, error) {
	cur, err := provider.Find(ctx, db, coll, bson.M{"geometry.type": "LineString"}, mongoprovider.FindOptions{})
	if err != nil {
		return nil, toolerrors.New(toolerrors.Unexpected, "failed to load road network").WithCause(err)
	}
	defer func() { _ = cur.Close(ctx) }()

	network := internalgraph.NewNetwork(nil)
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, toolerrors.New(toolerrors.Unexpected, "failed to decode road document").WithCause(err)
		}
		edge := edgeFromDoc(doc)
		network.AddEdge(edge)
		network.AddEdge(reversed(edge))
	}
	if err := cur.Err(); err != nil {
		return nil, toolerrors.New(toolerrors.Unexpected, "road network cursor error").WithCause(err)
	}
	return network, nil
}

func edgeFromDoc(doc bson.M) internalgraph.Edge {
	maxSpeed, _ := doc["maxSpeed"].(float64)
	length, _ := doc["length"].(float64)
	cost, _ := doc["cost"].(float64)
	name, _ := doc["name"].(string)
	category, _ := doc["category"].(string)
	return internalgraph.Edge{
		ID:       junctionID(doc["_id"]),
		From:     junctionID(doc["from_junction"]),
		To:       junctionID(doc["to_junction"]),
		Length:   length,
		Cost:     cost,
		Name:     name,
		Category: category,
		MaxSpeed: maxSpeed,
	}
}

func reversed(e internalgraph.Edge) internalgraph.Edge {
	e.From, e.To = e.To, e.From
	return e
}

func shortestPathTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "shortest_path",
			Category:      toolspec.CategoryGraph,
			OperationType: toolspec.OperationRead,
			Description:   "Compute the shortest path between two junctions in a road network.",
			Args: schema("shortest_path", `{
				"type": "object",
				"properties": {
					"database": {"type": "string"},
					"collection": {"type": "string"},
					"startJunction": {"type": "integer"},
					"endJunction": {"type": "integer"},
					"weightField": {"type": "string", "enum": ["cost", "length"], "default": "cost"},
					"includeRoadDetails": {"type": "boolean", "default": false}
				},
				"required": ["database", "collection", "startJunction", "endJunction"],
				"additionalProperties": false
			}`),
		},
		Execute: func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
			provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
			if err != nil {
				return dispatcher.Result{}, err
			}
			db, coll := args["database"].(string), args["collection"].(string)
			network, err := loadNetwork(ctx, provider, db, coll)
			if err != nil {
				return dispatcher.Result{}, err
			}

			weightField := internalgraph.WeightCost
			if wf, ok := args["weightField"].(string); ok && wf == "length" {
				weightField = internalgraph.WeightLength
			}
			start := int64(args["startJunction"].(float64))
			end := int64(args["endJunction"].(float64))

			result, err := internalgraph.ShortestPath(network, start, end, weightField)
			if err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "shortest_path failed").WithCause(err)
			}
			if !result.Found {
				return dispatcher.Text(fmt.Sprintf("No path found between junction %d and junction %d.", start, end)), nil
			}

			includeDetails, _ := args["includeRoadDetails"].(bool)
			summary := fmt.Sprintf(
				"Visited %d junction(s). Total distance: %.2f m. Total cost: %.2f.",
				result.VisitedCount, result.TotalDistance, result.TotalCost,
			)
			if !includeDetails {
				return dispatcher.Text(summary), nil
			}
			return dispatcher.UntrustedJSON(summary, renderPath(result.Path)), nil
		},
	}
}

func renderPath(path []internalgraph.PathStep) []map[string]any {
	out := make([]map[string]any, 0, len(path))
	for _, step := range path {
		e := step.Edge
		out = append(out, map[string]any{
			"id":          e.ID,
			"from":        e.From,
			"to":          e.To,
			"name":        e.Name,
			"category":    e.Category,
			"length":      e.Length,
			"cost":        e.Cost,
			"maxSpeedKph": internalgraph.MetersPerSecondToKPH(e.MaxSpeed),
		})
	}
	return out
}

func shortestPathFromGatesTool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "shortest_path_from_gates",
			Category:      toolspec.CategoryGraph,
			OperationType: toolspec.OperationRead,
			Description:   "Compute the shortest path between two AOI gates, splitting roads at the access points.",
			Args: schema("shortest_path_from_gates", `{
				"type": "object",
				"properties": {
					"database": {"type": "string"},
					"roadsCollection": {"type": "string"},
					"gatesCollection": {"type": "string"},
					"startRoadId": {"type": "integer"},
					"startAoiId": {"type": "integer"},
					"endRoadId": {"type": "integer"},
					"endAoiId": {"type": "integer"},
					"mode": {"type": "string", "enum": ["walking", "driving"], "default": "walking"},
					"weightField": {"type": "string", "enum": ["cost", "length"], "default": "cost"},
					"includeRoadDetails": {"type": "boolean", "default": false}
				},
				"required": ["database", "roadsCollection", "gatesCollection", "startRoadId", "startAoiId", "endRoadId", "endAoiId"],
				"additionalProperties": false
			}`),
		},
		Execute: executeShortestPathFromGates,
	}
}

func executeShortestPathFromGates(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
	provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
	if err != nil {
		return dispatcher.Result{}, err
	}

	db := args["database"].(string)
	roadsColl := args["roadsCollection"].(string)
	gatesColl := args["gatesCollection"].(string)
	mode := internalgraph.ModeWalking
	if m, ok := args["mode"].(string); ok && m == "driving" {
		mode = internalgraph.ModeDriving
	}
	weightField := internalgraph.WeightCost
	if wf, ok := args["weightField"].(string); ok && wf == "length" {
		weightField = internalgraph.WeightLength
	}

	startRoadID := int64(args["startRoadId"].(float64))
	startAOIID := int64(args["startAoiId"].(float64))
	endRoadID := int64(args["endRoadId"].(float64))
	endAOIID := int64(args["endAoiId"].(float64))

	startGate, err := findGateForRoad(ctx, provider, db, gatesColl, startRoadID, startAOIID, mode)
	if err != nil {
		return dispatcher.Result{}, err
	}
	endGate, err := findGateForRoad(ctx, provider, db, gatesColl, endRoadID, endAOIID, mode)
	if err != nil {
		return dispatcher.Result{}, err
	}

	roads, err := loadRoadDocs(ctx, provider, db, roadsColl, mode)
	if err != nil {
		return dispatcher.Result{}, err
	}

	network := internalgraph.NewNetwork(nil)
	allocator := internalgraph.NewJunctionAllocator(1 << 40)

	startJunction, err := splitSiblingsAtGate(network, roads, startGate, allocator, mode)
	if err != nil {
		return dispatcher.Result{}, err
	}
	endJunction, err := splitSiblingsAtGate(network, roads, endGate, allocator, mode)
	if err != nil {
		return dispatcher.Result{}, err
	}

	for _, r := range roads {
		e := internalgraph.Edge{ID: r.ID, From: r.From, To: r.To, Length: r.Length, Name: r.Name, Category: r.Category, MaxSpeed: r.MaxSpeed}
		e.Cost = costForMode(e, mode, weightField)
		network.AddEdge(e)
		network.AddEdge(reversed(e))
	}

	effectiveWeight := weightField
	if mode == internalgraph.ModeWalking {
		effectiveWeight = internalgraph.WeightCost // cost already holds length/walkingSpeed
	}

	result, err := internalgraph.ShortestPath(network, startJunction, endJunction, effectiveWeight)
	if err != nil {
		return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "shortest_path_from_gates failed").WithCause(err)
	}
	if !result.Found {
		return dispatcher.Text("No path found between the requested gates."), nil
	}

	merged := internalgraph.MergeConsecutive(result.Path)
	includeDetails, _ := args["includeRoadDetails"].(bool)
	summary := fmt.Sprintf(
		"Visited %d junction(s). Total distance: %.2f m. Total cost: %.2f.",
		result.VisitedCount, result.TotalDistance, result.TotalCost,
	)
	if !includeDetails {
		return dispatcher.Text(summary), nil
	}
	return dispatcher.UntrustedJSON(summary, merged), nil
}

type namedRoad struct {
	internalgraph.Edge
	startLat, startLon, endLat, endLon float64
}

// loadRoadDocs loads every LineString road, excluding driving-incompatible
// categories when mode is driving (spec.md §4.6 step 2).
func loadRoadDocs(ctx context.Context, provider mongoprovider.Provider, db, coll string, mode internalgraph.TravelMode) ([]namedRoad, error) {
	cur, err := provider.Find(ctx, db, coll, bson.M{"geometry.type": "LineString"}, mongoprovider.FindOptions{})
	if err != nil {
		return nil, toolerrors.New(toolerrors.Unexpected, "failed to load roads").WithCause(err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []namedRoad
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, toolerrors.New(toolerrors.Unexpected, "failed to decode road document").WithCause(err)
		}
		edge := edgeFromDoc(doc)
		if mode == internalgraph.ModeDriving && internalgraph.ExcludedForDriving(edge.Category) {
			continue
		}
		var coords bson.A
		if geom, ok := doc["geometry"].(bson.M); ok {
			coords, _ = geom["coordinates"].(bson.A)
		}
		r := namedRoad{Edge: edge}
		if len(coords) >= 2 {
			if start, ok := coords[0].(bson.A); ok && len(start) == 2 {
				r.startLon, _ = start[0].(float64)
				r.startLat, _ = start[1].(float64)
			}
			if end, ok := coords[len(coords)-1].(bson.A); ok && len(end) == 2 {
				r.endLon, _ = end[0].(float64)
				r.endLat, _ = end[1].(float64)
			}
		}
		out = append(out, r)
	}
	if err := cur.Err(); err != nil {
		return nil, toolerrors.New(toolerrors.Unexpected, "road cursor error").WithCause(err)
	}
	return out, nil
}

func costForMode(e internalgraph.Edge, mode internalgraph.TravelMode, weightField internalgraph.WeightField) float64 {
	if mode == internalgraph.ModeWalking {
		return e.Length / internalgraph.SpeedForMode(mode, e)
	}
	if weightField == internalgraph.WeightLength {
		return e.Length
	}
	return e.Cost
}

func findGateForRoad(ctx context.Context, provider mongoprovider.Provider, db, coll string, roadID, aoiID int64, mode internalgraph.TravelMode) (internalgraph.Gate, error) {
	cur, err := provider.Find(ctx, db, coll, bson.M{"roadId": roadID, "aoiId": aoiID}, mongoprovider.FindOptions{Limit: 1})
	if err != nil {
		return internalgraph.Gate{}, toolerrors.New(toolerrors.Unexpected, "failed to query gate").WithCause(err)
	}
	defer func() { _ = cur.Close(ctx) }()

	if !cur.Next(ctx) {
		return internalgraph.Gate{}, toolerrors.New(toolerrors.InvalidArguments, fmt.Sprintf("no gate found for road %d in AOI %d", roadID, aoiID))
	}
	var doc bson.M
	if err := cur.Decode(&doc); err != nil {
		return internalgraph.Gate{}, toolerrors.New(toolerrors.Unexpected, "failed to decode gate document").WithCause(err)
	}

	gateType, _ := doc["type"].(string)
	lat, lon := coordsFromDoc(doc)
	gate := internalgraph.Gate{RoadID: roadID, AOIID: aoiID, Type: gateType, Latitude: lat, Longitude: lon}
	if !gate.AllowsMode(mode) {
		return internalgraph.Gate{}, toolerrors.New(toolerrors.InvalidArguments, fmt.Sprintf("gate on road %d does not allow %s travel", roadID, mode))
	}
	return gate, nil
}

func coordsFromDoc(doc bson.M) (lat, lon float64) {
	coords, _ := doc["coordinates"].(bson.A)
	if len(coords) == 2 {
		lon, _ = coords[0].(float64)
		lat, _ = coords[1].(float64)
	}
	return lat, lon
}

// splitSiblingsAtGate resolves the junction for one gate. If any loaded road
// starts or ends within tolerance of the gate's coordinates, that endpoint
// junction is reused. Otherwise every loaded road whose ID is the gate's
// RoadID is split at the gate onto one synthetic junction. Roads with a
// different ID whose own gates lie at the same coordinates (the other
// carriageway of a divided road) are not looked up and are not split.
func splitSiblingsAtGate(network *internalgraph.Network, roads []namedRoad, gate internalgraph.Gate, allocator *internalgraph.JunctionAllocator, mode internalgraph.TravelMode) (int64, error) {
	var siblings []namedRoad
	for _, r := range roads {
		if internalgraph.CoordinatesWithinTolerance(r.startLat, r.startLon, gate.Latitude, gate.Longitude) {
			return r.From, nil
		}
		if internalgraph.CoordinatesWithinTolerance(r.endLat, r.endLon, gate.Latitude, gate.Longitude) {
			return r.To, nil
		}
		if r.ID == gate.RoadID {
			siblings = append(siblings, r)
		}
	}
	if len(siblings) == 0 {
		return 0, toolerrors.New(toolerrors.InvalidArguments, fmt.Sprintf("road %d not found in network", gate.RoadID))
	}

	junction := allocator.JunctionFor(gate.Latitude, gate.Longitude)
	for _, r := range siblings {
		fromHalf, toHalf := internalgraph.SplitRoadAtGate(
			r.Edge, gate.Latitude, gate.Longitude,
			r.startLat, r.startLon, r.endLat, r.endLon,
			mode, junction,
		)
		network.AddEdge(fromHalf.Edge)
		network.AddEdge(reversed(fromHalf.Edge))
		network.AddEdge(toHalf.Edge)
		network.AddEdge(reversed(toHalf.Edge))
	}
	return junction, nil
}

func getAOIsByPOITool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "get_aois_by_poi",
			Category:      toolspec.CategoryGraph,
			OperationType: toolspec.OperationRead,
			Description:   "Find areas of interest whose name matches a point-of-interest query, exact or fuzzy.",
			Args: schema("get_aois_by_poi", `{
				"type": "object",
				"properties": {
					"database": {"type": "string"},
					"collection": {"type": "string"},
					"name": {"type": "string"},
					"fuzzy": {"type": "boolean", "default": true}
				},
				"required": ["database", "collection", "name"],
				"additionalProperties": false
			}`),
		},
		Execute: regexLookup("name"),
	}
}

func getRoadsByAOITool() dispatcher.Tool {
	return dispatcher.Tool{
		Spec: toolspec.Spec{
			Name:          "get_roads_by_aoi",
			Category:      toolspec.CategoryGraph,
			OperationType: toolspec.OperationRead,
			Description:   "Find roads belonging to an area of interest whose name matches a query, exact or fuzzy.",
			Args: schema("get_roads_by_aoi", `{
				"type": "object",
				"properties": {
					"database": {"type": "string"},
					"collection": {"type": "string"},
					"name": {"type": "string"},
					"fuzzy": {"type": "boolean", "default": true}
				},
				"required": ["database", "collection", "name"],
				"additionalProperties": false
			}`),
		},
		Execute: regexLookup("name"),
	}
}

// regexLookup builds an Execute function performing a read-only name match
// (spec.md §4.6 "get_aois_by_poi and get_roads_by_aoi"): exact when
// fuzzy=false, case-insensitive substring regex otherwise.
func regexLookup(field string) dispatcher.Execute {
	return func(ctx *dispatcher.ExecutionContext, args map[string]any) (dispatcher.Result, error) {
		provider, err := ctx.Sessions.EnsureConnected(ctx, ctx.SessionID)
		if err != nil {
			return dispatcher.Result{}, err
		}
		db, coll := args["database"].(string), args["collection"].(string)
		name := args["name"].(string)
		fuzzy := true
		if v, ok := args["fuzzy"].(bool); ok {
			fuzzy = v
		}

		var filter bson.M
		if fuzzy {
			filter = bson.M{field: bson.M{"$regex": regexp.QuoteMeta(name), "$options": "i"}}
		} else {
			filter = bson.M{field: name}
		}

		cur, err := provider.Find(ctx, db, coll, filter, mongoprovider.FindOptions{})
		if err != nil {
			return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "lookup failed").WithCause(err)
		}
		defer func() { _ = cur.Close(ctx) }()

		var docs []bson.M
		for cur.Next(ctx) {
			var doc bson.M
			if err := cur.Decode(&doc); err != nil {
				return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "failed to decode lookup result").WithCause(err)
			}
			docs = append(docs, doc)
		}
		if err := cur.Err(); err != nil {
			return dispatcher.Result{}, toolerrors.New(toolerrors.Unexpected, "lookup cursor error").WithCause(err)
		}
		return dispatcher.UntrustedJSON(fmt.Sprintf("Found %d matching document(s).", len(docs)), docs), nil
	}
}
