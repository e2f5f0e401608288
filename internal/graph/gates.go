package graph

// TravelMode selects walking vs driving semantics for gate-based routing
// (spec.md §4.6).
type TravelMode string

const (
	ModeWalking TravelMode = "walking"
	ModeDriving TravelMode = "driving"
)

const (
	walkingSpeedMPS       = 1.4
	defaultDrivingSpeedMPS = 8.33
)

var drivingExcludedCategories = map[string]bool{
	"footway": true, "cycleway": true, "steps": true,
}

// Gate is one access point on a road, associated with an AOI.
type Gate struct {
	RoadID    int64
	AOIID     int64
	Type      string // "driving" or "walking"
	Latitude  float64
	Longitude float64
}

// AllowsMode reports whether this gate can be used for the given travel
// mode: a driving gate is usable when walking (drivable implies walkable),
// but a walking gate cannot be used when driving.
func (g Gate) AllowsMode(mode TravelMode) bool {
	if mode == ModeDriving {
		return g.Type == "driving"
	}
	return true
}

// RoadEndpoint identifies one side of a road.
type RoadEndpoint struct {
	RoadID int64
	Side   Side
}

// Side distinguishes the two ends of a road edge.
type Side int

const (
	SideFrom Side = iota
	SideTo
)

// JunctionAllocator hands out synthetic junction IDs for gate splits. IDs
// are keyed by the gate's (lat, lon), so every sibling road split at the
// same gate location resolves to the same synthetic junction. Each new
// location takes the next value of a counter that starts just above the
// base given to NewJunctionAllocator; allocated IDs are not checked against
// native junction IDs, so keeping the two apart rests on that base.
//
// Split edge IDs are separate: SplitID derives them from the original road
// ID by fixed offsets (origID+1e10 for the from-side, origID+2e10 for the
// to-side).
type JunctionAllocator struct {
	bySharedGate map[sharedGateKey]int64
	next         int64
}

type sharedGateKey struct {
	lat, lon float64
}

// NewJunctionAllocator constructs an allocator. base seeds the synthetic ID
// counter: the first junction handed out is base+1, the next base+2, and so on.
func NewJunctionAllocator(base int64) *JunctionAllocator {
	return &JunctionAllocator{bySharedGate: make(map[sharedGateKey]int64), next: base}
}

// SplitID returns the synthetic edge ID for one side of one road's split,
// per the documented offset convention.
func SplitID(roadID int64, side Side) int64 {
	if side == SideFrom {
		return roadID + 10_000_000_000
	}
	return roadID + 20_000_000_000
}

// JunctionFor returns the synthetic junction shared by every sibling road
// split at the same physical gate location, allocating one on first use.
// The key is the exact lat/lon passed in; no rounding is applied, so only
// identical coordinates share a junction.
func (a *JunctionAllocator) JunctionFor(lat, lon float64) int64 {
	key := sharedGateKey{lat: lat, lon: lon}
	if id, ok := a.bySharedGate[key]; ok {
		return id
	}
	a.next++
	a.bySharedGate[key] = a.next
	return a.next
}

// SplitEdge is one half of a road split at a gate.
type SplitEdge struct {
	Edge        Edge
	SyntheticID int64
}

// SpeedForMode returns the travel speed (m/s) used to derive a split edge's
// cost, per spec.md §4.6 step 4.
func SpeedForMode(mode TravelMode, road Edge) float64 {
	if mode == ModeWalking {
		return walkingSpeedMPS
	}
	if road.MaxSpeed <= 0 {
		return defaultDrivingSpeedMPS
	}
	return road.MaxSpeed
}

// ExcludedForDriving reports whether a road category is excluded from the
// driving-mode network (spec.md §4.6 step 2).
func ExcludedForDriving(category string) bool {
	return drivingExcludedCategories[category]
}

// SplitRoadAtGate splits one road into two edges at the given gate point,
// proportioning length by haversine distance to each original endpoint and
// deriving cost from the mode's speed (spec.md §4.6 step 4). fromLat/fromLon
// and toLat/toLon are the road's original endpoint coordinates.
func SplitRoadAtGate(
	road Edge,
	gateLat, gateLon float64,
	fromLat, fromLon, toLat, toLon float64,
	mode TravelMode,
	synthetic int64,
) (fromHalf, toHalf SplitEdge) {
	distFromStart := HaversineDistance(fromLat, fromLon, gateLat, gateLon)
	distToEnd := HaversineDistance(gateLat, gateLon, toLat, toLon)
	if total := distFromStart + distToEnd; total > 0 && road.Length > 0 {
		distFromStart = road.Length * distFromStart / total
		distToEnd = road.Length - distFromStart
	}
	speed := SpeedForMode(mode, road)

	fromEdge := Edge{
		ID: SplitID(road.ID, SideFrom), From: road.From, To: synthetic,
		Length: distFromStart, Cost: distFromStart / speed,
		Name: road.Name, Category: road.Category, MaxSpeed: road.MaxSpeed,
	}
	toEdge := Edge{
		ID: SplitID(road.ID, SideTo), From: synthetic, To: road.To,
		Length: distToEnd, Cost: distToEnd / speed,
		Name: road.Name, Category: road.Category, MaxSpeed: road.MaxSpeed,
	}
	return SplitEdge{Edge: fromEdge, SyntheticID: synthetic}, SplitEdge{Edge: toEdge, SyntheticID: synthetic}
}

// MergeStep is one entry in a post-processed path where consecutive edges
// sharing (name, category, maxSpeed) have been summed together (spec.md
// §4.6 step 6).
type MergeStep struct {
	Name     string
	Category string
	MaxSpeed float64
	Length   float64
	Cost     float64
	FromJunction int64
	ToJunction   int64
}

// MergeConsecutive collapses a path's edges wherever adjacent edges share
// (name, category, maxSpeed) and the predecessor's To equals the
// successor's From, summing length and cost.
func MergeConsecutive(path []PathStep) []MergeStep {
	var merged []MergeStep
	for _, step := range path {
		e := step.Edge
		if n := len(merged); n > 0 {
			last := &merged[n-1]
			if last.Name == e.Name && last.Category == e.Category && last.MaxSpeed == e.MaxSpeed && last.ToJunction == e.From {
				last.Length += e.Length
				last.Cost += e.Cost
				last.ToJunction = e.To
				continue
			}
		}
		merged = append(merged, MergeStep{
			Name: e.Name, Category: e.Category, MaxSpeed: e.MaxSpeed,
			Length: e.Length, Cost: e.Cost,
			FromJunction: e.From, ToJunction: e.To,
		})
	}
	return merged
}
