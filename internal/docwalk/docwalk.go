// Package docwalk provides generic dotted-path helpers over map[string]any
// documents, used by the embeddings manager to rewrite insert/query
// documents in place (spec.md §4.3(c), §4.3(d)). Grounded on the teacher's
// plain bson.M document handling in features/run/mongo/search, generalized
// into a reusable dotted-key walker.
package docwalk

import "strings"

// Get reads the value at a dotted path (e.g. "a.b.c") from doc. ok is false
// if any intermediate segment is absent or not a map.
func Get(doc map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	cur := any(doc)
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Delete removes the value at a dotted path. If an intermediate key is
// absent, Delete is a no-op (spec.md §4.3(c)).
func Delete(doc map[string]any, path string) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return
	}
	cur := doc
	for _, seg := range segments[:len(segments)-1] {
		next, ok := cur[seg]
		if !ok {
			return
		}
		m, ok := next.(map[string]any)
		if !ok {
			return
		}
		cur = m
	}
	delete(cur, segments[len(segments)-1])
}

// SetTopLevel assigns value to doc[path] as a single top-level key with the
// dots preserved literally — it does NOT create nested maps. This matches
// spec.md §4.3(c): "Assign the generated vector to D[i][fieldPath] as a
// top-level key with dots preserved literally."
func SetTopLevel(doc map[string]any, path string, value any) {
	doc[path] = value
}
