package docwalk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mongodb-tool-broker/broker/internal/docwalk"
)

func TestGetNested(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": map[string]any{"c": "text"}}}
	v, ok := docwalk.Get(doc, "a.b.c")
	assert.True(t, ok)
	assert.Equal(t, "text", v)
}

func TestGetMissingIntermediate(t *testing.T) {
	doc := map[string]any{"a": "not-a-map"}
	_, ok := docwalk.Get(doc, "a.b.c")
	assert.False(t, ok)
}

func TestDeleteNestedValue(t *testing.T) {
	doc := map[string]any{"a": map[string]any{"b": "text", "keep": 1}}
	docwalk.Delete(doc, "a.b")
	nested := doc["a"].(map[string]any)
	_, ok := nested["b"]
	assert.False(t, ok)
	assert.Equal(t, 1, nested["keep"])
}

func TestDeleteAbsentIntermediateIsNoop(t *testing.T) {
	doc := map[string]any{"x": 1}
	docwalk.Delete(doc, "a.b.c")
	assert.Equal(t, map[string]any{"x": 1}, doc)
}

func TestSetTopLevelPreservesDots(t *testing.T) {
	doc := map[string]any{}
	docwalk.SetTopLevel(doc, "a.b.vector", []float64{1, 2, 3})
	assert.Contains(t, doc, "a.b.vector")
	assert.NotContains(t, doc, "a")
}
