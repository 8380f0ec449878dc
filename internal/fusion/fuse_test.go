package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(value, confidence any) map[string]any {
	return map[string]any{"value": value, "confidence": confidence}
}

func TestIsLeaf(t *testing.T) {
	assert.True(t, IsLeaf(leaf("1FTEX1C88AFB12345", 5)))
	assert.True(t, IsLeaf(map[string]any{"value": "x", "confidence": 3, "source": "ocr"}))

	// A structural map that happens to contain value/confidence plus two more
	// keys is not a leaf.
	assert.False(t, IsLeaf(map[string]any{"value": 1, "confidence": 2, "a": 3, "b": 4}))
	assert.False(t, IsLeaf(map[string]any{"value": 1}))
	assert.False(t, IsLeaf(nil))
}

func TestResolveLeaf_HigherConfidenceWins(t *testing.T) {
	low := leaf("FORD", 3)
	high := leaf("F0RD", 5)

	assert.Equal(t, high, ResolveLeaf(low, high))
	assert.Equal(t, high, ResolveLeaf(high, low))
}

func TestResolveLeaf_TieKeepsExisting(t *testing.T) {
	a := leaf("2015", 4)
	b := leaf("2016", 4)

	assert.Equal(t, a, ResolveLeaf(a, b))
	// Determinism: the same pair resolves the same way every time.
	assert.Equal(t, a, ResolveLeaf(a, b))
}

func TestResolveLeaf_TiePrefersNonNull(t *testing.T) {
	empty := leaf(nil, 3)
	filled := leaf("HONDA", 3)

	assert.Equal(t, filled, ResolveLeaf(empty, filled))
	assert.Equal(t, filled, ResolveLeaf(filled, empty))
}

func TestResolveLeaf_FloatConfidence(t *testing.T) {
	// JSON decoding yields float64 confidences.
	a := leaf("A", float64(2))
	b := leaf("B", float64(5))
	assert.Equal(t, b, ResolveLeaf(a, b))
}

func TestMerge_ListsConcatenate(t *testing.T) {
	dest := map[string]any{
		"assignment_of_vehicle": []any{map[string]any{"assignee": "Alice"}},
	}
	src := map[string]any{
		"assignment_of_vehicle": []any{map[string]any{"assignee": "Bob"}},
	}

	Merge(dest, src)
	list, ok := dest["assignment_of_vehicle"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, "Alice", list[0].(map[string]any)["assignee"])
	assert.Equal(t, "Bob", list[1].(map[string]any)["assignee"])
}

func TestMerge_StructuralMapsRecurse(t *testing.T) {
	dest := map[string]any{
		"title_information": map[string]any{
			"vehicle_id_number": leaf("1FTEX1C88AFB12345", 5),
			"year":              leaf(nil, 1),
		},
	}
	src := map[string]any{
		"title_information": map[string]any{
			"vehicle_id_number": leaf("1FTEX1C88AFB1234O", 2),
			"year":              leaf(2015, 5),
			"make":              leaf("FORD", 5),
		},
	}

	Merge(dest, src)
	info := dest["title_information"].(map[string]any)
	assert.Equal(t, leaf("1FTEX1C88AFB12345", 5), info["vehicle_id_number"])
	assert.Equal(t, leaf(2015, 5), info["year"])
	assert.Equal(t, leaf("FORD", 5), info["make"])
}

func TestMerge_ScalarPrefersNonNullIncoming(t *testing.T) {
	dest := map[string]any{"note": "keep"}
	Merge(dest, map[string]any{"note": nil})
	assert.Equal(t, "keep", dest["note"])

	Merge(dest, map[string]any{"note": "replace"})
	assert.Equal(t, "replace", dest["note"])
}

func TestFuse_DoesNotMutateSources(t *testing.T) {
	a := map[string]any{
		"owner_information": map[string]any{"name": leaf("Alice", 3)},
		"tags":              []any{"x"},
	}
	b := map[string]any{
		"owner_information": map[string]any{"name": leaf("Bob", 5)},
		"tags":              []any{"y"},
	}

	fused := Fuse(a, b)
	fused["owner_information"].(map[string]any)["name"].(map[string]any)["value"] = "mutated"
	fused["tags"].([]any)[0] = "mutated"

	assert.Equal(t, "Alice", a["owner_information"].(map[string]any)["name"].(map[string]any)["value"])
	assert.Equal(t, "Bob", b["owner_information"].(map[string]any)["name"].(map[string]any)["value"])
	assert.Equal(t, "x", a["tags"].([]any)[0])
	assert.Equal(t, "y", b["tags"].([]any)[0])
}

func TestFuse_Deterministic(t *testing.T) {
	a := map[string]any{"f": leaf("A", 4)}
	b := map[string]any{"f": leaf("B", 4)}

	first := Fuse(a, b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Fuse(a, b))
	}
	// The earlier source wins the tie.
	assert.Equal(t, "A", first["f"].(map[string]any)["value"])
}

func TestFuse_SkipsNilSources(t *testing.T) {
	fused := Fuse(nil, map[string]any{"f": leaf("A", 2)}, nil)
	assert.Equal(t, "A", fused["f"].(map[string]any)["value"])
}
