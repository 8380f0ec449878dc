// Package fusion merges partially extracted business records into one
// consolidated tree. Leaf fields carry {value, confidence} and are resolved
// by highest confidence; lists concatenate and structural maps merge
// recursively.
package fusion

import (
	"strconv"
)

// IsLeaf reports whether m is a {value, confidence} leaf. Up to one extra
// key (e.g. a source tag) is tolerated.
func IsLeaf(m map[string]any) bool {
	if m == nil {
		return false
	}
	_, hasValue := m["value"]
	_, hasConf := m["confidence"]
	return hasValue && hasConf && len(m) <= 3
}

// ResolveLeaf picks between two leaves. The higher confidence wins; on a tie
// the existing leaf is kept unless its value is null and the incoming one is
// not. Equal inputs always resolve to the existing leaf, so resolution order
// is deterministic.
func ResolveLeaf(existing, incoming map[string]any) map[string]any {
	ce := confidenceOf(existing["confidence"])
	ci := confidenceOf(incoming["confidence"])

	if ci > ce {
		return incoming
	}
	if ce > ci {
		return existing
	}
	if existing["value"] == nil && incoming["value"] != nil {
		return incoming
	}
	return existing
}

// Merge merges src into dest in place: lists concatenate, leaf maps resolve
// by confidence, structural maps recurse, and scalars prefer the non-null
// incoming value.
func Merge(dest, src map[string]any) {
	for key, sVal := range src {
		dVal, ok := dest[key]
		if !ok || dVal == nil {
			dest[key] = cloneValue(sVal)
			continue
		}

		if dList, okD := dVal.([]any); okD {
			if sList, okS := sVal.([]any); okS {
				merged := make([]any, 0, len(dList)+len(sList))
				merged = append(merged, dList...)
				for _, item := range sList {
					merged = append(merged, cloneValue(item))
				}
				dest[key] = merged
				continue
			}
		}

		if dMap, okD := dVal.(map[string]any); okD {
			if sMap, okS := sVal.(map[string]any); okS {
				if IsLeaf(dMap) && IsLeaf(sMap) {
					dest[key] = cloneValue(ResolveLeaf(dMap, sMap)).(map[string]any)
				} else {
					Merge(dMap, sMap)
				}
				continue
			}
		}

		if sVal != nil {
			dest[key] = cloneValue(sVal)
		}
	}
}

// Fuse folds any number of sources into a fresh map, earliest source first.
// Inputs are never mutated; nil sources are skipped.
func Fuse(sources ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, src := range sources {
		if len(src) == 0 {
			continue
		}
		Merge(merged, src)
	}
	return merged
}

// confidenceOf coerces a confidence field to int, tolerating the numeric
// types JSON decoding produces. Unparseable values count as 0.
func confidenceOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return 0
}

// cloneValue deep-copies maps and lists so fused output never aliases a
// source tree.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
