package agui

import (
	"reflect"
	"sort"
	"strings"
)

// PatchOp is one JSON-Patch operation inside a StateDelta event. Paths
// follow RFC 6901 JSON Pointer syntax.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// escapePointer escapes one path segment per RFC 6901: "~" becomes "~0"
// before "/" becomes "~1", in that order.
func escapePointer(segment string) string {
	segment = strings.ReplaceAll(segment, "~", "~0")
	return strings.ReplaceAll(segment, "/", "~1")
}

// diffState computes the patch turning before into after. Nested maps
// diff recursively; everything else compares as a whole value. Keys are
// visited in sorted order so the output is deterministic.
func diffState(before, after map[string]any) []PatchOp {
	return diffMaps("", before, after)
}

func diffMaps(prefix string, before, after map[string]any) []PatchOp {
	var ops []PatchOp

	keys := make([]string, 0, len(after))
	for k := range after {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		path := prefix + "/" + escapePointer(k)
		next := after[k]
		prev, existed := before[k]
		if !existed {
			ops = append(ops, PatchOp{Op: "add", Path: path, Value: next})
			continue
		}
		prevMap, prevIsMap := prev.(map[string]any)
		nextMap, nextIsMap := next.(map[string]any)
		if prevIsMap && nextIsMap {
			ops = append(ops, diffMaps(path, prevMap, nextMap)...)
			continue
		}
		if !reflect.DeepEqual(prev, next) {
			ops = append(ops, PatchOp{Op: "replace", Path: path, Value: next})
		}
	}

	removed := make([]string, 0, len(before))
	for k := range before {
		if _, kept := after[k]; !kept {
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	for _, k := range removed {
		ops = append(ops, PatchOp{Op: "remove", Path: prefix + "/" + escapePointer(k)})
	}
	return ops
}
