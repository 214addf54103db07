package model

import (
	"reflect"
	"sort"
)

// DeepMerge returns base with patch applied key-wise. Nested objects merge
// recursively; any other value in patch replaces the one in base. Inputs are not modified.
func DeepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		next, ok := v.(map[string]any)
		prev, prevOK := out[k].(map[string]any)
		if ok && prevOK {
			out[k] = DeepMerge(prev, next)
			continue
		}
		out[k] = v
	}
	return out
}

// Leaves flattens nested objects into dotted paths.
func Leaves(m map[string]any) map[string]any {
	out := make(map[string]any)
	flatten("", m, out)
	return out
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flatten(path, nested, out)
			continue
		}
		out[path] = v
	}
}

// LeafChange is a single differing path between two snapshots.
type LeafChange struct {
	Path string
	Old  any
	New  any
}

// DiffLeaves lists the paths of after whose values differ from before, sorted by path.
// Paths only present in before are not reported.
func DiffLeaves(before, after map[string]any) []LeafChange {
	oldLeaves := Leaves(before)
	var changes []LeafChange
	for path, value := range Leaves(after) {
		old, ok := oldLeaves[path]
		if ok && reflect.DeepEqual(old, value) {
			continue
		}
		changes = append(changes, LeafChange{Path: path, Old: old, New: value})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}
