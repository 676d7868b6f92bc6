package document

import (
	"reflect"
	"slices"
	"sort"
)

// Diff returns the sorted dot-paths of every leaf that differs between old
// and new. Arrays are compared as a whole and reported by their own path;
// a subtree that was added or removed reports each of its leaves.
func Diff(old, new Document) []string {
	var out []string
	diffMaps("", map[string]any(old), map[string]any(new), &out)
	sort.Strings(out)
	return slices.Compact(out)
}

func diffMaps(prefix string, a, b map[string]any, out *[]string) {
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			leaves(join(prefix, k), av, out)
			continue
		}
		diffValues(join(prefix, k), av, bv, out)
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			leaves(join(prefix, k), bv, out)
		}
	}
}

func diffValues(path string, a, b any, out *[]string) {
	am, aok := asMap(a)
	bm, bok := asMap(b)
	if aok && bok {
		diffMaps(path, am, bm, out)
		return
	}
	if reflect.DeepEqual(a, b) {
		return
	}
	leaves(path, a, out)
	leaves(path, b, out)
}

func leaves(path string, v any, out *[]string) {
	m, ok := asMap(v)
	if !ok || len(m) == 0 {
		*out = append(*out, path)
		return
	}
	for k, c := range m {
		leaves(join(path, k), c, out)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
