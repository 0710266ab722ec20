package schemas

import "sort"

// Parameters is the caller-supplied map of workflow parameters referenced by
// action params as %KEY% or parameters['KEY'].
type Parameters map[string]string

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
