package model

import (
	"slices"
	"strings"
)

// NormalizeHostName lower cases and trims a DNS name.
func NormalizeHostName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ContainsHostName reports whether names contains name, ignoring case.
func ContainsHostName(names []string, name string) bool {
	name = NormalizeHostName(name)
	return slices.ContainsFunc(names, func(n string) bool {
		return NormalizeHostName(n) == name
	})
}

// IntersectsHostNames reports whether a and b share at least one name,
// ignoring case.
func IntersectsHostNames(a, b []string) bool {
	for _, name := range a {
		if ContainsHostName(b, name) {
			return true
		}
	}
	return false
}

// EqualHostNames reports whether a and b hold the same set of names. Order,
// case and duplicates are ignored.
func EqualHostNames(a, b []string) bool {
	return slices.Equal(hostNameSet(a), hostNameSet(b))
}

// MatchingHostNames returns the names of want that are also in have,
// keeping the order of want.
func MatchingHostNames(want, have []string) []string {
	var matches []string
	for _, name := range want {
		if ContainsHostName(have, name) {
			matches = append(matches, name)
		}
	}
	return matches
}

func hostNameSet(names []string) []string {
	set := make([]string, 0, len(names))
	for _, name := range names {
		set = append(set, NormalizeHostName(name))
	}
	slices.Sort(set)
	return slices.Compact(set)
}
