package aggregate

import "strings"

// CostCategoryRule is one row of reporting_ocp_cost_category: a namespace
// glob pattern mapped to a category id.
type CostCategoryRule struct {
	ID               int64
	Name             string
	NamespacePattern string
}

// MatchCostCategory collects every rule whose pattern matches namespace
// and picks the MAX id. Only '*' is supported as a wildcard; '?' is
// treated as a literal character (see DESIGN.md).
func MatchCostCategory(namespace string, rules []CostCategoryRule) *int64 {
	var best *int64
	for _, r := range rules {
		if globStarMatch(r.NamespacePattern, namespace) {
			if best == nil || r.ID > *best {
				id := r.ID
				best = &id
			}
		}
	}
	return best
}

// globStarMatch reports whether s matches pattern, where '*' matches any
// (possibly empty) run of characters and every other character must match
// literally. This is a minimal matcher rather than filepath.Match because
// filepath.Match also special-cases '?' and '[...]' and path separators,
// none of which apply to a namespace-pattern match.
func globStarMatch(pattern, s string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return pattern == s
	}

	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]

	last := len(segments) - 1
	if !strings.HasSuffix(s, segments[last]) {
		return false
	}
	if last > 0 {
		s = s[:len(s)-len(segments[last])]
	}

	for _, seg := range segments[1:last] {
		if seg == "" {
			continue
		}
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}
	return true
}
