package aggregation

import "strings"

func isDeficiencySeparator(r rune) bool {
	switch r {
	case '\n', '\r', ';', ',', ':':
		return true
	default:
		return false
	}
}

// UnionDeficiencies splits the reviewers' deficiency descriptions into items and returns
// their case-insensitive union, keeping the first spelling seen and the order of first
// appearance.
func UnionDeficiencies(texts []string) []string {
	seen := make(map[string]struct{})
	var items []string

	for _, text := range texts {
		for _, part := range strings.FieldsFunc(text, isDeficiencySeparator) {
			item := strings.TrimSpace(part)
			if item == "" {
				continue
			}
			key := strings.ToLower(item)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			items = append(items, item)
		}
	}
	return items
}
