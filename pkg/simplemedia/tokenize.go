package simplemedia

import (
	"strings"
	"unicode/utf8"
)

// minWordLength is the shortest token kept by Tokenize.
const minWordLength = 2

// isWordRune accepts ASCII letters and digits plus the Latin-1 Supplement and
// Latin Extended-A/B letters (U+00C0..U+024F). Input is lowercased first.
func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r >= 0x00C0 && r <= 0x024F:
		return r != 0x00D7 && r != 0x00F7
	}
	return false
}

// Tokenize splits text into unique lowercase words of at least two runes, in
// first-seen order. Index and query sides share it.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isWordRune(r)
	})
	seen := make(map[string]struct{}, len(fields))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minWordLength {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		words = append(words, f)
	}
	return words
}

// AssetWords returns the searchable words of an asset's title, description and tags.
func AssetWords(a *Asset) []string {
	parts := make([]string, 0, len(a.Tags)+2)
	parts = append(parts, a.Title, a.Description)
	parts = append(parts, a.Tags...)
	return Tokenize(strings.Join(parts, " "))
}

// NormalizeTag case-folds and trims a tag.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// NormalizeTags returns the unique non-empty case-folded tags in order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		n := NormalizeTag(t)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Diff returns the members of next missing from prev (added) and the members
// of prev missing from next (removed).
func Diff(prev, next []string) (added, removed []string) {
	in := func(set []string) map[string]struct{} {
		m := make(map[string]struct{}, len(set))
		for _, s := range set {
			m[s] = struct{}{}
		}
		return m
	}
	prevSet, nextSet := in(prev), in(next)
	for _, s := range next {
		if _, ok := prevSet[s]; !ok {
			added = append(added, s)
			prevSet[s] = struct{}{}
		}
	}
	for _, s := range prev {
		if _, ok := nextSet[s]; !ok {
			removed = append(removed, s)
			nextSet[s] = struct{}{}
		}
	}
	return added, removed
}
