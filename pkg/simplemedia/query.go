package simplemedia

import (
	"sort"
	"strings"
)

const (
	// DefaultPageLimit is used when a request does not set a limit
	DefaultPageLimit = 20
	// MaxPageLimit caps any requested page size
	MaxPageLimit = 100
)

// ClampPage returns page and limit forced into their valid ranges:
// page >= 1 and 1 <= limit <= MaxPageLimit. A zero limit means the default.
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

// FilterByType keeps assets whose MIME type starts with prefix. An empty
// prefix keeps everything.
func FilterByType(assets []*Asset, prefix string) []*Asset {
	if prefix == "" {
		return assets
	}
	prefix = strings.ToLower(prefix)
	out := make([]*Asset, 0, len(assets))
	for _, a := range assets {
		if strings.HasPrefix(strings.ToLower(a.MimeType), prefix) {
			out = append(out, a)
		}
	}
	return out
}

// SortAssets orders assets in place by field. Unknown fields sort by creation
// time; an empty order means descending.
func SortAssets(assets []*Asset, field SortField, order SortOrder) {
	less := func(a, b *Asset) int {
		switch field {
		case SortByTitle:
			return strings.Compare(a.Title, b.Title)
		case SortByFileSize:
			return compareNumbers(float64(a.FileSize), float64(b.FileSize))
		case SortByDuration:
			return compareNumbers(durationOf(a), durationOf(b))
		default:
			return compareTimes(a, b)
		}
	}
	desc := order != OrderAsc
	sort.SliceStable(assets, func(i, j int) bool {
		c := less(assets[i], assets[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func durationOf(a *Asset) float64 {
	if a.Duration == nil {
		return 0
	}
	return *a.Duration
}

func compareNumbers(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareTimes(a, b *Asset) int {
	switch {
	case a.CreatedAt.Before(b.CreatedAt):
		return -1
	case a.CreatedAt.After(b.CreatedAt):
		return 1
	}
	return 0
}

// Paginate returns the page-th slice of limit assets along with the total.
// Page and limit must already be clamped.
func Paginate(assets []*Asset, page, limit int) *AssetPage {
	total := len(assets)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return &AssetPage{
		Assets: append([]*Asset{}, assets[start:end]...),
		Total:  total,
		Page:   page,
		Limit:  limit,
	}
}

// IsValidJobName reports whether name satisfies the platform rule ^[a-z0-9]+$.
func IsValidJobName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !(c >= 'a' && c <= 'z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
