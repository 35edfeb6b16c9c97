package simplemedia_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

func TestClampPage(t *testing.T) {
	tests := []struct {
		name              string
		page, limit       int
		wantPage, wantLim int
	}{
		{"Defaults", 0, 0, 1, simplemedia.DefaultPageLimit},
		{"LimitTooLarge", 1, 200, 1, 100},
		{"NegativeLimit", 3, -5, 3, 1},
		{"NegativePage", -2, 10, 1, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, limit := simplemedia.ClampPage(tt.page, tt.limit)
			assert.Equal(t, tt.wantPage, page)
			assert.Equal(t, tt.wantLim, limit)
		})
	}
}

func TestSortAssets(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := 12.5
	a := &simplemedia.Asset{ID: "a", Title: "Zulu", FileSize: 10, CreatedAt: base}
	b := &simplemedia.Asset{ID: "b", Title: "Alpha", FileSize: 30, CreatedAt: base.Add(time.Hour), Duration: &d}
	c := &simplemedia.Asset{ID: "c", Title: "Mike", FileSize: 20, CreatedAt: base.Add(2 * time.Hour)}

	ids := func(assets []*simplemedia.Asset) []string {
		out := make([]string, len(assets))
		for i, x := range assets {
			out[i] = x.ID
		}
		return out
	}

	t.Run("CreatedAtDescByDefault", func(t *testing.T) {
		list := []*simplemedia.Asset{a, b, c}
		simplemedia.SortAssets(list, "", "")
		assert.Equal(t, []string{"c", "b", "a"}, ids(list))
	})

	t.Run("TitleAsc", func(t *testing.T) {
		list := []*simplemedia.Asset{a, b, c}
		simplemedia.SortAssets(list, simplemedia.SortByTitle, simplemedia.OrderAsc)
		assert.Equal(t, []string{"b", "c", "a"}, ids(list))
	})

	t.Run("FileSizeDesc", func(t *testing.T) {
		list := []*simplemedia.Asset{a, b, c}
		simplemedia.SortAssets(list, simplemedia.SortByFileSize, simplemedia.OrderDesc)
		assert.Equal(t, []string{"b", "c", "a"}, ids(list))
	})

	t.Run("MissingDurationSortsAsZero", func(t *testing.T) {
		list := []*simplemedia.Asset{b, a}
		simplemedia.SortAssets(list, simplemedia.SortByDuration, simplemedia.OrderAsc)
		assert.Equal(t, "b", list[1].ID)
	})
}

func TestFilterAndPaginate(t *testing.T) {
	assets := []*simplemedia.Asset{
		{ID: "1", MimeType: "video/mp4"},
		{ID: "2", MimeType: "image/png"},
		{ID: "3", MimeType: "Video/webm"},
	}
	videos := simplemedia.FilterByType(assets, "video/")
	assert.Len(t, videos, 2)
	assert.Len(t, simplemedia.FilterByType(assets, ""), 3)

	page := simplemedia.Paginate(videos, 2, 1)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "3", page.Assets[0].ID)

	empty := simplemedia.Paginate(videos, 5, 10)
	assert.Empty(t, empty.Assets)
	assert.Equal(t, 2, empty.Total)
}

func TestIsValidJobName(t *testing.T) {
	assert.True(t, simplemedia.IsValidJobName("proxy0a1b"))
	assert.False(t, simplemedia.IsValidJobName(""))
	assert.False(t, simplemedia.IsValidJobName("Proxy"))
	assert.False(t, simplemedia.IsValidJobName("proxy-1"))
}

func TestAssetPatchApply(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := simplemedia.Asset{
		ID:          "x",
		Title:       "Old",
		Description: "keep me",
		Tags:        []string{"a"},
		CreatedAt:   created,
	}
	title := "New"
	now := created.Add(time.Hour)
	got := simplemedia.AssetPatch{Title: &title}.Apply(orig, now)

	assert.Equal(t, "x", got.ID)
	assert.Equal(t, "New", got.Title)
	assert.Equal(t, "keep me", got.Description)
	assert.Equal(t, []string{"a"}, got.Tags)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, now, got.UpdatedAt)
	assert.Equal(t, "Old", orig.Title)
}
