package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Trail Runner", "trail-runner"},
		{"  Áo Thun Đen  ", "ao-thun-den"},
		{"Crème brûlée -- 2024!", "creme-brulee-2024"},
		{"100% Cotton / Slim Fit", "100-cotton-slim-fit"},
		{"!!!", "product"},
		{"日本語", "product"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.title))
		})
	}
}

func TestWithSuffix(t *testing.T) {
	assert.Equal(t, "shirt", withSuffix("shirt", 1))
	assert.Equal(t, "shirt-3", withSuffix("shirt", 3))
}

func TestSummarize(t *testing.T) {
	empty := Summarize(nil)
	assert.Equal(t, 0, empty.Count)
	assert.True(t, empty.Average.IsZero())

	s := Summarize([]Rating{{Score: 5}, {Score: 4}, {Score: 4}})
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, "4.3", s.Average.String())
}

func TestListFilter_Offset(t *testing.T) {
	assert.Equal(t, 0, ListFilter{Page: 0, PageSize: 20}.Offset())
	assert.Equal(t, 0, ListFilter{Page: 1, PageSize: 20}.Offset())
	assert.Equal(t, 40, ListFilter{Page: 3, PageSize: 20}.Offset())
}

func TestSortBy_Valid(t *testing.T) {
	assert.True(t, SortPriceDesc.Valid())
	assert.False(t, SortBy("popularity").Valid())
}
