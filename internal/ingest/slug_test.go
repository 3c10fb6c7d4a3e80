package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"plain", "Hello, World!", "hello-world"},
		{"accents", "Crème Brûlée Recipe", "creme-brulee-recipe"},
		{"umlaut", "Über Größe", "uber-grosse"},
		{"special letters", "Đorđe Łukasz Straße", "dorde-lukasz-strasse"},
		{"ligatures", "Ærø Œuvre Þór", "aero-oeuvre-thor"},
		{"digits kept", "Top 10 Tips (2024)", "top-10-tips-2024"},
		{"collapse separators", "  --a   ++  b--  ", "a-b"},
		{"only symbols", "!!! ??? ###", "video"},
		{"empty", "", "video"},
		{"non latin", "日本語のタイトル", "video"},
		{"mixed non latin", "日本 Vlog #3", "vlog-3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.title))
		})
	}
}

func TestSlugify_LengthCap(t *testing.T) {
	title := strings.TrimSpace(strings.Repeat("abcdefghi ", 10))

	got := Slugify(title)

	assert.LessOrEqual(t, len(got), maxSlugLength)
	assert.False(t, strings.HasSuffix(got, "-"))
	assert.Equal(t, strings.TrimSuffix(strings.Repeat("abcdefghi-", 8), "-"), got, "cut at the last word boundary")

	long := Slugify(strings.Repeat("a", 120))
	assert.Equal(t, strings.Repeat("a", maxSlugLength), long, "a single word is hard-cut")
}

func TestWithSuffix(t *testing.T) {
	assert.Equal(t, "my-video-1", withSuffix("my-video", 1))
	assert.Equal(t, "my-video-12", withSuffix("my-video", 12))

	got := withSuffix(strings.Repeat("a", maxSlugLength), 12)
	assert.Len(t, got, maxSlugLength)
	assert.True(t, strings.HasSuffix(got, "-12"))
}
