package ingest

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxSlugLength = 80
	emptySlug     = "video"
)

// Letters that do not decompose into a base letter plus combining mark.
var foldSpecial = strings.NewReplacer(
	"đ", "d", "Đ", "d",
	"ß", "ss", "ẞ", "ss",
	"ø", "o", "Ø", "o",
	"ł", "l", "Ł", "l",
	"æ", "ae", "Æ", "ae",
	"œ", "oe", "Œ", "oe",
	"þ", "th", "Þ", "th",
)

// Slugify turns a title into a URL-safe slug: lowercase ASCII letters and
// digits separated by single hyphens, at most 80 characters. Titles with no
// usable characters become "video".
func Slugify(title string) string {
	folded := foldSpecial.Replace(strings.ToLower(title))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if s, _, err := transform.String(t, folded); err == nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	pendingHyphen := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}

	slug := truncateSlug(b.String(), maxSlugLength)
	if slug == "" {
		return emptySlug
	}
	return slug
}

// truncateSlug cuts s to at most n bytes, backing off to the last hyphen so
// words are not split, and never leaves a trailing hyphen.
func truncateSlug(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if s[n] != '-' {
		if i := strings.LastIndexByte(cut, '-'); i > 0 {
			cut = cut[:i]
		}
	}
	return strings.Trim(cut, "-")
}

// withSuffix appends -n to base while staying within the slug length limit.
func withSuffix(base string, n int) string {
	suffix := "-" + strconv.Itoa(n)
	if len(base)+len(suffix) > maxSlugLength {
		base = strings.TrimRight(base[:maxSlugLength-len(suffix)], "-")
	}
	return base + suffix
}
