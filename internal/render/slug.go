package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	// Matches any non-alphanumeric character.
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)
	// Matches multiple hyphens.
	multipleHyphens = regexp.MustCompile(`-+`)
)

// Slugify converts a system name to a URL and filesystem safe slug.
// "Nintendo NES - Famicom" -> "nintendo-nes-famicom".
// "Pokémon Mini" -> "pokemon-mini".
func Slugify(s string) string {
	// Decompose accented characters, then drop what is left outside ASCII.
	s = norm.NFKD.String(s)
	s = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)

	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "-")
	s = multipleHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// slugTable assigns each name a distinct slug. Names are processed in sorted
// order so collisions resolve the same way on every build.
func slugTable(names []string) map[string]string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	table := make(map[string]string, len(sorted))
	used := make(map[string]bool, len(sorted))
	for _, name := range sorted {
		if _, done := table[name]; done {
			continue
		}
		base := Slugify(name)
		if base == "" {
			base = "system"
		}
		slug := base
		for n := 2; used[slug]; n++ {
			slug = fmt.Sprintf("%s-%d", base, n)
		}
		used[slug] = true
		table[name] = slug
	}
	return table
}
