package serviceprocessors

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugCollapse = regexp.MustCompile(`[-\s]+`)
)

// Slugify lowercases s, drops accents and anything that is not a word
// character, space or hyphen, and joins the remaining runs with hyphens.
func Slugify(s string) string {
	ascii := ToASCII(s)
	ascii = strings.ToLower(strings.TrimSpace(slugStrip.ReplaceAllString(ascii, "")))
	return slugCollapse.ReplaceAllString(ascii, "-")
}

// ToASCII decomposes s and drops every rune outside ASCII.
func ToASCII(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
