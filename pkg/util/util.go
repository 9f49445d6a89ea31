package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveFormatFromString collapses runs of whitespace (including the
// newlines and tabs rendered pages are full of) into single spaces.
func RemoveFormatFromString(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// DeleteEmpty drops blank entries after trimming.
func DeleteEmpty(s []string) []string {
	var r []string
	for _, str := range s {
		if str = strings.TrimSpace(str); str != "" {
			r = append(r, str)
		}
	}
	return r
}

// FoldAccents strips combining marks so "Québec" compares equal to "Quebec".
func FoldAccents(input string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, input)
	if err != nil {
		return input
	}
	return out
}
