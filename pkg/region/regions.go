package region

import (
	"strings"
	"unicode"

	"github.com/matt2718/qbnotify/pkg/util"
)

// Region is a first-level administrative area the resolver can name from
// address text alone.
type Region struct {
	Name    string
	Code    string
	Country string
}

var regions = []Region{
	{"Alabama", "AL", "US"},
	{"Alaska", "AK", "US"},
	{"Arizona", "AZ", "US"},
	{"Arkansas", "AR", "US"},
	{"California", "CA", "US"},
	{"Colorado", "CO", "US"},
	{"Connecticut", "CT", "US"},
	{"Delaware", "DE", "US"},
	{"District of Columbia", "DC", "US"},
	{"Florida", "FL", "US"},
	{"Georgia", "GA", "US"},
	{"Hawaii", "HI", "US"},
	{"Idaho", "ID", "US"},
	{"Illinois", "IL", "US"},
	{"Indiana", "IN", "US"},
	{"Iowa", "IA", "US"},
	{"Kansas", "KS", "US"},
	{"Kentucky", "KY", "US"},
	{"Louisiana", "LA", "US"},
	{"Maine", "ME", "US"},
	{"Maryland", "MD", "US"},
	{"Massachusetts", "MA", "US"},
	{"Michigan", "MI", "US"},
	{"Minnesota", "MN", "US"},
	{"Mississippi", "MS", "US"},
	{"Missouri", "MO", "US"},
	{"Montana", "MT", "US"},
	{"Nebraska", "NE", "US"},
	{"Nevada", "NV", "US"},
	{"New Hampshire", "NH", "US"},
	{"New Jersey", "NJ", "US"},
	{"New Mexico", "NM", "US"},
	{"New York", "NY", "US"},
	{"North Carolina", "NC", "US"},
	{"North Dakota", "ND", "US"},
	{"Ohio", "OH", "US"},
	{"Oklahoma", "OK", "US"},
	{"Oregon", "OR", "US"},
	{"Pennsylvania", "PA", "US"},
	{"Rhode Island", "RI", "US"},
	{"South Carolina", "SC", "US"},
	{"South Dakota", "SD", "US"},
	{"Tennessee", "TN", "US"},
	{"Texas", "TX", "US"},
	{"Utah", "UT", "US"},
	{"Vermont", "VT", "US"},
	{"Virginia", "VA", "US"},
	{"Washington", "WA", "US"},
	{"West Virginia", "WV", "US"},
	{"Wisconsin", "WI", "US"},
	{"Wyoming", "WY", "US"},
	{"Puerto Rico", "PR", "US"},
	{"Alberta", "AB", "CA"},
	{"British Columbia", "BC", "CA"},
	{"Manitoba", "MB", "CA"},
	{"New Brunswick", "NB", "CA"},
	{"Newfoundland and Labrador", "NL", "CA"},
	{"Northwest Territories", "NT", "CA"},
	{"Nova Scotia", "NS", "CA"},
	{"Nunavut", "NU", "CA"},
	{"Ontario", "ON", "CA"},
	{"Prince Edward Island", "PE", "CA"},
	{"Quebec", "QC", "CA"},
	{"Saskatchewan", "SK", "CA"},
	{"Yukon", "YT", "CA"},
}

var (
	byCode      = make(map[string]Region, len(regions))
	byNameWords = make(map[int]map[string]Region)
	maxWords    int
)

func init() {
	for _, r := range regions {
		byCode[r.Code] = r
		words := strings.Fields(strings.ToLower(r.Name))
		n := len(words)
		if byNameWords[n] == nil {
			byNameWords[n] = make(map[string]Region)
		}
		byNameWords[n][strings.Join(words, " ")] = r
		if n > maxWords {
			maxWords = n
		}
	}
}

// All returns the region table in display order.
func All() []Region {
	out := make([]Region, len(regions))
	copy(out, regions)
	return out
}

// Lookup finds a region by its code.
func Lookup(code string) (Region, bool) {
	r, ok := byCode[strings.ToUpper(strings.TrimSpace(code))]
	return r, ok
}

// FromAddress scans the words of an address from the end towards the start
// and returns the code of the first region it recognises. Scanning backwards
// matters because place names can contain a region token ("Stratford ON
// Avon"); the match closest to the end of the address wins. Full names match
// case-insensitively, codes only when written in capitals so that words like
// "in" or "or" are not read as Indiana or Oregon.
func FromAddress(address string) (string, bool) {
	words := splitWords(util.FoldAccents(address))
	for end := len(words); end > 0; end-- {
		for n := maxWords; n >= 1; n-- {
			start := end - n
			if start < 0 {
				continue
			}
			phrase := strings.ToLower(strings.Join(words[start:end], " "))
			if r, ok := byNameWords[n][phrase]; ok {
				return r.Code, true
			}
		}
		if r, ok := byCode[words[end-1]]; ok {
			return r.Code, true
		}
	}
	return "", false
}

func splitWords(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == '/' || r == '(' || r == ')'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
