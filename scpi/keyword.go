package scpi

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// QueryOption is the suffix a keyword declares to accept the query form.
const QueryOption = "?"

// suffixPattern splits a candidate into a mnemonic base and a trailing
// numeric or query suffix. The base must end in a letter so that I2C0 splits
// as I2C + 0.
var suffixPattern = regexp.MustCompile(`^(\*?[A-Z](?:[A-Z0-9_]*[A-Z])?)(\d+|\?)$`)

// Keyword is one grammar atom of a command path.
//
// Long is the full mnemonic and Short the minimum accepted prefix. Options,
// when non-empty, lists the suffixes permitted directly after the mnemonic:
// numeric channel identifiers and/or [QueryOption].
type Keyword struct {
	Long    string
	Short   string
	Options []string
}

// NewKeyword returns a keyword with upper-cased forms. It panics if short is
// not a prefix of long, which is a programming error in a command table.
func NewKeyword(long, short string, options ...string) Keyword {
	l := strings.ToUpper(long)
	s := strings.ToUpper(short)
	if s == "" || !strings.HasPrefix(l, s) {
		panic(fmt.Sprintf("scpi: short form %q is not a prefix of %q", short, long))
	}
	return Keyword{Long: l, Short: s, Options: slices.Clone(options)}
}

// Match is the outcome of resolving one token against one keyword.
// Option is empty when the token carried no suffix.
type Match struct {
	Matched bool
	Option  string
}

// Match resolves candidate against the keyword. It never fails; a token that
// does not resolve yields a zero Match.
func (k Keyword) Match(candidate string) Match {
	c := strings.ToUpper(candidate)
	if len(k.Options) == 0 {
		return Match{Matched: k.accepts(c)}
	}

	base, option := c, ""
	if m := suffixPattern.FindStringSubmatch(c); m != nil {
		base, option = m[1], m[2]
	}
	if option != "" && !slices.Contains(k.Options, option) {
		return Match{}
	}
	if !k.accepts(base) {
		return Match{}
	}
	return Match{Matched: true, Option: option}
}

// accepts reports whether s lies between the short and long forms.
func (k Keyword) accepts(s string) bool {
	return strings.HasPrefix(s, k.Short) && strings.HasPrefix(k.Long, s)
}

// String returns the keyword in conventional mixed case, e.g. SYSTem.
func (k Keyword) String() string {
	return k.Short + strings.ToLower(k.Long[len(k.Short):])
}
