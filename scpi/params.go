package scpi

import (
	"math"
	"strconv"
	"strings"
)

// SplitParams splits a parameter list on commas and trims each element.
// Commas inside a (@...) channel list or a quoted string do not split.
func SplitParams(param string) []string {
	param = strings.TrimSpace(param)
	if param == "" {
		return nil
	}
	var (
		out   []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(param); i++ {
		b := param[i]
		switch {
		case quote != 0:
			if b == quote {
				quote = 0
			}
		case b == '"' || b == '\'':
			quote = b
		case b == '(':
			depth++
		case b == ')':
			if depth > 0 {
				depth--
			}
		case b == ',' && depth == 0:
			out = append(out, strings.TrimSpace(param[start:i]))
			start = i + 1
		}
	}
	return append(out, strings.TrimSpace(param[start:]))
}

// ParseInt parses integer numeric program data. Decimal forms may carry a
// sign and an exponent as long as the value is integral; #H, #Q and #B
// prefixes select hexadecimal, octal and binary.
func ParseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if len(s) > 2 && s[0] == '#' {
		base := 0
		switch s[1] {
		case 'H', 'h':
			base = 16
		case 'Q', 'q':
			base = 8
		case 'B', 'b':
			base = 2
		default:
			return 0, false
		}
		v, err := strconv.ParseInt(s[2:], base, 64)
		return v, err == nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// ParseBool parses boolean program data: ON, OFF, 1 or 0.
func ParseBool(s string) (bool, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ON", "1":
		return true, true
	case "OFF", "0":
		return false, true
	}
	return false, false
}

// Unquote strips matching single or double quotes from string program data.
func Unquote(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return "", false
	}
	q := s[0]
	if (q != '"' && q != '\'') || s[len(s)-1] != q {
		return "", false
	}
	return strings.ReplaceAll(s[1:len(s)-1], string([]byte{q, q}), string(q)), true
}
