package extract

import (
	"strings"
)

// Repair applies cheap fixes for the JSON defects models actually produce:
// a leading BOM, raw newlines inside string literals, and trailing commas
// before a closing brace or bracket. It is only worth calling after a direct
// parse has failed; valid JSON passes through unchanged.
func Repair(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = escapeRawNewlines(s)
	s = stripTrailingCommas(s)
	return s
}

// escapeRawNewlines replaces literal CR/LF characters inside string literals
// with their escape sequences, tracking quote and backslash state so that
// newlines between tokens are left alone.
func escapeRawNewlines(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
				sb.WriteRune(r)
			case r == '\\':
				escaped = true
				sb.WriteRune(r)
			case r == '"':
				inString = false
				sb.WriteRune(r)
			case r == '\n':
				sb.WriteString(`\n`)
			case r == '\r':
				sb.WriteString(`\r`)
			default:
				sb.WriteRune(r)
			}
			continue
		}
		if r == '"' {
			inString = true
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// stripTrailingCommas drops commas whose next non-whitespace character is a
// closing brace or bracket. The same quote tracking as escapeRawNewlines
// keeps commas inside string literals untouched.
func stripTrailingCommas(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			sb.WriteByte(c)
			continue
		}
		switch c {
		case '"':
			inString = true
			sb.WriteByte(c)
		case ',':
			j := i + 1
			for j < len(s) && isJSONSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				// Drop the comma, keep the whitespace that followed it.
				sb.WriteString(s[i+1 : j])
				i = j - 1
				continue
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
