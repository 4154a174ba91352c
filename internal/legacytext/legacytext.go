// Package legacytext reverses the escaping applied by the dispatch mail
// gateway: non-ASCII characters arrive as two escaped octets ("=C3=A4") and
// long lines are folded with a trailing "=" soft break.
//
// Only octet pairs are decoded. Single escapes are left alone and malformed
// escapes are kept verbatim.
package legacytext

import (
	"strings"
	"unicode/utf8"
)

const softBreak = "=\r\n"

// Decode returns s with soft breaks removed and escaped octet pairs decoded.
// Soft breaks go first so that a pair folded across lines still decodes. A
// pair with invalid hex digits is copied unchanged; a pair that is not a
// valid UTF-8 sequence becomes U+FFFD.
func Decode(s string) string {
	if !strings.Contains(s, "=") {
		return s
	}
	s = strings.ReplaceAll(s, softBreak, "")

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '=' {
			b.WriteByte(s[i])
			i++
			continue
		}
		if pair, ok := escapedPair(s[i:]); ok {
			if utf8.Valid(pair[:]) {
				b.Write(pair[:])
			} else {
				b.WriteRune(utf8.RuneError)
			}
			i += 6
			continue
		}
		b.WriteByte('=')
		i++
	}
	return b.String()
}

// escapedPair decodes a leading "=XX=XX".
func escapedPair(s string) ([2]byte, bool) {
	var pair [2]byte
	if len(s) < 6 || s[0] != '=' || s[3] != '=' {
		return pair, false
	}
	hi, ok1 := unhex(s[1], s[2])
	lo, ok2 := unhex(s[4], s[5])
	if !ok1 || !ok2 {
		return pair, false
	}
	pair[0], pair[1] = hi, lo
	return pair, true
}

func unhex(a, b byte) (byte, bool) {
	x, ok1 := hexDigit(a)
	y, ok2 := hexDigit(b)
	return x<<4 | y, ok1 && ok2
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
