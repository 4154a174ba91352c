package dispatch

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const delim = "~~"

// scanner is a cursor over the message text that tracks the current line.
type scanner struct {
	src  string
	pos  int
	line int
}

func newScanner(src string) *scanner {
	return &scanner{src: src, line: 1}
}

func (sc *scanner) eof() bool {
	return sc.pos >= len(sc.src)
}

// skipSpace consumes whitespace, counting newlines.
func (sc *scanner) skipSpace() {
	for !sc.eof() {
		r, size := utf8.DecodeRuneInString(sc.src[sc.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		if r == '\n' {
			sc.line++
		}
		sc.pos += size
	}
}

// skipLine consumes everything up to and including the next newline.
func (sc *scanner) skipLine() {
	i := strings.IndexByte(sc.src[sc.pos:], '\n')
	if i < 0 {
		sc.pos = len(sc.src)
		return
	}
	sc.pos += i + 1
	sc.line++
}

// readValue consumes up to the next '~' or line break.
func (sc *scanner) readValue() string {
	rest := sc.src[sc.pos:]
	i := strings.IndexAny(rest, "~\r\n")
	if i < 0 {
		i = len(rest)
	}
	sc.pos += i
	return rest[:i]
}

// expect consumes lit. On mismatch nothing past the matched prefix is
// consumed, so a line break stays available to skipLine.
func (sc *scanner) expect(lit string) error {
	for i := 0; i < len(lit); i++ {
		if sc.eof() {
			return fmt.Errorf("line %d: expected %q, got end of input", sc.line, lit)
		}
		if c := sc.src[sc.pos]; c != lit[i] {
			return fmt.Errorf("line %d: expected %q, got %q", sc.line, lit, c)
		}
		sc.pos++
	}
	return nil
}

// atLineEnd reports whether only blanks remain before the next line break.
func (sc *scanner) atLineEnd() bool {
	rest := strings.TrimLeft(sc.src[sc.pos:], " \t")
	return rest == "" || rest[0] == '\r' || rest[0] == '\n'
}
