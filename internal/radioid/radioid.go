// Package radioid parses and formats unit radio identifiers of the form
// "ORG COUNTY AA/TT-NN", e.g. "FL BRB 01/16-21".
package radioid

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Identifier is a structured unit callsign.
type Identifier struct {
	Org      string
	County   string
	Agency   uint8
	UnitType uint32
	Number   uint32
}

// Parse decodes s into an Identifier. Trailing whitespace is accepted, any
// other trailing character is an error.
func Parse(s string) (Identifier, error) {
	org, rest, ok := strings.Cut(s, " ")
	if !ok || org == "" {
		return Identifier{}, fmt.Errorf("radio identifier %q: missing organisation", s)
	}
	county, rest, ok := strings.Cut(rest, " ")
	if !ok || county == "" {
		return Identifier{}, fmt.Errorf("radio identifier %q: missing county", s)
	}
	agencyStr, rest, ok := strings.Cut(rest, "/")
	if !ok {
		return Identifier{}, fmt.Errorf("radio identifier %q: missing '/' after agency", s)
	}
	agency, err := strconv.ParseUint(agencyStr, 10, 8)
	if err != nil {
		return Identifier{}, fmt.Errorf("radio identifier %q: agency: %w", s, err)
	}
	typeStr, rest, ok := strings.Cut(rest, "-")
	if !ok {
		return Identifier{}, fmt.Errorf("radio identifier %q: missing '-' after unit type", s)
	}
	unitType, err := strconv.ParseUint(typeStr, 10, 32)
	if err != nil {
		return Identifier{}, fmt.Errorf("radio identifier %q: unit type: %w", s, err)
	}

	end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
	if end < 0 {
		end = len(rest)
	}
	number, err := strconv.ParseUint(rest[:end], 10, 32)
	if err != nil {
		return Identifier{}, fmt.Errorf("radio identifier %q: number: %w", s, err)
	}
	if strings.IndexFunc(rest[end:], func(r rune) bool { return !unicode.IsSpace(r) }) >= 0 {
		return Identifier{}, fmt.Errorf("radio identifier %q: trailing characters %q", s, rest[end:])
	}

	return Identifier{
		Org:      org,
		County:   county,
		Agency:   uint8(agency),
		UnitType: uint32(unitType),
		Number:   uint32(number),
	}, nil
}

// String formats the identifier with two-digit zero padded numbers.
func (id Identifier) String() string {
	return fmt.Sprintf("%s %s %02d/%02d-%02d", id.Org, id.County, id.Agency, id.UnitType, id.Number)
}
