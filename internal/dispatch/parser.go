// Package dispatch parses the "~~key~~value~~" dispatch mail layout into a
// Record.
//
// Parsing is recovering: a field that fails to convert is logged and left at
// its default, and a structural error drops only the rest of the current line.
package dispatch

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tracyhatemice/dispatchmail/internal/radioid"
)

// AlarmTimeLayout is the layout of the Alarmzeit field, e.g. "29.09.22&08:23".
const AlarmTimeLayout = "02.01.06&15:04"

// ErrNoFields is returned when a message contains no known property at all.
var ErrNoFields = errors.New("no dispatch fields found")

// Parser converts decoded dispatch mail text into Records.
type Parser struct {
	logger   *slog.Logger
	location *time.Location
}

// NewParser creates a Parser that interprets alarm times in loc. A nil loc
// means time.Local.
func NewParser(loc *time.Location, logger *slog.Logger) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{logger: logger, location: loc}
}

// parseState is the per-message state shared by the property handlers.
type parseState struct {
	p        *Parser
	rec      *Record
	line     int
	property string
	known    int

	columns  *alarmColumns
	rows     int
	lat, lon *float64
}

func (st *parseState) warn(msg string, args ...any) {
	st.p.logger.Warn(msg, append([]any{"line", st.line, "property", st.property}, args...)...)
}

// fieldSetters handles the properties that carry exactly one value.
var fieldSetters = map[string]func(st *parseState, value string){
	"Ort":              func(st *parseState, v string) { st.rec.Town = v },
	"Ortsteil":         func(st *parseState, v string) { st.rec.District = v },
	"Ortslage":         func(st *parseState, v string) { st.rec.Location = v },
	"Strasse":          func(st *parseState, v string) { st.rec.Street = v },
	"Hausnummer":       func(st *parseState, v string) { st.rec.HouseNumber = v },
	"Objekt":           func(st *parseState, v string) { st.rec.Object = v },
	"FWPlan":           func(st *parseState, v string) { st.rec.FireDepartmentPlan = v },
	"Objektteil":       func(st *parseState, v string) { st.rec.ObjectPart = v },
	"Objektnummer":     setObjectNumber,
	"Einsatzart":       func(st *parseState, v string) { st.rec.EmergencyType = v },
	"Alarmgrund":       func(st *parseState, v string) { st.rec.Keyword = v },
	"Sondersignal":     func(st *parseState, v string) { st.rec.Code3 = v },
	"Einsatznummer":    setEmergencyNumber,
	"Besonderheiten":   func(st *parseState, v string) { st.rec.Note = v },
	"Name":             setPatient,
	"EMListe":          setDispatchedUnits,
	"Einsatzortzusatz": func(st *parseState, v string) { st.rec.LocationAddition = v },
	"Alarmzeit":        setAlarmTime,
	"WGS84_X":          func(st *parseState, v string) { st.lat = parseCoordinate(st, v) },
	"WGS84_Y":          func(st *parseState, v string) { st.lon = parseCoordinate(st, v) },
}

// Parse parses text, which must already be decoded with legacytext.Decode.
// It only fails when the text contains no known property.
func (p *Parser) Parse(text string) (*Record, error) {
	st := &parseState{
		p:   p,
		rec: &Record{ObjectNumber: NoObjectNumber},
	}
	sc := newScanner(text)

	for {
		sc.skipSpace()
		if sc.eof() {
			break
		}
		st.line, st.property = sc.line, ""

		if err := sc.expect(delim); err != nil {
			st.skip(sc, err)
			continue
		}
		st.property = sc.readValue()
		if err := sc.expect(delim); err != nil {
			st.skip(sc, err)
			continue
		}

		if set, ok := fieldSetters[st.property]; ok {
			value := sc.readValue()
			if err := st.closeRecord(sc); err != nil {
				st.skip(sc, err)
				continue
			}
			set(st, value)
			st.known++
			continue
		}

		switch st.property {
		case "Status":
			st.header(sc)
		case "ALARM":
			st.row(sc)
		case "Koord_EPSG_25833", "Koord_EPSG_4326":
			// Projected coordinate pairs; WGS84_X/Y carry the same location.
			_ = sc.readValue()
			if err := sc.expect(delim); err != nil {
				st.skip(sc, err)
				continue
			}
			_ = sc.readValue()
			if err := st.closeRecord(sc); err != nil {
				st.skip(sc, err)
				continue
			}
			st.known++
		default:
			st.warn("skipping unknown property")
			sc.skipLine()
		}
	}

	if st.known == 0 {
		return nil, ErrNoFields
	}
	if st.lat != nil && st.lon != nil {
		st.rec.Coordinates = &Coordinates{Latitude: *st.lat, Longitude: *st.lon}
	}
	st.rec.Complete = len(st.rec.MissingFields()) == 0
	return st.rec, nil
}

// skip logs a structural error and resumes at the next line.
func (st *parseState) skip(sc *scanner, err error) {
	st.warn("skipping malformed line", "error", err)
	sc.skipLine()
}

// closeRecord consumes the closing delimiter. A message that ends right after
// a value is accepted as truncated.
func (st *parseState) closeRecord(sc *scanner) error {
	if sc.eof() {
		st.warn("message ends without closing delimiter")
		return nil
	}
	return sc.expect(delim)
}

func setObjectNumber(st *parseState, v string) {
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		st.warn("invalid object number", "value", v, "error", err)
		return
	}
	st.rec.ObjectNumber = n
}

func setEmergencyNumber(st *parseState, v string) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		st.warn("invalid emergency number, continuing without", "value", v, "error", err)
		st.rec.EmergencyNumber = 0
		return
	}
	st.rec.EmergencyNumber = n
}

func setPatient(st *parseState, v string) {
	last, first, _ := strings.Cut(v, ",")
	last, first = strings.TrimSpace(last), strings.TrimSpace(first)
	if last == "" && first == "" {
		st.rec.Patient = nil
		return
	}
	st.rec.Patient = &Patient{LastName: last, FirstName: first}
}

func setDispatchedUnits(st *parseState, v string) {
	for _, token := range strings.Split(v, ", ") {
		if strings.TrimSpace(token) == "" {
			continue
		}
		unit, err := radioid.ParseUnit(token)
		if err != nil {
			st.p.logger.Info("keeping unit as raw identifier", "line", st.line, "unit", token, "error", err)
		}
		st.rec.DispatchedUnits = append(st.rec.DispatchedUnits, unit)
	}
}

func setAlarmTime(st *parseState, v string) {
	t, err := time.ParseInLocation(AlarmTimeLayout, strings.TrimSpace(v), st.p.location)
	if err != nil {
		st.warn("invalid alarm time", "value", v, "error", err)
		return
	}
	st.rec.AlarmTime = t
}

func parseCoordinate(st *parseState, v string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		st.warn("invalid coordinate", "value", v, "error", err)
		return nil
	}
	return &f
}

// trimMojibake strips the non-ASCII garbage the gateway appends to station
// names.
func trimMojibake(s string) string {
	return strings.TrimRightFunc(s, func(r rune) bool { return r > unicode.MaxASCII })
}
