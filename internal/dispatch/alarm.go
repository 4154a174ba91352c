package dispatch

import (
	"fmt"

	"github.com/tracyhatemice/dispatchmail/internal/radioid"
)

// alarmColumns maps the alarm table's semantic columns to their position in
// a row. The gateway does not fix column order or label spelling. A column
// missing from the header is -1.
type alarmColumns struct {
	unit      int
	station   int
	alarmTime int
	count     int
}

// maxIndex is the highest position of a recognised column.
func (c alarmColumns) maxIndex() int {
	return max(c.unit, c.station, c.alarmTime)
}

func (c alarmColumns) cell(cells []string, i int) string {
	if i < 0 {
		return ""
	}
	return cells[i]
}

// header parses the labels following "~~Status~~" up to the end of the line.
func (st *parseState) header(sc *scanner) {
	if st.columns != nil && st.rows == 0 {
		st.warn("second alarm table header before any rows")
	}

	cols := alarmColumns{unit: -1, station: -1, alarmTime: -1}
	for !sc.atLineEnd() {
		label := sc.readValue()
		switch label {
		case "Fahrzeug", "Zuget":
			cols.unit = cols.count
		case "Wache":
			cols.station = cols.count
		case "Alarm", "Alarmiert":
			cols.alarmTime = cols.count
		case "Tableau-Adresse", "Ausgerückt":
		default:
			st.p.logger.Debug("unused alarm table column", "line", st.line, "column", label)
		}
		cols.count++

		if err := sc.expect(delim); err != nil {
			st.warn("alarm table header not terminated, keeping columns read so far", "error", err)
			sc.skipLine()
			break
		}
	}

	st.columns = &cols
	st.rows = 0
	st.known++
}

// row parses the cells following "~~ALARM~~" and appends a UnitAlarmTime.
func (st *parseState) row(sc *scanner) {
	if st.columns == nil {
		st.warn("alarm table row before header")
		sc.skipLine()
		return
	}
	cols := *st.columns

	cells, err := st.readCells(sc, cols)
	if err != nil {
		st.skip(sc, err)
		return
	}
	st.rows++
	st.known++

	station := trimMojibake(cols.cell(cells, cols.station))
	alarmTime := cols.cell(cells, cols.alarmTime)
	if station == "" && alarmTime == "" {
		st.p.logger.Debug("skipping empty alarm table row", "line", st.line)
		return
	}

	token := cols.cell(cells, cols.unit)
	unit, err := radioid.ParseUnit(token)
	if err != nil {
		st.p.logger.Debug("keeping alarm table unit as raw identifier", "line", st.line, "unit", token, "error", err)
	}
	st.rec.UnitAlarmTimes = append(st.rec.UnitAlarmTimes, UnitAlarmTime{
		Unit:      unit,
		Station:   station,
		AlarmTime: alarmTime,
	})
}

// readCells reads "~~"-terminated cells to the end of the line and pads them
// to the header width. Like single values, a last cell cut off by the end of
// the message is kept.
func (st *parseState) readCells(sc *scanner, cols alarmColumns) ([]string, error) {
	cells := make([]string, 0, cols.count)
	for !sc.atLineEnd() {
		cells = append(cells, sc.readValue())
		if err := st.closeRecord(sc); err != nil {
			return nil, err
		}
	}
	for len(cells) < cols.count {
		cells = append(cells, "")
	}
	if len(cells) <= cols.maxIndex() {
		return nil, fmt.Errorf("line %d: alarm table row has %d cells, need %d", sc.line, len(cells), cols.maxIndex()+1)
	}
	return cells, nil
}
