package dispatch

import (
	"time"

	"github.com/tracyhatemice/dispatchmail/internal/radioid"
)

// NoObjectNumber marks an absent object number. The gateway sends -1 for it.
const NoObjectNumber int64 = -1

// Record is a parsed dispatch message. Optional string fields are empty when
// the message did not carry them.
type Record struct {
	Town             string
	District         string
	Location         string
	LocationAddition string
	Street           string
	HouseNumber      string

	Object             string
	FireDepartmentPlan string
	ObjectPart         string
	ObjectNumber       int64

	EmergencyType string
	Keyword       string
	Code3         string // special-signal text

	// EmergencyNumber is 0 when the case number was missing or malformed.
	EmergencyNumber uint64

	Note    string
	Patient *Patient

	DispatchedUnits []radioid.Unit
	UnitAlarmTimes  []UnitAlarmTime

	// AlarmTime has minute precision. The zero value means unknown.
	AlarmTime time.Time

	Coordinates *Coordinates

	// Complete reports whether all key fields were populated, see MissingFields.
	Complete bool
}

// Patient is the split "<last>,<first>" name field.
type Patient struct {
	LastName  string
	FirstName string
}

func (p Patient) String() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.LastName + ", " + p.FirstName
}

// Coordinates is the WGS84 location of the incident.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// UnitAlarmTime is one row of the alarm table. AlarmTime is the literal table
// cell, e.g. "08:21".
type UnitAlarmTime struct {
	Unit      radioid.Unit
	Station   string
	AlarmTime string
}

// MissingFields lists the key fields a printable dispatch should carry but
// this record lacks.
func (r *Record) MissingFields() []string {
	var missing []string
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("town", r.Town != "")
	check("location", r.Location != "")
	check("street", r.Street != "")
	check("house_number", r.HouseNumber != "")
	check("emergency_type", r.EmergencyType != "")
	check("keyword", r.Keyword != "")
	check("code3", r.Code3 != "")
	check("dispatched_units", len(r.DispatchedUnits) > 0)
	check("unit_alarm_times", len(r.UnitAlarmTimes) > 0)
	check("emergency_number", r.EmergencyNumber != 0)
	return missing
}
