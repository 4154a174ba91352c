package dispatch

import "github.com/tracyhatemice/dispatchmail/internal/radioid"

// CopyPolicy decides how many printouts a dispatch gets: one per dispatched
// unit of the home agency plus Additional, at least Min and at most Max when
// Max is positive.
type CopyPolicy struct {
	Org        string
	County     string
	Agency     uint8
	Min        int
	Max        int
	Additional int
}

// HomeUnits counts the dispatched units that belong to the home agency. Raw
// identifiers never match.
func (p CopyPolicy) HomeUnits(rec *Record) int {
	n := 0
	for _, u := range rec.DispatchedUnits {
		switch u := u.(type) {
		case radioid.Parsed:
			if u.ID.Agency == p.Agency && u.ID.County == p.County && u.ID.Org == p.Org {
				n++
			}
		case radioid.Raw:
		}
	}
	return n
}

// Copies returns the number of copies for rec.
func (p CopyPolicy) Copies(rec *Record) int {
	n := p.HomeUnits(rec) + p.Additional
	n = max(n, p.Min)
	if p.Max > 0 {
		n = min(n, p.Max)
	}
	return n
}
