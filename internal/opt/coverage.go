package opt

import "nutsdispatch/internal/model"

// coverage answers who owns, backs up, and can work a postcode on one date.
// Roster order is the tie-break everywhere.
type coverage struct {
	roster  []model.Inspector
	primary map[string]string // postcode -> preferred inspector
	up      map[string]bool   // inspector -> available on the date
	reserve []string          // available reserve-pool inspectors
}

func newCoverage(roster []model.Inspector, avail model.Availability, date model.Date, extraReserve []string) coverage {
	c := coverage{roster: roster, primary: map[string]string{}, up: map[string]bool{}}
	pool := map[string]bool{}
	for _, id := range extraReserve {
		pool[id] = true
	}
	for _, insp := range roster {
		for _, pc := range insp.PrimaryPostcodes {
			if _, taken := c.primary[pc]; !taken {
				c.primary[pc] = insp.ID
			}
		}
		ok := insp.Employed(date) && !avail.Unavailable(insp.ID)
		c.up[insp.ID] = ok
		if ok && (insp.Reserve || pool[insp.ID]) {
			c.reserve = append(c.reserve, insp.ID)
		}
	}
	return c
}

func (c coverage) preferred(postcode string) string { return c.primary[postcode] }

func (c coverage) available(id string) bool { return c.up[id] }

// fallback returns the first available backup for the postcode, then the
// first available reserve, that passes accept.
func (c coverage) fallback(postcode string, accept func(id string) bool) (string, model.AssignmentRole, bool) {
	for _, insp := range c.roster {
		if insp.CoversBackup(postcode) && c.up[insp.ID] && accept(insp.ID) {
			return insp.ID, model.RoleBackup, true
		}
	}
	for _, id := range c.reserve {
		if accept(id) {
			return id, model.RoleReserve, true
		}
	}
	return "", "", false
}
