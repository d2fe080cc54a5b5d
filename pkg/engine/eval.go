package engine

import (
	"strings"
	"time"

	"github.com/skyops/rulescope/pkg/geo"
)

// conditionsMatch evaluates the AND-ed condition set of r against the
// flight's latest state. Conditions short-circuit on the first false
// and never mutate state. The proximity condition is handled by the
// caller (it produces partner flights, not a plain boolean); here it
// only requires that a partner exists.
//
// The cooldown gate is NOT part of condition evaluation; process()
// applies it before this is called.
func (e *Engine) conditionsMatch(r *Rule, f *Flight, now float64) (bool, []*Flight) {
	c := &r.cond

	if c.MinAlt != nil && (!f.Last.HasAlt || f.Last.AltBaro < *c.MinAlt) {
		return false, nil
	}
	if c.MaxAlt != nil && (!f.Last.HasAlt || f.Last.AltBaro > *c.MaxAlt) {
		return false, nil
	}

	if r.aircraftList != nil {
		if _, ok := r.aircraftList[f.ID]; !ok {
			return false, nil
		}
	}
	if r.excludeList != nil {
		if _, ok := r.excludeList[f.ID]; ok {
			return false, nil
		}
	}
	for _, sub := range c.ExcludeAircraftSubstrs {
		if strings.Contains(f.ID, sub) {
			return false, nil
		}
	}

	if c.RegionsSet && !matchRegions(c.Regions, f) {
		return false, nil
	}
	if c.TransitionSet && !matchTransition(c.TransitionFrom, c.TransitionTo, f) {
		return false, nil
	}
	if c.ChangedRegions != nil && *c.ChangedRegions && !regionsChanged(f) {
		return false, nil
	}

	if ring := c.LatLongRing; ring != nil {
		if geo.DistanceNM(f.Last.Lat, f.Last.Lon, ring[1], ring[2]) > ring[0] {
			return false, nil
		}
	}

	if c.HasAttr != nil && !truthyAttr(f, *c.HasAttr) {
		return false, nil
	}

	if c.MinTime != nil || c.MaxTime != nil {
		hhmm := e.streamHHMM(f.Last.Timestamp)
		if c.MinTime != nil && hhmm < *c.MinTime {
			return false, nil
		}
		if c.MaxTime != nil && hhmm > *c.MaxTime {
			return false, nil
		}
	}

	// Proximity last: it is the only condition that scans the store.
	if c.Proximity != nil {
		partners := e.store.Nearby(f, c.Proximity[0], c.Proximity[1], now, freshWindowSecs)
		if len(partners) == 0 {
			return false, nil
		}
		return true, partners
	}

	return true, nil
}

// matchRegions implements the regions condition. The literal [] form
// matches only when the flight is in no region of any file; a named
// list matches when any file's current region is one of the names.
func matchRegions(names []string, f *Flight) bool {
	if len(names) == 0 {
		return !f.InAnyRegion()
	}
	for _, cur := range f.CurrentRegions {
		if cur == "" {
			continue
		}
		for _, n := range names {
			if cur == n {
				return true
			}
		}
	}
	return false
}

// matchTransition requires a single file whose membership moved
// from -> to between the previous and current point. Either side may
// be "" meaning "no region".
func matchTransition(from, to string, f *Flight) bool {
	for i := range f.CurrentRegions {
		if f.PreviousRegions[i] == from && f.CurrentRegions[i] == to {
			return true
		}
	}
	return false
}

func regionsChanged(f *Flight) bool {
	for i := range f.CurrentRegions {
		if f.CurrentRegions[i] != f.PreviousRegions[i] {
			return true
		}
	}
	return false
}

// truthyAttr implements has_attr: the attribute must be present and
// not null, not the empty string, not numeric zero, and not false.
func truthyAttr(f *Flight, name string) bool {
	v, ok := f.Last.Attr(name)
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case float64:
		return t != 0
	case bool:
		return t
	}
	return true
}

// streamHHMM converts a stream timestamp to HHMM in the engine's
// configured time zone.
func (e *Engine) streamHHMM(ts float64) int {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	t := time.Unix(sec, nsec).In(e.loc)
	return t.Hour()*100 + t.Minute()
}

func distanceNM(a, b *Flight) float64 {
	return geo.DistanceNM(a.Last.Lat, a.Last.Lon, b.Last.Lat, b.Last.Lon)
}
