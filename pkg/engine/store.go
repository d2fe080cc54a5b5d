package engine

import (
	"sort"

	"github.com/skyops/rulescope/pkg/adsb"
	"github.com/skyops/rulescope/pkg/regions"
)

// Store holds every live flight, keyed by identifier. It is written
// only by the driver loop; proximity queries read it at
// evaluator-controlled points, so no locking is needed.
type Store struct {
	flights    map[string]*Flight
	regions    *regions.Set
	ruleCount  int
	expireSecs float64
}

func newStore(rs *regions.Set, ruleCount int, expireSecs float64) *Store {
	return &Store{
		flights:    make(map[string]*Flight),
		regions:    rs,
		ruleCount:  ruleCount,
		expireSecs: expireSecs,
	}
}

// Update upserts the flight for the report's identifier: the previous
// report and its region vector are rotated out, the new report stored,
// and region membership recomputed. Returns the flight and whether it
// was newly created.
func (s *Store) Update(rep adsb.Report) (*Flight, bool) {
	f, ok := s.flights[rep.ID]
	if !ok {
		f = newFlight(rep, len(s.regions.Files), s.ruleCount)
		s.flights[rep.ID] = f
		f.CurrentRegions = s.regions.Resolve(rep.Lat, rep.Lon, rep.Track, rep.AltBaro)
		return f, true
	}

	f.Prev = f.Last
	f.Last = rep
	f.LastSeen = rep.Timestamp
	f.PreviousRegions = f.CurrentRegions
	f.CurrentRegions = s.regions.Resolve(rep.Lat, rep.Lon, rep.Track, rep.AltBaro)
	return f, false
}

// Get returns the live flight with the given identifier, or nil.
func (s *Store) Get(id string) *Flight {
	return s.flights[id]
}

// Len returns the number of live flights.
func (s *Store) Len() int {
	return len(s.flights)
}

// Live returns a snapshot of all live flights, sorted by identifier
// so that proximity partner order is deterministic.
func (s *Store) Live() []*Flight {
	out := make([]*Flight, 0, len(s.flights))
	for _, f := range s.flights {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Expire removes every flight not seen for the expiry window, calling
// hook for each before removal. Returns the number evicted.
func (s *Store) Expire(now float64, hook func(*Flight)) int {
	return s.expire(now, s.expireSecs, hook)
}

// ExpireAll evicts every remaining flight regardless of age. Used for
// the final sweep when the source is exhausted.
func (s *Store) ExpireAll(hook func(*Flight)) int {
	return s.expire(0, -1, hook)
}

func (s *Store) expire(now, window float64, hook func(*Flight)) int {
	var due []*Flight
	for _, f := range s.flights {
		if window < 0 || now-f.LastSeen >= window {
			due = append(due, f)
		}
	}
	// Stable eviction order keeps expire-callback sequences
	// reproducible across runs.
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	for _, f := range due {
		if hook != nil {
			hook(f)
		}
		delete(s.flights, f.ID)
	}
	return len(due)
}

// Nearby returns the live flights within altSep feet and latSep nm of
// f, considering only flights seen within freshSecs of now. f itself
// is never returned. Results are sorted by identifier.
func (s *Store) Nearby(f *Flight, altSep, latSep, now, freshSecs float64) []*Flight {
	if !f.Last.HasAlt {
		return nil
	}

	var out []*Flight
	for _, g := range s.flights {
		if g == f {
			continue
		}
		if now-g.LastSeen > freshSecs {
			continue
		}
		if !g.Last.HasAlt {
			continue
		}
		altDiff := f.Last.AltBaro - g.Last.AltBaro
		if altDiff < 0 {
			altDiff = -altDiff
		}
		if altDiff > altSep {
			continue
		}
		if distanceNM(f, g) > latSep {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
