package engine

import (
	"fmt"
	"log"
	"math"

	"github.com/skyops/rulescope/pkg/config"
	"github.com/skyops/rulescope/pkg/geo"
	"github.com/skyops/rulescope/pkg/regions"
)

// freshWindowSecs is how recently a partner flight must have been
// seen for proximity pairing, in seconds of stream time.
const freshWindowSecs = 60

// Rule is one compiled rule. Rules carry a stable integer index so
// per-flight cooldown state can live in a dense vector instead of a
// map keyed by name.
type Rule struct {
	Name  string
	Index int

	cond config.Conditions
	acts config.Actions

	// Resolved list references.
	aircraftList map[string]struct{}
	excludeList  map[string]struct{}

	// Cooldowns in seconds of stream time; 0 disables the gate.
	cooldownFlight float64
	cooldownRule   float64

	// lastRuleFire is the stream time this rule last fired for any
	// flight; -Inf if never. Mutated only by the evaluator.
	lastRuleFire float64

	// ringBounds is the precomputed lat/lon bounding box of a
	// latlongring condition, used by the spatial grid index.
	ringBounds *ringBounds
}

type ringBounds struct {
	minLat, maxLat float64
	minLon, maxLon float64
}

// HasProximity reports whether the rule pairs flights.
func (r *Rule) HasProximity() bool { return r.cond.Proximity != nil }

// hasExpireCallback reports whether a match should arm an expiration
// hook on the flight.
func (r *Rule) hasExpireCallback() bool { return r.acts.ExpireCallback != nil }

// compileRules builds the ordered rule list from the parsed config,
// resolving list references and validating region names against the
// loaded region set.
func compileRules(cfg *config.Config, rs *regions.Set) ([]*Rule, error) {
	var rules []*Rule
	for i, rc := range cfg.Rules {
		r := &Rule{
			Name:         rc.Name,
			Index:        i,
			cond:         rc.Conditions,
			acts:         rc.Actions,
			lastRuleFire: math.Inf(-1),
		}

		if rc.Conditions.AircraftList != nil {
			r.aircraftList = toSet(cfg.AircraftLists[*rc.Conditions.AircraftList])
		}
		if rc.Conditions.ExcludeAircraftList != nil {
			r.excludeList = toSet(cfg.AircraftLists[*rc.Conditions.ExcludeAircraftList])
		}
		if rc.Conditions.CooldownMinutes != nil {
			r.cooldownFlight = float64(*rc.Conditions.CooldownMinutes) * 60
		}
		if rc.Conditions.RuleCooldownMins != nil {
			r.cooldownRule = float64(*rc.Conditions.RuleCooldownMins) * 60
		}

		if err := validateRegionRefs(r, rs); err != nil {
			return nil, err
		}

		if rc.Conditions.RegionsSet && rc.Conditions.TransitionSet {
			log.Printf("WARNING: rule %q declares both regions and transition_regions; they are AND-ed", r.Name)
		}

		if ring := rc.Conditions.LatLongRing; ring != nil {
			latOff, lonOff := geo.NMToLatLonOffsets(ring[0], ring[1])
			r.ringBounds = &ringBounds{
				minLat: ring[1] - latOff, maxLat: ring[1] + latOff,
				minLon: ring[2] - lonOff, maxLon: ring[2] + lonOff,
			}
		}

		rules = append(rules, r)
	}
	return rules, nil
}

// validateRegionRefs ensures every region name a rule mentions exists
// in some region file. A missing name would otherwise make the
// condition silently unmatchable.
func validateRegionRefs(r *Rule, rs *regions.Set) error {
	check := func(name, field string) error {
		if name == "" {
			return nil
		}
		if !rs.HasRegion(name) {
			return fmt.Errorf("rule %q: %s references unknown region %q", r.Name, field, name)
		}
		return nil
	}

	for _, name := range r.cond.Regions {
		if err := check(name, "regions"); err != nil {
			return err
		}
	}
	if r.cond.TransitionSet {
		if err := check(r.cond.TransitionFrom, "transition_regions"); err != nil {
			return err
		}
		if err := check(r.cond.TransitionTo, "transition_regions"); err != nil {
			return err
		}
	}
	return nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
