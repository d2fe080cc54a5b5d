package engine

import (
	"math"

	"github.com/skyops/rulescope/pkg/adsb"
)

// Flight is the mutable per-aircraft aggregate: the latest two
// reports, region membership derived from each, sticky notes, and
// per-rule cooldown state. Flights are owned by the driver loop;
// nothing mutates them concurrently.
type Flight struct {
	// ID is the canonical aircraft identifier (store key).
	ID string

	// Last and Prev are the latest two reports. On the first report
	// Prev == Last.
	Last adsb.Report
	Prev adsb.Report

	// CurrentRegions has one entry per region file: the containing
	// region name or "". Derived from Last. PreviousRegions is the
	// same shape derived from the prior point; all-"" on creation.
	CurrentRegions  []string
	PreviousRegions []string

	// Notes are sticky labels set by note actions, keyed by the rule
	// name that set them. They survive across points until cleared.
	Notes map[string]string

	// CreatedAt and LastSeen are stream timestamps.
	CreatedAt float64
	LastSeen  float64

	// ruleCooldowns[i] is the stream time rule i last fired for this
	// flight; -Inf when it never has. Dense vector indexed by the
	// rule's stable index.
	ruleCooldowns []float64

	// expireHooks maps rule index -> callback name to invoke when
	// this flight is evicted. Registered by expire_callback actions.
	expireHooks map[int]string
}

func newFlight(rep adsb.Report, regionFiles, ruleCount int) *Flight {
	f := &Flight{
		ID:              rep.ID,
		Last:            rep,
		Prev:            rep,
		CurrentRegions:  make([]string, regionFiles),
		PreviousRegions: make([]string, regionFiles),
		CreatedAt:       rep.Timestamp,
		LastSeen:        rep.Timestamp,
		ruleCooldowns:   make([]float64, ruleCount),
		expireHooks:     make(map[int]string),
	}
	for i := range f.ruleCooldowns {
		f.ruleCooldowns[i] = math.Inf(-1)
	}
	return f
}

// InAnyRegion reports whether the flight is currently inside at least
// one region of any file.
func (f *Flight) InAnyRegion() bool {
	for _, r := range f.CurrentRegions {
		if r != "" {
			return true
		}
	}
	return false
}

// Note returns the note set by the named rule, if any.
func (f *Flight) Note(rule string) (string, bool) {
	v, ok := f.Notes[rule]
	return v, ok
}

// setNote sets or clears (value == nil) the note for a rule.
func (f *Flight) setNote(rule string, value *string) {
	if value == nil {
		delete(f.Notes, rule)
		return
	}
	if f.Notes == nil {
		f.Notes = make(map[string]string)
	}
	f.Notes[rule] = *value
}

// anyNote returns an arbitrary-but-stable note for reporting: the
// flight's note under the given rule, if set.
func (f *Flight) anyNote(rule string) string {
	return f.Notes[rule]
}

// View returns the immutable snapshot handed to user callbacks.
func (f *Flight) View() FlightView {
	v := FlightView{
		ID:          f.ID,
		Report:      f.Last,
		PrevReport:  f.Prev,
		Regions:     append([]string(nil), f.CurrentRegions...),
		PrevRegions: append([]string(nil), f.PreviousRegions...),
		CreatedAt:   f.CreatedAt,
		LastSeen:    f.LastSeen,
	}
	if len(f.Notes) > 0 {
		v.Notes = make(map[string]string, len(f.Notes))
		for k, n := range f.Notes {
			v.Notes[k] = n
		}
	}
	return v
}

// FlightView is the narrow read-only snapshot of a flight exposed to
// user callbacks, decoupling user code from the engine's internal
// aggregate.
type FlightView struct {
	ID          string
	Report      adsb.Report
	PrevReport  adsb.Report
	Regions     []string
	PrevRegions []string
	Notes       map[string]string
	CreatedAt   float64
	LastSeen    float64
}

// Callback is a user handler registered by name. partner is non-nil
// only when the matching rule had a proximity condition.
type Callback func(flight FlightView, partner *FlightView)
