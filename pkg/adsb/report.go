// Package adsb defines the normalized point report produced by every
// ingest source. One Report corresponds to one JSON object from a
// dump1090/readsb feed, a trace file, or a polled API.
package adsb

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Errors returned by ParseReport for records the engine must drop.
var (
	// ErrNoIdentifier means the record carried neither a flight id
	// nor an ICAO hex code.
	ErrNoIdentifier = errors.New("report has no identifier")

	// ErrNoPosition means lat/lon were absent or not numeric.
	ErrNoPosition = errors.New("report has no position")

	// ErrMalformed means the record was not a JSON object.
	ErrMalformed = errors.New("malformed report")
)

// IsDropError reports whether err marks a record that should be
// dropped and counted, as opposed to a fatal source failure.
func IsDropError(err error) bool {
	return errors.Is(err, ErrNoIdentifier) ||
		errors.Is(err, ErrNoPosition) ||
		errors.Is(err, ErrMalformed)
}

// Report is a single immutable aircraft observation.
// All timestamps are seconds since epoch carried by the stream itself;
// the engine never consults the wall clock.
type Report struct {
	// ID is the canonical aircraft identifier: the flight id if
	// present, otherwise the ICAO hex code. Trimmed and uppercased.
	ID string

	// Hex is the 24-bit ICAO address as reported, may be empty.
	Hex string

	// Timestamp in seconds since epoch (stream time).
	Timestamp float64

	// Lat, Lon in decimal degrees.
	Lat float64
	Lon float64

	// AltBaro is barometric altitude in feet MSL. Aircraft on the
	// ground report 0 with HasAlt still true.
	AltBaro float64

	// HasAlt is false when the record carried no usable altitude.
	HasAlt bool

	// GroundSpeed in knots, zero if absent.
	GroundSpeed float64

	// Track is the ground track in degrees (0-360), zero if absent.
	Track float64

	// Attrs preserves the remaining scalar fields of the record
	// (squawk, category, emergency, ...) for has_attr conditions and
	// user callbacks. Values are strings, numbers, or bools as
	// decoded from JSON.
	Attrs map[string]any
}

// String renders the report in the one-line form used by print
// actions and logs.
func (r Report) String() string {
	return fmt.Sprintf("%s: %.0f MSL %.0f deg %.1f kts %.4f, %.4f",
		r.ID, r.AltBaro, r.Track, r.GroundSpeed, r.Lat, r.Lon)
}

// ParseReport normalizes one JSON object into a Report.
// fallbackTime is used when the record has neither "now" nor
// "seen_pos"; pass the source's current stream time.
//
// Records without a position or identifier are rejected with
// ErrNoPosition / ErrNoIdentifier so the caller can count drops.
func ParseReport(data []byte, fallbackTime float64) (Report, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return FromMap(raw, fallbackTime)
}

// FromMap normalizes an already-decoded JSON object. Used by sources
// whose payloads arrive as arrays of objects (HTTP poll, NATS).
func FromMap(raw map[string]any, fallbackTime float64) (Report, error) {
	var r Report

	lat, latOK := asFloat(raw["lat"])
	lon, lonOK := asFloat(raw["lon"])
	if !latOK || !lonOK || math.IsNaN(lat) || math.IsNaN(lon) {
		return Report{}, ErrNoPosition
	}
	r.Lat, r.Lon = lat, lon

	if hex, ok := raw["hex"].(string); ok {
		r.Hex = strings.ToUpper(strings.TrimSpace(hex))
	}
	if flight, ok := raw["flight"].(string); ok {
		r.ID = strings.ToUpper(strings.TrimSpace(flight))
	}
	if r.ID == "" {
		r.ID = r.Hex
	}
	if r.ID == "" {
		return Report{}, ErrNoIdentifier
	}

	if ts, ok := asFloat(raw["now"]); ok {
		r.Timestamp = ts
	} else if ts, ok := asFloat(raw["seen_pos"]); ok {
		r.Timestamp = ts
	} else {
		r.Timestamp = fallbackTime
	}

	// alt_baro is either a number or the string "ground".
	switch alt := raw["alt_baro"].(type) {
	case string:
		if strings.EqualFold(alt, "ground") {
			r.AltBaro = 0
			r.HasAlt = true
			setAttr(&r, "ground", true)
		}
	default:
		if v, ok := asFloat(raw["alt_baro"]); ok {
			r.AltBaro = v
			r.HasAlt = true
		} else if v, ok := asFloat(raw["alt"]); ok {
			r.AltBaro = v
			r.HasAlt = true
		}
	}

	if gs, ok := asFloat(raw["gs"]); ok {
		r.GroundSpeed = gs
	}
	if trk, ok := asFloat(raw["track"]); ok {
		r.Track = trk
	}

	// Everything not consumed above is preserved as an attribute.
	for k, v := range raw {
		switch k {
		case "lat", "lon", "hex", "flight", "now", "seen_pos",
			"alt_baro", "alt", "gs", "track":
			continue
		}
		switch v.(type) {
		case string, float64, bool, nil:
			setAttr(&r, k, v)
		}
	}

	return r, nil
}

// Attr returns the named attribute and whether it was present.
func (r Report) Attr(name string) (any, bool) {
	v, ok := r.Attrs[name]
	return v, ok
}

func setAttr(r *Report, key string, v any) {
	if r.Attrs == nil {
		r.Attrs = make(map[string]any)
	}
	r.Attrs[key] = v
}

// asFloat accepts the numeric shapes encoding/json produces.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
