package engine

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/skyops/rulescope/pkg/adsb"
	"github.com/skyops/rulescope/pkg/config"
	"github.com/skyops/rulescope/pkg/geo"
	"github.com/skyops/rulescope/pkg/regions"
)

// testRegions builds a two-region set programmatically: ALPHA covers
// 39-40N / 120-119W, BRAVO covers 41-42N / 120-119W.
func testRegions() *regions.Set {
	square := func(name string, minLat, maxLat float64) *regions.Region {
		return &regions.Region{
			Name: name,
			Polygon: []geo.Point{
				{Lat: minLat, Lon: -120},
				{Lat: minLat, Lon: -119},
				{Lat: maxLat, Lon: -119},
				{Lat: maxLat, Lon: -120},
			},
		}
	}
	return &regions.Set{Files: []*regions.File{{
		Path:    "test.kml",
		Regions: []*regions.Region{square("ALPHA", 39, 40), square("BRAVO", 41, 42)},
	}}}
}

// sliceSource replays a fixed report slice.
type sliceSource struct {
	reports []adsb.Report
	pos     int
}

func (s *sliceSource) Next(ctx context.Context) (adsb.Report, error) {
	if s.pos >= len(s.reports) {
		return adsb.Report{}, io.EOF
	}
	rep := s.reports[s.pos]
	s.pos++
	return rep, nil
}

// fakeNotifier records webhook deliveries.
type fakeNotifier struct {
	kinds    map[string]bool
	messages []string
}

func (n *fakeNotifier) Notify(kind, target, message string) bool {
	n.messages = append(n.messages, kind+"|"+target+"|"+message)
	return true
}

func (n *fakeNotifier) Supports(kind string) bool { return n.kinds[kind] }

func rep(id string, ts, lat, lon, alt float64) adsb.Report {
	return adsb.Report{ID: id, Timestamp: ts, Lat: lat, Lon: lon, AltBaro: alt, HasAlt: true}
}

// inAlpha is a position inside ALPHA; outside is in neither region.
func inAlpha(id string, ts float64) adsb.Report { return rep(id, ts, 39.5, -119.5, 5000) }
func inBravo(id string, ts float64) adsb.Report { return rep(id, ts, 41.5, -119.5, 5000) }
func outside(id string, ts float64) adsb.Report { return rep(id, ts, 50.0, -110.0, 5000) }

func buildEngine(t *testing.T, yaml string, out io.Writer) *Engine {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("config parse failed: %v", err)
	}
	eng, err := New(cfg, Options{Regions: testRegions(), Output: out})
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func run(t *testing.T, eng *Engine, reports []adsb.Report) {
	t.Helper()
	if err := eng.Run(context.Background(), &sliceSource{reports: reports}); err != nil {
		t.Fatalf("engine run failed: %v", err)
	}
}

func TestTransitionFiresOnceOnEntry(t *testing.T) {
	eng := buildEngine(t, `
rules:
  entered:
    conditions:
      transition_regions: [ ~, "ALPHA" ]
    actions:
      track: true
`, io.Discard)

	// First point already inside: creation counts as none -> ALPHA.
	// Staying inside must not re-fire; leaving and re-entering must.
	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		inAlpha("N1", 10),
		inAlpha("N1", 20),
		outside("N1", 30),
		inAlpha("N1", 40),
	})

	if got := eng.Stats().RuleCount("entered"); got != 2 {
		t.Errorf("Expected 2 fires (entry and re-entry), got %d", got)
	}
}

func TestTransitionToNone(t *testing.T) {
	eng := buildEngine(t, `
rules:
  departed:
    conditions:
      transition_regions: [ "ALPHA", ~ ]
    actions:
      track: true
`, io.Discard)

	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		outside("N1", 10),
		outside("N1", 20),
	})

	if got := eng.Stats().RuleCount("departed"); got != 1 {
		t.Errorf("Expected 1 fire on exit, got %d", got)
	}
}

func TestCooldownSuppression(t *testing.T) {
	eng := buildEngine(t, `
rules:
  seen:
    conditions:
      regions: [ "ALPHA" ]
      cooldown: 1
    actions:
      track: true
`, io.Discard)

	// Matches at t=0; suppressed at t=30; eligible again at t=60.
	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		inAlpha("N1", 30),
		inAlpha("N1", 60),
	})

	if got := eng.Stats().RuleCount("seen"); got != 2 {
		t.Errorf("Expected 2 fires across cooldown, got %d", got)
	}
}

func TestCooldownIsPerFlight(t *testing.T) {
	eng := buildEngine(t, `
rules:
  seen:
    conditions:
      regions: [ "ALPHA" ]
      cooldown: 10
    actions:
      track: true
`, io.Discard)

	// Two different flights each fire despite the shared rule.
	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		inAlpha("N2", 1),
		inAlpha("N1", 2),
		inAlpha("N2", 3),
	})

	if got := eng.Stats().RuleCount("seen"); got != 2 {
		t.Errorf("Expected one fire per flight, got %d", got)
	}
}

func TestRuleCooldownIsGlobal(t *testing.T) {
	eng := buildEngine(t, `
rules:
  seen:
    conditions:
      regions: [ "ALPHA" ]
      rule_cooldown: 10
    actions:
      track: true
`, io.Discard)

	// The second flight arrives inside the rule-wide cooldown and is
	// suppressed even though it never fired itself.
	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		inAlpha("N2", 1),
	})

	if got := eng.Stats().RuleCount("seen"); got != 1 {
		t.Errorf("Expected rule-wide cooldown to suppress second flight, got %d", got)
	}
}

func TestProximityPairs(t *testing.T) {
	var pairs []string
	eng := buildEngine(t, `
rules:
  close:
    conditions:
      proximity: [ 400, 1.0 ]
    actions:
      callback: "onClose"
      track: true
`, io.Discard)
	eng.RegisterCallback("onClose", func(f FlightView, partner *FlightView) {
		if partner == nil {
			t.Error("Expected a partner for proximity match")
			return
		}
		pairs = append(pairs, f.ID+">"+partner.ID)
	})

	// N1 and N2 converge within 1 nm / 400 ft; N3 stays far away.
	run(t, eng, []adsb.Report{
		rep("N1", 0, 39.50, -119.50, 5000),
		rep("N3", 1, 45.00, -100.00, 5000),
		rep("N2", 2, 39.505, -119.50, 5200),
	})

	// Only the N2 update sees a partner already in the store; N1's
	// update came before N2 existed.
	if len(pairs) != 1 || pairs[0] != "N2>N1" {
		t.Errorf("Expected single pair N2>N1, got %v", pairs)
	}
}

func TestProximityRequiresFreshPartner(t *testing.T) {
	eng := buildEngine(t, `
rules:
  close:
    conditions:
      proximity: [ 400, 1.0 ]
    actions:
      track: true
`, io.Discard)

	// Partner's last report is 100 s stale by the time N2 shows up,
	// beyond the pairing freshness window.
	run(t, eng, []adsb.Report{
		rep("N1", 0, 39.50, -119.50, 5000),
		rep("N2", 100, 39.505, -119.50, 5200),
	})

	if got := eng.Stats().RuleCount("close"); got != 0 {
		t.Errorf("Expected no fire against stale partner, got %d", got)
	}
}

func TestExpireCallback(t *testing.T) {
	var expired []string
	eng := buildEngine(t, `
config:
  expire_secs: 60
rules:
  watch:
    conditions:
      regions: [ "ALPHA" ]
    actions:
      expire_callback: "onGone"
`, io.Discard)
	eng.RegisterCallback("onGone", func(f FlightView, partner *FlightView) {
		expired = append(expired, f.ID)
	})

	// N1 matches at t=0 arming the hook, then goes silent. N2 keeps
	// the stream clock moving so the sweep runs.
	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		outside("N2", 30),
		outside("N2", 65),
		outside("N2", 95),
	})

	// Final sweep also evicts N2, but only N1 armed a hook.
	if len(expired) != 1 || expired[0] != "N1" {
		t.Errorf("Expected expire callback for N1 only, got %v", expired)
	}
}

func TestExpireCallbackFiresOnceAtFinalSweep(t *testing.T) {
	var expired []string
	eng := buildEngine(t, `
rules:
  watch:
    conditions:
      regions: [ "ALPHA" ]
      cooldown: 60
    actions:
      expire_callback: "onGone"
`, io.Discard)
	eng.RegisterCallback("onGone", func(f FlightView, partner *FlightView) {
		expired = append(expired, f.ID)
	})

	// Stream ends while N1 is still live; the final sweep evicts it
	// and fires the armed hook exactly once.
	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		inAlpha("N1", 10),
	})

	if len(expired) != 1 || expired[0] != "N1" {
		t.Errorf("Expected exactly one expire callback at end of stream, got %v", expired)
	}
}

func TestAircraftListsAndSubstrs(t *testing.T) {
	eng := buildEngine(t, `
aircraft_lists:
  fleet: [ "N1", "N2" ]
rules:
  ours:
    conditions:
      aircraft_list: "fleet"
      exclude_aircraft_substrs: [ "TEST" ]
    actions:
      track: true
`, io.Discard)

	run(t, eng, []adsb.Report{
		outside("N1", 0),     // in list
		outside("N9", 1),     // not in list
		outside("N2", 2),     // in list
		outside("N1TEST", 3), // excluded substring (and not in list)
	})

	if got := eng.Stats().RuleCount("ours"); got != 2 {
		t.Errorf("Expected 2 fires for listed aircraft, got %d", got)
	}
}

func TestExcludeAircraftList(t *testing.T) {
	eng := buildEngine(t, `
aircraft_lists:
  ignored: [ "N1" ]
rules:
  others:
    conditions:
      regions: [ "ALPHA" ]
      exclude_aircraft_list: "ignored"
    actions:
      track: true
`, io.Discard)

	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		inAlpha("N2", 1),
	})

	if got := eng.Stats().RuleCount("others"); got != 1 {
		t.Errorf("Expected excluded aircraft suppressed, got %d fires", got)
	}
}

func TestRegionsEmptyListMatchesNoRegion(t *testing.T) {
	eng := buildEngine(t, `
rules:
  nowhere:
    conditions:
      regions: []
    actions:
      track: true
  somewhere:
    conditions:
      regions: [ "ALPHA", "BRAVO" ]
    actions:
      track: true
`, io.Discard)

	run(t, eng, []adsb.Report{
		outside("N1", 0),
		inAlpha("N2", 1),
		inBravo("N3", 2),
	})

	if got := eng.Stats().RuleCount("nowhere"); got != 1 {
		t.Errorf("Expected regions [] to match only the out-of-region flight, got %d", got)
	}
	if got := eng.Stats().RuleCount("somewhere"); got != 2 {
		t.Errorf("Expected named regions to match both in-region flights, got %d", got)
	}
}

func TestAltitudeGates(t *testing.T) {
	eng := buildEngine(t, `
rules:
  band:
    conditions:
      min_alt: 4000
      max_alt: 6000
    actions:
      track: true
`, io.Discard)

	noAlt := adsb.Report{ID: "N4", Timestamp: 3, Lat: 50, Lon: -110}
	run(t, eng, []adsb.Report{
		rep("N1", 0, 50, -110, 5000), // inside band
		rep("N2", 1, 50, -110, 3000), // below
		rep("N3", 2, 50, -110, 7000), // above
		noAlt,                        // unknown altitude never matches a gate
	})

	if got := eng.Stats().RuleCount("band"); got != 1 {
		t.Errorf("Expected only the in-band flight, got %d fires", got)
	}
}

func TestNoteSetAndClear(t *testing.T) {
	eng := buildEngine(t, `
rules:
  tag:
    conditions:
      transition_regions: [ ~, "ALPHA" ]
    actions:
      note: "arrived"
  untag:
    conditions:
      transition_regions: [ "ALPHA", ~ ]
    actions:
      note: ~
`, io.Discard)

	src := &sliceSource{reports: []adsb.Report{inAlpha("N1", 0)}}
	if err := eng.Run(context.Background(), src); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// Run's final sweep evicted the flight; drive process directly to
	// inspect note state mid-stream.
	f, _ := eng.store.Update(inAlpha("N1", 100))
	eng.process(f, 100)
	if note, ok := f.Note("tag"); !ok || note != "arrived" {
		t.Fatalf("Expected note arrived after entry, got %q (%v)", note, ok)
	}

	eng.store.Update(outside("N1", 110))
	f = eng.store.Get("N1")
	eng.process(f, 110)
	if _, ok := f.Note("untag"); ok {
		t.Error("Expected null note to clear, not set")
	}
	// Notes are keyed by the rule that set them; untag's clear does
	// not touch tag's entry.
	if note, ok := f.Note("tag"); !ok || note != "arrived" {
		t.Errorf("Expected tag note to survive, got %q (%v)", note, ok)
	}
}

func TestNoteAppearsInPrintLine(t *testing.T) {
	var out bytes.Buffer
	eng := buildEngine(t, `
rules:
  tag:
    conditions:
      regions: [ "ALPHA" ]
    actions:
      note: "vip"
      print: true
`, &out)

	run(t, eng, []adsb.Report{inAlpha("N1", 1700000000)})

	line := out.String()
	if !strings.Contains(line, "Rule tag matched for") {
		t.Errorf("Expected match line, got %q", line)
	}
	if !strings.Contains(line, "vip") {
		t.Errorf("Expected note in match line, got %q", line)
	}
	if !strings.Contains(line, "[ALPHA]") {
		t.Errorf("Expected region list in match line, got %q", line)
	}
}

func TestActionOrderLastWins(t *testing.T) {
	// note declared, then print, then note again: the surviving note
	// is the second and fires after print.
	cfg, err := config.Parse([]byte(`
rules:
  r:
    actions:
      note: "first"
      print: true
      note: "second"
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	order := cfg.Rules[0].Actions.Order
	if len(order) != 2 || order[0] != "print" || order[1] != "note" {
		t.Fatalf("Expected print before repositioned note, got %v", order)
	}

	eng, err := New(cfg, Options{Regions: testRegions(), Output: io.Discard})
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	defer eng.Close()

	f, _ := eng.store.Update(outside("N1", 0))
	eng.process(f, 0)
	if note, _ := f.Note("r"); note != "second" {
		t.Errorf("Expected later note declaration to win, got %q", note)
	}
}

func TestWebhookDispatch(t *testing.T) {
	cfg, err := config.Parse([]byte(`
rules:
  alert:
    conditions:
      regions: [ "ALPHA" ]
    actions:
      webhook: [ "slack", "ops" ]
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	notifier := &fakeNotifier{kinds: map[string]bool{"slack": true}}
	eng, err := New(cfg, Options{Regions: testRegions(), Notifier: notifier, Output: io.Discard})
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	defer eng.Close()

	run(t, eng, []adsb.Report{inAlpha("N1", 0)})

	if len(notifier.messages) != 1 {
		t.Fatalf("Expected 1 webhook, got %d", len(notifier.messages))
	}
	if !strings.HasPrefix(notifier.messages[0], "slack|ops|") {
		t.Errorf("Expected kind and target forwarded, got %q", notifier.messages[0])
	}
}

func TestUnsupportedWebhookKindFailsStartup(t *testing.T) {
	cfg, err := config.Parse([]byte(`
rules:
  alert:
    actions:
      webhook: [ "pigeon", "ops" ]
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	notifier := &fakeNotifier{kinds: map[string]bool{"slack": true}}
	eng, err := New(cfg, Options{Regions: testRegions(), Notifier: notifier, Output: io.Discard})
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	defer eng.Close()

	err = eng.Run(context.Background(), &sliceSource{})
	if err == nil || !strings.Contains(err.Error(), "pigeon") {
		t.Errorf("Expected startup failure naming the kind, got %v", err)
	}
}

func TestUnregisteredCallbackFailsStartup(t *testing.T) {
	eng := buildEngine(t, `
rules:
  r:
    actions:
      callback: "missing"
`, io.Discard)

	err := eng.Run(context.Background(), &sliceSource{})
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("Expected startup failure naming the callback, got %v", err)
	}
}

func TestUnknownRegionFailsBuild(t *testing.T) {
	cfg, err := config.Parse([]byte(`
rules:
  r:
    conditions:
      regions: [ "NOWHERE" ]
`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := New(cfg, Options{Regions: testRegions()}); err == nil {
		t.Error("Expected build failure for unknown region name")
	}
}

func TestOutOfOrderReportsDropped(t *testing.T) {
	eng := buildEngine(t, `
rules:
  seen:
    conditions:
      regions: [ "ALPHA" ]
    actions:
      track: true
`, io.Discard)

	run(t, eng, []adsb.Report{
		inAlpha("N1", 1000),
		inAlpha("N2", 900), // 100 s behind high water: dropped
		inAlpha("N3", 950), // 50 s behind: within tolerance
	})

	if got := eng.Stats().RuleCount("seen"); got != 2 {
		t.Errorf("Expected stale report dropped, got %d fires", got)
	}
	snap := eng.Stats().Snapshot()
	if snap.ReportsDropped != 1 {
		t.Errorf("Expected 1 dropped report, got %d", snap.ReportsDropped)
	}
}

func TestDropErrorsCountedNotFatal(t *testing.T) {
	eng := buildEngine(t, `
rules:
  seen:
    conditions:
      regions: [ "ALPHA" ]
    actions:
      track: true
`, io.Discard)

	src := &errorThenReports{
		errs:    []error{adsb.ErrNoPosition, adsb.ErrNoIdentifier},
		reports: []adsb.Report{inAlpha("N1", 0)},
	}
	if err := eng.Run(context.Background(), src); err != nil {
		t.Fatalf("Expected drop errors to be non-fatal, got %v", err)
	}

	snap := eng.Stats().Snapshot()
	if snap.ReportsDropped != 2 {
		t.Errorf("Expected 2 drops, got %d", snap.ReportsDropped)
	}
	if got := eng.Stats().RuleCount("seen"); got != 1 {
		t.Errorf("Expected stream to continue after drops, got %d fires", got)
	}
}

type errorThenReports struct {
	errs    []error
	reports []adsb.Report
	pos     int
}

func (s *errorThenReports) Next(ctx context.Context) (adsb.Report, error) {
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return adsb.Report{}, err
	}
	if s.pos >= len(s.reports) {
		return adsb.Report{}, io.EOF
	}
	rep := s.reports[s.pos]
	s.pos++
	return rep, nil
}

func TestLatLongRing(t *testing.T) {
	eng := buildEngine(t, `
rules:
  near:
    conditions:
      latlongring: [ 10, 39.5, -119.5 ]
    actions:
      track: true
`, io.Discard)

	run(t, eng, []adsb.Report{
		rep("N1", 0, 39.5, -119.5, 5000), // center
		rep("N2", 1, 39.6, -119.5, 5000), // ~6 nm north
		rep("N3", 2, 41.0, -119.5, 5000), // ~90 nm north
	})

	if got := eng.Stats().RuleCount("near"); got != 2 {
		t.Errorf("Expected 2 flights inside ring, got %d", got)
	}
}

func TestGridIndexIsTransparent(t *testing.T) {
	const rules = `
config:
  grid_index: %v
rules:
  near:
    conditions:
      latlongring: [ 10, 39.5, -119.5 ]
    actions:
      track: true
  anywhere:
    conditions:
      min_alt: 0
    actions:
      track: true
`
	reports := []adsb.Report{
		rep("N1", 0, 39.5, -119.5, 5000),
		rep("N2", 1, 39.6, -119.5, 5000),
		rep("N3", 2, 41.0, -119.5, 5000),
		rep("N4", 3, 38.9, -119.9, 5000), // near a cell boundary
	}

	counts := func(gridOn string) (int64, int64) {
		var yaml string
		if gridOn == "on" {
			yaml = strings.Replace(rules, "%v", "true", 1)
		} else {
			yaml = strings.Replace(rules, "%v", "false", 1)
		}
		eng := buildEngine(t, yaml, io.Discard)
		run(t, eng, reports)
		return eng.Stats().RuleCount("near"), eng.Stats().RuleCount("anywhere")
	}

	nearOn, anyOn := counts("on")
	nearOff, anyOff := counts("off")
	if nearOn != nearOff {
		t.Errorf("Grid index changed ring results: %d vs %d", nearOn, nearOff)
	}
	if anyOn != anyOff {
		t.Errorf("Grid index affected non-ring rule: %d vs %d", anyOn, anyOff)
	}
}

func TestGridIndexWrapsAntimeridian(t *testing.T) {
	const rules = `
config:
  grid_index: %v
rules:
  near:
    conditions:
      latlongring: [ 30, 0.0, 179.8 ]
    actions:
      track: true
`
	reports := []adsb.Report{
		rep("N1", 0, 0.0, -179.9, 5000), // across the date line from the center
		rep("N2", 1, 0.0, 179.9, 5000),
		rep("N3", 2, 0.0, 170.0, 5000), // well outside the ring
	}

	counts := func(gridOn string) int64 {
		yaml := strings.Replace(rules, "%v", gridOn, 1)
		eng := buildEngine(t, yaml, io.Discard)
		run(t, eng, reports)
		return eng.Stats().RuleCount("near")
	}

	on, off := counts("true"), counts("false")
	if on != off {
		t.Errorf("Grid index changed ring results across the antimeridian: on=%d off=%d", on, off)
	}
	if off != 2 {
		t.Errorf("Expected both flights near the date line inside the ring, got %d", off)
	}
}

func TestHasAttrTruthiness(t *testing.T) {
	eng := buildEngine(t, `
rules:
  squawking:
    conditions:
      has_attr: "emergency"
    actions:
      track: true
`, io.Discard)

	with := func(id string, ts float64, v any) adsb.Report {
		r := outside(id, ts)
		r.Attrs = map[string]any{"emergency": v}
		return r
	}

	run(t, eng, []adsb.Report{
		with("N1", 0, "7700"), // truthy string
		with("N2", 1, ""),     // empty string: falsy
		with("N3", 2, 0.0),    // numeric zero: falsy
		with("N4", 3, false),  // false: falsy
		with("N5", 4, nil),    // null: falsy
		outside("N6", 5),      // absent: falsy
		with("N7", 6, true),   // truthy bool
	})

	if got := eng.Stats().RuleCount("squawking"); got != 2 {
		t.Errorf("Expected only truthy attribute values to match, got %d", got)
	}
}

func TestFinalReport(t *testing.T) {
	var out bytes.Buffer
	eng := buildEngine(t, `
rules:
  counted:
    conditions:
      regions: [ "ALPHA" ]
    actions:
      track: true
      note: "vip"
  silent:
    conditions:
      regions: [ "BRAVO" ]
`, io.Discard)

	// Two reports per flight: the first fire sets the note, so the
	// second fire is counted under it.
	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		inAlpha("N2", 1),
		inAlpha("N1", 2),
		inAlpha("N2", 3),
		inBravo("N3", 4),
	})

	eng.out = &out
	eng.FinalReport()

	report := out.String()
	if !strings.Contains(report, "Rule counted matched 4 times.") {
		t.Errorf("Expected tracked rule in report, got %q", report)
	}
	if strings.Contains(report, "silent") {
		t.Errorf("Expected untracked rule omitted, got %q", report)
	}
	if !strings.Contains(report, "Including vip 2 times.") {
		t.Errorf("Expected note breakdown, got %q", report)
	}
}

func TestLiveFlightsSnapshot(t *testing.T) {
	eng := buildEngine(t, `
config:
  expire_secs: 600
rules:
  r:
    conditions:
      min_alt: 100000
`, io.Discard)

	// Sweeps run every 30 s of stream time and publish the snapshot.
	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		inAlpha("N2", 10),
		inAlpha("N1", 40),
	})

	// After the final sweep everything is evicted.
	if got := len(eng.LiveFlights()); got != 0 {
		t.Errorf("Expected empty snapshot after final sweep, got %d", got)
	}
	snap := eng.Stats().Snapshot()
	if snap.FlightsCreated != 2 || snap.FlightsExpired != 2 {
		t.Errorf("Expected 2 created / 2 expired, got %d / %d",
			snap.FlightsCreated, snap.FlightsExpired)
	}
}

func TestCallbackPanicIsContained(t *testing.T) {
	eng := buildEngine(t, `
rules:
  r:
    conditions:
      regions: [ "ALPHA" ]
    actions:
      callback: "explode"
      track: true
`, io.Discard)
	eng.RegisterCallback("explode", func(f FlightView, partner *FlightView) {
		panic("handler bug")
	})

	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		inAlpha("N2", 1),
	})

	if got := eng.Stats().RuleCount("r"); got != 2 {
		t.Errorf("Expected stream to survive panicking callback, got %d fires", got)
	}
}

func TestMinMaxTime(t *testing.T) {
	// 1700000000 is 2023-11-14 22:13:20 UTC.
	eng := buildEngine(t, `
rules:
  evening:
    conditions:
      min_time: 2200
      max_time: 2300
    actions:
      track: true
  morning:
    conditions:
      min_time: 600
      max_time: 900
    actions:
      track: true
`, io.Discard)

	run(t, eng, []adsb.Report{outside("N1", 1700000000)})

	if got := eng.Stats().RuleCount("evening"); got != 1 {
		t.Errorf("Expected evening rule to match 22:13 UTC, got %d", got)
	}
	if got := eng.Stats().RuleCount("morning"); got != 0 {
		t.Errorf("Expected morning rule not to match, got %d", got)
	}
}

func TestShellTemplateQuotesFeedText(t *testing.T) {
	f := &Flight{
		ID:    "N1$(touch /tmp/pwned)",
		Last:  adsb.Report{Lat: 40.0, Lon: -119.5, AltBaro: 5000},
		Notes: map[string]string{"alert": "it's here"},
	}
	r := &Rule{Name: "alert"}

	got := expandShell("notify.sh {flight_id} {note} {lat}", r, f)
	want := `notify.sh 'N1$(touch /tmp/pwned)' 'it'\''s here' 40.000000`
	if got != want {
		t.Errorf("Expected feed text quoted for the shell, got %q", got)
	}
}

func TestDefaultExpiryForProgrammaticConfig(t *testing.T) {
	// A Config built in code (not via config.Parse) carries no expiry
	// window; the engine falls back to the default instead of evicting
	// every flight at the first sweep.
	eng, err := New(&config.Config{}, Options{Regions: testRegions(), Output: io.Discard})
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}
	t.Cleanup(eng.Close)

	run(t, eng, []adsb.Report{
		inAlpha("N1", 0),
		inAlpha("N2", 40), // crosses a sweep boundary
		inAlpha("N1", 50),
	})

	snap := eng.Stats().Snapshot()
	if snap.FlightsCreated != 2 {
		t.Errorf("Expected N1 to survive the sweep, got %d flight creations", snap.FlightsCreated)
	}
}
