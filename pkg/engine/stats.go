package engine

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Stats collects engine counters. The driver loop is the only writer,
// but snapshots may be taken concurrently (e.g. by the stats HTTP
// endpoint), so access is guarded by a mutex.
type Stats struct {
	mu sync.Mutex

	reportsProcessed int64
	reportsDropped   int64
	flightsCreated   int64
	flightsExpired   int64
	callbacksFired   int64
	webhooksEnqueued int64
	webhooksDropped  int64
	asyncDropped     int64

	rules map[string]*ruleCounter
}

// ruleCounter tracks fires for a single rule, with a per-note
// breakdown for flights that carried a note when the rule fired.
type ruleCounter struct {
	count int64
	notes map[string]int64
}

func newStats() *Stats {
	return &Stats{rules: make(map[string]*ruleCounter)}
}

func (s *Stats) countReport() {
	s.mu.Lock()
	s.reportsProcessed++
	s.mu.Unlock()
}

func (s *Stats) countDrop() {
	s.mu.Lock()
	s.reportsDropped++
	s.mu.Unlock()
}

func (s *Stats) countCreated() {
	s.mu.Lock()
	s.flightsCreated++
	s.mu.Unlock()
}

func (s *Stats) countExpired(n int) {
	s.mu.Lock()
	s.flightsExpired += int64(n)
	s.mu.Unlock()
}

func (s *Stats) countCallback() {
	s.mu.Lock()
	s.callbacksFired++
	s.mu.Unlock()
}

func (s *Stats) countWebhook(enqueued bool) {
	s.mu.Lock()
	if enqueued {
		s.webhooksEnqueued++
	} else {
		s.webhooksDropped++
	}
	s.mu.Unlock()
}

func (s *Stats) countAsyncDrop() {
	s.mu.Lock()
	s.asyncDropped++
	s.mu.Unlock()
}

func (s *Stats) countFire(rule, note string) {
	s.mu.Lock()
	rc, ok := s.rules[rule]
	if !ok {
		rc = &ruleCounter{notes: make(map[string]int64)}
		s.rules[rule] = rc
	}
	rc.count++
	if note != "" {
		rc.notes[note]++
	}
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	ReportsProcessed int64 `json:"reports_processed"`
	ReportsDropped   int64 `json:"reports_dropped"`
	FlightsCreated   int64 `json:"flights_created"`
	FlightsExpired   int64 `json:"flights_expired"`
	CallbacksFired   int64 `json:"callbacks_fired"`
	WebhooksEnqueued int64 `json:"webhooks_enqueued"`
	WebhooksDropped  int64 `json:"webhooks_dropped"`
	AsyncDropped     int64 `json:"async_dropped"`

	// Rules maps rule name -> fire count with note breakdown.
	Rules map[string]RuleSnapshot `json:"rules"`
}

// RuleSnapshot is the per-rule slice of a Snapshot.
type RuleSnapshot struct {
	Count int64            `json:"count"`
	Notes map[string]int64 `json:"notes,omitempty"`
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ReportsProcessed: s.reportsProcessed,
		ReportsDropped:   s.reportsDropped,
		FlightsCreated:   s.flightsCreated,
		FlightsExpired:   s.flightsExpired,
		CallbacksFired:   s.callbacksFired,
		WebhooksEnqueued: s.webhooksEnqueued,
		WebhooksDropped:  s.webhooksDropped,
		AsyncDropped:     s.asyncDropped,
		Rules:            make(map[string]RuleSnapshot, len(s.rules)),
	}
	for name, rc := range s.rules {
		rs := RuleSnapshot{Count: rc.count}
		if len(rc.notes) > 0 {
			rs.Notes = make(map[string]int64, len(rc.notes))
			for n, c := range rc.notes {
				rs.Notes[n] = c
			}
		}
		snap.Rules[name] = rs
	}
	return snap
}

// RuleCount returns the fire count for one rule.
func (s *Stats) RuleCount(rule string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rc, ok := s.rules[rule]; ok {
		return rc.count
	}
	return 0
}

// writeReport prints the final per-rule report for rules carrying a
// track action, in the order given.
func (s *Stats) writeReport(w io.Writer, tracked []string) {
	snap := s.Snapshot()
	for _, name := range tracked {
		rs := snap.Rules[name]
		fmt.Fprintf(w, "Rule %s matched %d times.\n", name, rs.Count)

		notes := make([]string, 0, len(rs.Notes))
		for n := range rs.Notes {
			notes = append(notes, n)
		}
		sort.Strings(notes)
		for _, n := range notes {
			fmt.Fprintf(w, "    Including %s %d times.\n", n, rs.Notes[n])
		}
	}
}
