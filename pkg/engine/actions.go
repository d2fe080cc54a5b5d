package engine

import (
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Notifier delivers outbound webhook messages. Implementations own
// their queueing and must not block the caller; Notify reports
// whether the message was accepted. Supports is consulted at startup
// to validate webhook action kinds.
type Notifier interface {
	Notify(kind, target, message string) bool
	Supports(kind string) bool
}

// EventSink archives fired-rule events. Implementations must not
// block; the engine invokes them from its background worker pool.
type EventSink interface {
	RecordEvent(ev Event) error
}

// Event describes one rule firing, as handed to an EventSink.
type Event struct {
	Rule      string
	FlightID  string
	Timestamp float64
	Lat       float64
	Lon       float64
	AltBaro   float64
	Note      string
}

// dispatch executes the matched rule's actions in declared order.
// partner is non-nil for proximity matches. Action failures are
// logged and counted but never stop later actions or rules.
func (e *Engine) dispatch(r *Rule, f *Flight, partner *Flight, now float64) {
	e.stats.countFire(r.Name, f.anyNote(r.Name))

	if e.sink != nil {
		ev := Event{
			Rule:      r.Name,
			FlightID:  f.ID,
			Timestamp: now,
			Lat:       f.Last.Lat,
			Lon:       f.Last.Lon,
			AltBaro:   f.Last.AltBaro,
			Note:      f.anyNote(r.Name),
		}
		e.submitAsync(func() {
			if err := e.sink.RecordEvent(ev); err != nil {
				log.Printf("engine: event sink: %v", err)
			}
		})
	}

	for _, kind := range r.acts.Order {
		switch kind {
		case "callback":
			e.runCallback(*r.acts.Callback, f, partner)
		case "expire_callback":
			// Armed now, fired when the flight is evicted.
			f.expireHooks[r.Index] = *r.acts.ExpireCallback
		case "print":
			if r.acts.Print {
				fmt.Fprintln(e.out, e.matchLine(r, f, now))
			}
		case "note":
			f.setNote(r.Name, r.acts.Note)
		case "track":
			// Counting happens for every fire; the track flag only
			// selects the rule for the final report.
		case "webhook":
			e.sendWebhook(r, f, now)
		case "shell":
			e.runShell(*r.acts.Shell, r, f)
		}
	}
}

// runCallback invokes a user handler inline. Panics are recovered and
// logged so a misbehaving handler cannot kill the stream.
func (e *Engine) runCallback(name string, f *Flight, partner *Flight) {
	cb, ok := e.callbacks[name]
	if !ok {
		// Unreachable after startup validation; belt and braces for
		// direct process() calls in tests.
		log.Printf("engine: no callback registered under %q", name)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("engine: callback %q panicked: %v", name, rec)
		}
	}()

	e.stats.countCallback()
	if partner != nil {
		pv := partner.View()
		cb(f.View(), &pv)
		return
	}
	cb(f.View(), nil)
}

// matchLine renders the one-line match summary used by print actions
// and webhook message bodies.
func (e *Engine) matchLine(r *Rule, f *Flight, now float64) string {
	ts := time.Unix(int64(now), 0).In(e.loc).Format("01/02/06 15:04")
	line := fmt.Sprintf("%s: Rule %s matched for %s %v", ts, r.Name, f.Last.String(), f.CurrentRegions)
	if note := f.anyNote(r.Name); note != "" {
		line += " " + note
	}
	return line
}

func (e *Engine) sendWebhook(r *Rule, f *Flight, now float64) {
	kind, target := r.acts.Webhook[0], r.acts.Webhook[1]
	if e.notifier == nil {
		log.Printf("engine: rule %q: no webhook transport configured, dropping %s message", r.Name, kind)
		e.stats.countWebhook(false)
		return
	}
	ok := e.notifier.Notify(kind, target, e.matchLine(r, f, now))
	e.stats.countWebhook(ok)
}

// runShell template-expands the command and spawns it on the worker
// pool. Output is discarded; a nonzero exit is logged.
func (e *Engine) runShell(tmpl string, r *Rule, f *Flight) {
	cmd := expandShell(tmpl, r, f)
	e.submitAsync(func() {
		c := exec.Command("/bin/sh", "-c", cmd)
		c.Stdout = nil
		c.Stderr = nil
		if err := c.Run(); err != nil {
			log.Printf("engine: rule %q: shell action: %v", r.Name, err)
		}
	})
}

// expandShell substitutes flight fields into a shell action template.
// Text that originates in the feed (identifiers, notes) is
// single-quoted so the shell never evaluates it.
func expandShell(tmpl string, r *Rule, f *Flight) string {
	repl := strings.NewReplacer(
		"{flight_id}", shellQuote(f.ID),
		"{rule}", shellQuote(r.Name),
		"{lat}", strconv.FormatFloat(f.Last.Lat, 'f', 6, 64),
		"{lon}", strconv.FormatFloat(f.Last.Lon, 'f', 6, 64),
		"{alt}", strconv.FormatFloat(f.Last.AltBaro, 'f', 0, 64),
		"{note}", shellQuote(f.anyNote(r.Name)),
	)
	return repl.Replace(tmpl)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// submitAsync queues work onto the bounded background pool, dropping
// with a log line when the queue is full.
func (e *Engine) submitAsync(fn func()) {
	select {
	case e.asyncQueue <- fn:
	default:
		e.stats.countAsyncDrop()
		log.Printf("engine: background queue full, dropping task")
	}
}
