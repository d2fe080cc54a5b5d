// Package engine is the streaming rule engine: it aggregates ADS-B
// point reports into per-aircraft flights, resolves region
// membership, evaluates the configured rules for every point, and
// dispatches actions. All scheduling (cooldowns, expiration) is
// driven by the timestamps carried in the stream, never by the wall
// clock, so replayed data behaves identically to live data.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/skyops/rulescope/pkg/adsb"
	"github.com/skyops/rulescope/pkg/config"
	"github.com/skyops/rulescope/pkg/regions"
)

const (
	// sweepIntervalSecs is how often, in stream time, the expiration
	// sweep runs.
	sweepIntervalSecs = 30

	// maxLateSecs is the out-of-order tolerance: reports more than
	// this far behind the stream high-water mark are dropped.
	maxLateSecs = 60

	// asyncQueueSize bounds the background pool for webhook, shell
	// and archive work. Overflow drops with a log line.
	asyncQueueSize = 1024

	// asyncWorkers is the size of the background pool.
	asyncWorkers = 4

	// defaultExpireSecs is the flight expiry window used when the
	// config does not set one. config.Parse applies the same default;
	// this one covers configs built in code.
	defaultExpireSecs = 600
)

// Source produces reports in stream-timestamp order. Next blocks
// until a report is available, returns io.EOF when the source is
// exhausted, and a drop error (see adsb.IsDropError) for records the
// engine should count and skip.
type Source interface {
	Next(ctx context.Context) (adsb.Report, error)
}

// Options carries the engine's optional collaborators.
type Options struct {
	// Regions overrides loading cfg.Engine.KMLs, for callers that
	// build region sets programmatically (tests, embedders).
	Regions *regions.Set

	// Notifier delivers webhook actions. Rules with webhook actions
	// fail startup validation when no transport supports their kind.
	Notifier Notifier

	// Sink archives fired-rule events, if non-nil.
	Sink EventSink

	// Output receives print actions and the final report.
	// Defaults to os.Stdout.
	Output io.Writer
}

// Engine evaluates a rule set over a report stream. Construct with
// New, register callbacks, then Run. The driver loop owns all flight
// and rule state; only Stats and LiveFlights are safe to call from
// other goroutines while Run is in progress.
type Engine struct {
	cfg     *config.Config
	regions *regions.Set
	rules   []*Rule
	store   *Store
	stats   *Stats
	grid    *gridIndex

	callbacks map[string]Callback
	notifier  Notifier
	sink      EventSink
	out       io.Writer
	loc       *time.Location

	asyncQueue chan func()
	asyncWG    sync.WaitGroup
	closeOnce  sync.Once

	// published flight views for concurrent readers (stats API).
	viewMu sync.RWMutex
	views  []FlightView
}

// New builds an engine from a parsed configuration: loads region
// files, compiles rules, and starts the background worker pool.
// Callback names are validated later, at Run, so callers can register
// callbacks after construction.
func New(cfg *config.Config, opts Options) (*Engine, error) {
	rs := opts.Regions
	if rs == nil {
		var err error
		rs, err = regions.LoadSet(cfg.Engine.KMLs)
		if err != nil {
			return nil, err
		}
	}

	rules, err := compileRules(cfg, rs)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if cfg.Engine.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Engine.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", cfg.Engine.Timezone, err)
		}
	} else if usesTimeConditions(rules) {
		log.Printf("WARNING: min_time/max_time rules present but no timezone configured; using UTC")
	}

	expireSecs := cfg.Engine.ExpireSecs
	if expireSecs <= 0 {
		expireSecs = defaultExpireSecs
	}

	e := &Engine{
		cfg:        cfg,
		regions:    rs,
		rules:      rules,
		store:      newStore(rs, len(rules), expireSecs),
		stats:      newStats(),
		callbacks:  make(map[string]Callback),
		notifier:   opts.Notifier,
		sink:       opts.Sink,
		out:        opts.Output,
		loc:        loc,
		asyncQueue: make(chan func(), asyncQueueSize),
	}
	if e.out == nil {
		e.out = os.Stdout
	}
	if cfg.Engine.GridIndex {
		e.grid = buildGridIndex(rules)
	}

	for i := 0; i < asyncWorkers; i++ {
		e.asyncWG.Add(1)
		go func() {
			defer e.asyncWG.Done()
			for fn := range e.asyncQueue {
				fn()
			}
		}()
	}

	return e, nil
}

// RegisterCallback binds a handler to the name used by callback and
// expire_callback actions. Must be called before Run; the registry is
// read-only afterwards.
func (e *Engine) RegisterCallback(name string, cb Callback) {
	e.callbacks[name] = cb
}

// Stats returns the engine's counters. Safe for concurrent use.
func (e *Engine) Stats() *Stats { return e.stats }

// LiveFlights returns the most recently published snapshot of live
// flights. The snapshot is refreshed at every expiration sweep, so it
// may lag the stream by up to the sweep interval. Safe for concurrent
// use.
func (e *Engine) LiveFlights() []FlightView {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	return e.views
}

// Close stops the background worker pool, draining queued work.
// Call after Run returns.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.asyncQueue)
		e.asyncWG.Wait()
	})
}

// Run processes the source until exhaustion or cancellation. On
// either, a final expiration sweep evicts every remaining flight and
// fires its armed expire callbacks.
//
// Run validates callback names and webhook kinds up front: a rule
// referencing an unregistered callback or an unsupported webhook
// transport is a startup error and nothing is processed.
func (e *Engine) Run(ctx context.Context, src Source) error {
	if err := e.checkBindings(); err != nil {
		return err
	}

	var highWater float64
	var lastSweep float64

	for {
		if ctx.Err() != nil {
			break
		}

		rep, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if adsb.IsDropError(err) {
				e.stats.countDrop()
				continue
			}
			e.finalSweep()
			return fmt.Errorf("source: %w", err)
		}

		if rep.Timestamp < highWater-maxLateSecs {
			// Too far out of order to evaluate coherently.
			e.stats.countDrop()
			continue
		}
		now := rep.Timestamp
		if now > highWater {
			highWater = now
		}

		e.stats.countReport()
		f, created := e.store.Update(rep)
		if created {
			e.stats.countCreated()
		}
		e.process(f, now)

		if lastSweep == 0 {
			lastSweep = now
		}
		if now-lastSweep >= sweepIntervalSecs {
			n := e.store.Expire(now, e.expireFlight)
			e.stats.countExpired(n)
			e.publishViews()
			lastSweep = now
		}
	}

	e.finalSweep()
	return nil
}

// process evaluates every rule, in declared order, for one flight
// update.
func (e *Engine) process(f *Flight, now float64) {
	var allowed map[int]bool
	if e.grid != nil {
		allowed = e.grid.candidates(f.Last.Lat, f.Last.Lon)
	}

	for _, r := range e.rules {
		if allowed != nil && r.ringBounds != nil && !allowed[r.Index] {
			continue
		}

		// Cooldown gates come before condition evaluation.
		if r.cooldownRule > 0 && now-r.lastRuleFire < r.cooldownRule {
			continue
		}
		if r.cooldownFlight > 0 && now-f.ruleCooldowns[r.Index] < r.cooldownFlight {
			continue
		}

		ok, partners := e.conditionsMatch(r, f, now)
		if !ok {
			continue
		}

		r.lastRuleFire = now
		f.ruleCooldowns[r.Index] = now

		if len(partners) > 0 {
			// One fire per ordered pair encountered in this update.
			for _, p := range partners {
				e.dispatch(r, f, p, now)
			}
		} else {
			e.dispatch(r, f, nil, now)
		}
	}
}

// expireFlight fires the expire callbacks armed on a flight being
// evicted. Handler panics are swallowed; eviction always completes.
func (e *Engine) expireFlight(f *Flight) {
	if len(f.expireHooks) == 0 {
		return
	}
	idxs := make([]int, 0, len(f.expireHooks))
	for i := range f.expireHooks {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		e.runCallback(f.expireHooks[i], f, nil)
	}
}

func (e *Engine) finalSweep() {
	n := e.store.ExpireAll(e.expireFlight)
	e.stats.countExpired(n)
	e.publishViews()
}

// publishViews refreshes the snapshot served to concurrent readers.
func (e *Engine) publishViews() {
	live := e.store.Live()
	views := make([]FlightView, len(live))
	for i, f := range live {
		views[i] = f.View()
	}
	e.viewMu.Lock()
	e.views = views
	e.viewMu.Unlock()
}

// FinalReport writes the match counts for every rule that carries a
// track action, in rule declaration order.
func (e *Engine) FinalReport() {
	var tracked []string
	for _, r := range e.rules {
		if r.acts.Track {
			tracked = append(tracked, r.Name)
		}
	}
	e.stats.writeReport(e.out, tracked)
}

// checkBindings validates that every callback name and webhook kind a
// rule references is actually available. Called at the top of Run so
// misconfiguration fails before any report is processed.
func (e *Engine) checkBindings() error {
	for _, r := range e.rules {
		for _, name := range []*string{r.acts.Callback, r.acts.ExpireCallback} {
			if name == nil {
				continue
			}
			if _, ok := e.callbacks[*name]; !ok {
				return fmt.Errorf("rule %q: callback %q not registered", r.Name, *name)
			}
		}
		if r.acts.Webhook != nil {
			kind := r.acts.Webhook[0]
			if e.notifier == nil || !e.notifier.Supports(kind) {
				return fmt.Errorf("rule %q: no webhook transport for kind %q", r.Name, kind)
			}
		}
	}
	return nil
}

func usesTimeConditions(rules []*Rule) bool {
	for _, r := range rules {
		if r.cond.MinTime != nil || r.cond.MaxTime != nil {
			return true
		}
	}
	return false
}
