package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/skyops/rulescope/pkg/engine"
)

// EventStore persists engine events to the rule_events table. It
// satisfies engine.EventSink; the engine calls RecordEvent from its
// background pool, never from the stream loop.
type EventStore struct {
	db      *DB
	timeout time.Duration
}

// NewEventStore wraps a connected database in an event sink.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db, timeout: 5 * time.Second}
}

// RecordEvent inserts one rule firing. Transient connection failures
// are retried a few times with linear backoff before giving up.
func (s *EventStore) RecordEvent(ev engine.Event) error {
	insert := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		_, err := s.db.ExecContext(ctx,
			`INSERT INTO rule_events (rule_name, flight_id, fired_at, lat, lon, alt_baro, note)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ev.Rule, ev.FlightID, ev.Timestamp, ev.Lat, ev.Lon, ev.AltBaro, ev.Note,
		)
		if err != nil {
			return fmt.Errorf("insert rule event: %w", err)
		}
		return nil
	}
	return withRetry(insert, 2)
}

// RecentEvents returns the newest archived firings, most recent
// first.
func (s *EventStore) RecentEvents(ctx context.Context, limit int) ([]engine.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rule_name, flight_id, fired_at, lat, lon, alt_baro, note
		 FROM rule_events ORDER BY fired_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query rule events: %w", err)
	}
	defer rows.Close()

	var out []engine.Event
	for rows.Next() {
		var ev engine.Event
		if err := rows.Scan(&ev.Rule, &ev.FlightID, &ev.Timestamp,
			&ev.Lat, &ev.Lon, &ev.AltBaro, &ev.Note); err != nil {
			return nil, fmt.Errorf("scan rule event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountByRule returns the archived fire count per rule name.
func (s *EventStore) CountByRule(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rule_name, COUNT(*) FROM rule_events GROUP BY rule_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("count rule events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("scan rule count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

// withRetry runs op, retrying connection-shaped failures with linear
// backoff. Non-connection errors return immediately.
func withRetry(op func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConnError(err) {
			return err
		}
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}
	return lastErr
}

func isConnError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"broken pipe",
		"no connection",
		"connection reset",
		"eof",
		"timeout",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
