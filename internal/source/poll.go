package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/skyops/rulescope/pkg/adsb"
)

// PollSource polls a dump1090/readsb aircraft.json endpoint and feeds
// the reports one at a time. A rate limiter caps the request rate;
// HTTP 429 responses additionally honor the Retry-After header.
type PollSource struct {
	url        string
	httpClient *http.Client
	limiter    *rate.Limiter

	// pending holds the remainder of the last poll.
	pending []adsb.Report
}

// NewPoll creates a polling source hitting url at most once per
// interval.
func NewPoll(url string, interval time.Duration) *PollSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollSource{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
	}
}

// aircraftJSON is the endpoint's envelope: a snapshot timestamp plus
// an array of aircraft objects.
type aircraftJSON struct {
	Now      float64          `json:"now"`
	Aircraft []map[string]any `json:"aircraft"`
}

// Next returns the next buffered report, polling when the buffer is
// empty. Polls that return no usable aircraft are retried after the
// limiter's next slot; the source never returns io.EOF.
func (s *PollSource) Next(ctx context.Context) (adsb.Report, error) {
	for len(s.pending) == 0 {
		if err := s.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return adsb.Report{}, ctx.Err()
			}
			log.Printf("source: poll %s: %v", s.url, err)
		}
	}

	rep := s.pending[0]
	s.pending = s.pending[1:]
	return rep, nil
}

func (s *PollSource) poll(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfter(resp.Header)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		return fmt.Errorf("rate limited, waited %v", wait)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var snap aircraftJSON
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	for _, raw := range snap.Aircraft {
		rep, err := adsb.FromMap(raw, snap.Now)
		if err != nil {
			// Aircraft without position or id are routine in these
			// snapshots; skip quietly.
			continue
		}
		s.pending = append(s.pending, rep)
	}
	return nil
}

// retryAfter parses a Retry-After header, defaulting to 5 seconds.
func retryAfter(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}
