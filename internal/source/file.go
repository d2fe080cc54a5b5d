package source

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/skyops/rulescope/pkg/adsb"
)

// FileSource replays a JSON-lines trace file. With a zero Delay the
// file is consumed as fast as the engine can evaluate it; a non-zero
// Delay sleeps between reports, for demos against live dashboards.
type FileSource struct {
	f       *os.File
	scanner *bufio.Scanner
	delay   time.Duration

	// fallback stream time for records carrying no timestamp;
	// advances to each parsed report's time.
	lastTime float64
}

// OpenFile opens a trace file for replay.
func OpenFile(path string, delay time.Duration) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &FileSource{f: f, scanner: sc, delay: delay}, nil
}

// Next returns the next report, io.EOF at end of file.
func (s *FileSource) Next(ctx context.Context) (adsb.Report, error) {
	for {
		if err := ctx.Err(); err != nil {
			return adsb.Report{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return adsb.Report{}, err
			}
			return adsb.Report{}, io.EOF
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		if s.delay > 0 {
			select {
			case <-ctx.Done():
				return adsb.Report{}, ctx.Err()
			case <-time.After(s.delay):
			}
		}

		rep, err := adsb.ParseReport([]byte(line), s.lastTime)
		if err != nil {
			return adsb.Report{}, err
		}
		s.lastTime = rep.Timestamp
		return rep, nil
	}
}

// Close releases the underlying file.
func (s *FileSource) Close() error { return s.f.Close() }
