package source

import (
	"bufio"
	"context"
	"log"
	"net"
	"strings"
	"time"

	"github.com/skyops/rulescope/pkg/adsb"
)

const (
	tcpInitialBackoff = time.Second
	tcpMaxBackoff     = 60 * time.Second
)

// TCPSource reads newline-delimited JSON reports from a network feed
// (readsb --net-json-port style). Lost connections are redialed with
// exponential backoff; the source only fails when the context is
// cancelled.
type TCPSource struct {
	addr    string
	conn    net.Conn
	scanner *bufio.Scanner

	// fallback stream time for records without their own timestamp.
	lastTime float64
}

// DialTCP creates a TCP source. The first connection is made lazily
// on the first Next call, so construction never blocks.
func DialTCP(addr string) *TCPSource {
	return &TCPSource{addr: addr}
}

// Next returns the next report from the feed, reconnecting as needed.
func (s *TCPSource) Next(ctx context.Context) (adsb.Report, error) {
	for {
		if err := ctx.Err(); err != nil {
			return adsb.Report{}, err
		}
		if s.conn == nil {
			if err := s.connect(ctx); err != nil {
				return adsb.Report{}, err
			}
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				log.Printf("source: tcp %s: read: %v", s.addr, err)
			} else {
				log.Printf("source: tcp %s: feed closed", s.addr)
			}
			s.conn.Close()
			s.conn = nil
			continue
		}

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		rep, err := adsb.ParseReport([]byte(line), s.lastTime)
		if err != nil {
			return adsb.Report{}, err
		}
		s.lastTime = rep.Timestamp
		return rep, nil
	}
}

// connect dials with exponential backoff until success or cancel.
func (s *TCPSource) connect(ctx context.Context) error {
	delay := tcpInitialBackoff
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", s.addr)
		if err == nil {
			log.Printf("source: connected to %s", s.addr)
			s.conn = conn
			sc := bufio.NewScanner(conn)
			sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			s.scanner = sc
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Printf("source: dial %s: %v (retry in %v)", s.addr, err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > tcpMaxBackoff {
			delay = tcpMaxBackoff
		}
	}
}

// Close tears down the current connection, if any.
func (s *TCPSource) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
