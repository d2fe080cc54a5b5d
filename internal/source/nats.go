package source

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/skyops/rulescope/pkg/adsb"
)

// NATSSource consumes JSON report payloads from a NATS subject. One
// message is one report object, the same shape a TCP feed line
// carries.
type NATSSource struct {
	nc   *nats.Conn
	sub  *nats.Subscription
	msgs chan *nats.Msg

	lastTime float64
}

// ConnectNATS subscribes to subject on the given server URL
// (nats://host:4222).
func ConnectNATS(url, subject string) (*NATSSource, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	msgs := make(chan *nats.Msg, 1024)
	sub, err := nc.ChanSubscribe(subject, msgs)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe %q: %w", subject, err)
	}

	return &NATSSource{nc: nc, sub: sub, msgs: msgs}, nil
}

// Next returns the next report from the subscription.
func (s *NATSSource) Next(ctx context.Context) (adsb.Report, error) {
	select {
	case <-ctx.Done():
		return adsb.Report{}, ctx.Err()
	case msg, ok := <-s.msgs:
		if !ok {
			return adsb.Report{}, fmt.Errorf("nats subscription closed")
		}
		rep, err := adsb.ParseReport(msg.Data, s.lastTime)
		if err != nil {
			return adsb.Report{}, err
		}
		s.lastTime = rep.Timestamp
		return rep, nil
	}
}

// Close unsubscribes and drains the connection.
func (s *NATSSource) Close() error {
	if err := s.sub.Unsubscribe(); err != nil {
		s.nc.Close()
		return err
	}
	s.nc.Close()
	return nil
}
