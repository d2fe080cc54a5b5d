// Package webhook delivers rule-match notifications to external
// services. Delivery is asynchronous: Notify enqueues onto a bounded
// queue drained by a worker pool, so a slow or down endpoint never
// stalls the stream. When the queue is full the message is dropped
// with a log line.
package webhook

import (
	"log"
	"sync"

	"github.com/skyops/rulescope/pkg/config"
)

const (
	queueSize = 1024
	workers   = 2
)

// Transport delivers one message of a single kind ("slack", "page").
type Transport interface {
	Kind() string
	Send(target, message string) error
}

// Dispatcher fans messages out to its registered transports. It
// satisfies engine.Notifier.
type Dispatcher struct {
	transports map[string]Transport
	queue      chan delivery
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type delivery struct {
	kind    string
	target  string
	message string
}

// NewDispatcher builds a dispatcher with the transports the
// configuration enables: slack when a webhook URL is set, page when a
// pager gateway URL is set.
func NewDispatcher(cfg config.WebhookConfig) *Dispatcher {
	d := &Dispatcher{
		transports: make(map[string]Transport),
		queue:      make(chan delivery, queueSize),
	}
	if cfg.SlackURL != "" {
		d.Register(NewSlackTransport(cfg.SlackURL))
	}
	if cfg.PageURL != "" {
		d.Register(NewPageTransport(cfg))
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Register adds a transport. Must be called before messages flow.
func (d *Dispatcher) Register(t Transport) {
	d.transports[t.Kind()] = t
}

// Supports reports whether a transport for kind is registered.
func (d *Dispatcher) Supports(kind string) bool {
	_, ok := d.transports[kind]
	return ok
}

// Notify enqueues a message for delivery, reporting whether it was
// accepted. A full queue or unknown kind drops the message.
func (d *Dispatcher) Notify(kind, target, message string) bool {
	if !d.Supports(kind) {
		log.Printf("webhook: no transport for kind %q, dropping message", kind)
		return false
	}
	select {
	case d.queue <- delivery{kind: kind, target: target, message: message}:
		return true
	default:
		log.Printf("webhook: queue full, dropping %s message", kind)
		return false
	}
}

// Close drains the queue and stops the workers.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
		d.wg.Wait()
	})
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for del := range d.queue {
		t := d.transports[del.kind]
		if err := t.Send(del.target, del.message); err != nil {
			log.Printf("webhook: %s delivery failed: %v", del.kind, err)
		}
	}
}
