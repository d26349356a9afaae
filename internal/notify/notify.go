// Package notify fans out session lifecycle events to registered sinks,
// routed by event kind rather than by a per-session delivery channel,
// since lifecycle events are broadcast rather than addressed to one
// recipient.
package notify

import (
	"log/slog"
	"sync"

	"github.com/rulehost/rulehost/internal/session"
)

// EventKind identifies a session lifecycle transition worth notifying on.
type EventKind string

const (
	EventCreated    EventKind = "session.created"
	EventActive     EventKind = "session.active"
	EventFault      EventKind = "session.fault"
	EventRecovered  EventKind = "session.recovered"
	EventEvicted    EventKind = "session.evicted"
	EventTerminated EventKind = "session.terminated"
)

// Event is delivered to every sink registered for its Kind. Err is set
// only for EventFault, carrying the reason the engine was declared broken.
type Event struct {
	Kind    EventKind
	Session session.Summary
	Err     error
}

// Sink receives a lifecycle event. Implementations must not block for long
// — Notifier.Emit dispatches to sinks synchronously in registration order.
type Sink func(Event)

// Notifier routes lifecycle events to every sink registered for their Kind.
type Notifier struct {
	mu   sync.RWMutex
	subs map[EventKind][]Sink
	log  *slog.Logger
}

// New creates an empty Notifier.
func New(log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		subs: make(map[EventKind][]Sink),
		log:  log,
	}
}

// Subscribe registers sink to receive every event of the given kind.
func (n *Notifier) Subscribe(kind EventKind, sink Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs[kind] = append(n.subs[kind], sink)
}

// Emit delivers evt to every sink subscribed to evt.Kind. A panicking sink
// is recovered and logged so one bad subscriber cannot take down the
// caller — Emit is typically invoked from the Scheduler's hot path.
func (n *Notifier) Emit(evt Event) {
	n.mu.RLock()
	sinks := append([]Sink(nil), n.subs[evt.Kind]...)
	n.mu.RUnlock()

	for _, sink := range sinks {
		n.dispatch(sink, evt)
	}
}

func (n *Notifier) dispatch(sink Sink, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("notify sink panicked", "kind", evt.Kind, "session_id", string(evt.Session.ID), "panic", r)
		}
	}()
	sink(evt)
}

// LogSink returns a Sink that writes each event as a structured log line
// at the given logger, the always-on default subscriber every deployment
// wires up regardless of what other sinks (webhooks, metrics) are added.
func LogSink(log *slog.Logger) Sink {
	if log == nil {
		log = slog.Default()
	}
	return func(evt Event) {
		attrs := []any{
			"kind", evt.Kind,
			"session_id", string(evt.Session.ID),
			"owner", evt.Session.Owner,
			"type", string(evt.Session.Type),
			"status", string(evt.Session.Status),
		}
		if evt.Err != nil {
			attrs = append(attrs, "error", evt.Err)
			log.Warn("session lifecycle event", attrs...)
			return
		}
		log.Info("session lifecycle event", attrs...)
	}
}
