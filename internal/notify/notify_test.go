package notify

import (
	"errors"
	"testing"

	"github.com/rulehost/rulehost/internal/session"
	"github.com/rulehost/rulehost/internal/types"
)

func TestNotifierEmitDeliversToSubscribedKind(t *testing.T) {
	n := New(nil)

	var got Event
	n.Subscribe(EventCreated, func(evt Event) { got = evt })

	summary := session.Summary{ID: types.SessionID("s1"), Owner: "alice", Type: types.SessionForward}
	n.Emit(Event{Kind: EventCreated, Session: summary})

	if got.Session.ID != summary.ID {
		t.Errorf("expected session id %q, got %q", summary.ID, got.Session.ID)
	}
}

func TestNotifierEmitIgnoresUnsubscribedKind(t *testing.T) {
	n := New(nil)

	called := false
	n.Subscribe(EventCreated, func(evt Event) { called = true })

	n.Emit(Event{Kind: EventEvicted, Session: session.Summary{ID: types.SessionID("s1")}})

	if called {
		t.Error("expected sink not to fire for a different event kind")
	}
}

func TestNotifierEmitFansOutToAllSubscribers(t *testing.T) {
	n := New(nil)

	var calls int
	n.Subscribe(EventFault, func(evt Event) { calls++ })
	n.Subscribe(EventFault, func(evt Event) { calls++ })

	n.Emit(Event{Kind: EventFault, Session: session.Summary{ID: types.SessionID("s1")}, Err: errors.New("boom")})

	if calls != 2 {
		t.Errorf("expected both subscribers to fire, got %d calls", calls)
	}
}

func TestNotifierEmitRecoversFromPanickingSink(t *testing.T) {
	n := New(nil)

	var secondCalled bool
	n.Subscribe(EventTerminated, func(evt Event) { panic("sink exploded") })
	n.Subscribe(EventTerminated, func(evt Event) { secondCalled = true })

	n.Emit(Event{Kind: EventTerminated, Session: session.Summary{ID: types.SessionID("s1")}})

	if !secondCalled {
		t.Error("expected later subscriber to still run after an earlier one panics")
	}
}

func TestLogSinkHandlesFaultAndNonFaultEvents(t *testing.T) {
	sink := LogSink(nil)

	// LogSink must not panic on either branch, fault or non-fault.
	sink(Event{Kind: EventCreated, Session: session.Summary{ID: types.SessionID("s1")}})
	sink(Event{Kind: EventFault, Session: session.Summary{ID: types.SessionID("s1")}, Err: errors.New("boom")})
}
