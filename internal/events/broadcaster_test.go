package events

import (
	"testing"
	"time"
)

func receive(t *testing.T, sub Subscriber) Event {
	t.Helper()
	select {
	case e, ok := <-sub:
		if !ok {
			t.Fatal("subscriber closed")
		}
		return e
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for broadcast event")
	}
	return Event{}
}

func TestSubscriberCountTracksLifecycle(t *testing.T) {
	CloseAllSubscribers()

	subs := []Subscriber{Subscribe(), Subscribe(), Subscribe()}
	if got := SubscriberCount(); got != 3 {
		t.Fatalf("expected 3 subscribers, got %d", got)
	}

	for i, sub := range subs {
		Unsubscribe(sub)
		if got, want := SubscriberCount(), 2-i; got != want {
			t.Errorf("after %d unsubscribes: got %d subscribers, want %d", i+1, got, want)
		}
	}
}

func TestEmitReachesEverySubscriber(t *testing.T) {
	a, b := Subscribe(), Subscribe()
	defer Unsubscribe(a)
	defer Unsubscribe(b)

	Emit("info", "smoker.started", "", map[string]interface{}{"smoker_id": "tobacco", "duration_ms": 3000})

	for name, sub := range map[string]Subscriber{"a": a, "b": b} {
		e := receive(t, sub)
		if e.Name != "smoker.started" {
			t.Errorf("%s: expected 'smoker.started', got '%s'", name, e.Name)
		}
		if e.Fields["smoker_id"] != "tobacco" {
			t.Errorf("%s: expected smoker_id 'tobacco', got '%v'", name, e.Fields["smoker_id"])
		}
	}
}

func TestSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	slow := Subscribe()
	defer Unsubscribe(slow)
	before := DroppedCount()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Far more than the subscriber buffer holds.
		for i := 0; i < 500; i++ {
			Emit("info", "table.cleared", "", nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full subscriber")
	}
	if n := len(slow); n != cap(slow) {
		t.Errorf("expected full subscriber buffer (%d), got %d", cap(slow), n)
	}
	if DroppedCount()-before < int64(500-cap(slow)) {
		t.Errorf("expected at least %d dropped deliveries, got %d", 500-cap(slow), DroppedCount()-before)
	}
}

func TestBroadcasterIsolated(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()

	for i := 0; i < subscriberBuffer+3; i++ {
		b.Publish(Event{Name: "table.cleared"})
	}
	if got := b.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped, got %d", got)
	}
	if got := b.Count(); got != 1 {
		t.Errorf("expected 1 subscriber, got %d", got)
	}

	b.CloseAll()
	n := 0
	for range sub {
		n++
	}
	if n != subscriberBuffer {
		t.Errorf("expected %d buffered events after close, got %d", subscriberBuffer, n)
	}
}

func TestRecentEvents(t *testing.T) {
	Clear()
	for i := 0; i < 10; i++ {
		Emit("info", "supplier.placed", "", map[string]interface{}{"i": i})
	}

	recent := RecentEvents(4)
	if len(recent) != 4 {
		t.Fatalf("expected 4 recent events, got %d", len(recent))
	}
	if recent[0].Fields["i"] != 6 || recent[3].Fields["i"] != 9 {
		t.Errorf("expected events 6..9, got %v..%v", recent[0].Fields["i"], recent[3].Fields["i"])
	}

	if got := len(RecentEvents(100)); got != 10 {
		t.Errorf("expected 10 events when requesting 100, got %d", got)
	}
	if got := len(RecentEvents(0)); got != 10 {
		t.Errorf("expected 10 events when requesting 0, got %d", got)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	sub := Subscribe()
	Unsubscribe(sub)

	if _, ok := <-sub; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	Unsubscribe(sub)
}

func TestCloseAllSubscribersEndsStreams(t *testing.T) {
	CloseAllSubscribers()
	a, b := Subscribe(), Subscribe()

	CloseAllSubscribers()

	for _, sub := range []Subscriber{a, b} {
		if _, ok := <-sub; ok {
			t.Error("expected channel to be closed")
		}
	}
	if got := SubscriberCount(); got != 0 {
		t.Errorf("expected 0 subscribers, got %d", got)
	}
	// Handlers still unsubscribe on their way out.
	Unsubscribe(a)
}
