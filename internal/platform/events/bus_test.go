package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	got := make(chan SessionStateChanged, 1)
	unsub := Subscribe(bus, func(e SessionStateChanged) { got <- e })
	defer unsub()

	Publish(bus, SessionStateChanged{SessionID: "s1", To: "ready"})

	select {
	case e := <-got:
		if e.SessionID != "s1" || e.To != "ready" {
			t.Errorf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_routes_by_type(t *testing.T) {
	bus := New()
	defer bus.Close()

	states := make(chan SessionStateChanged, 1)
	captures := make(chan CaptureFinished, 1)
	defer Subscribe(bus, func(e SessionStateChanged) { states <- e })()
	defer Subscribe(bus, func(e CaptureFinished) { captures <- e })()

	Publish(bus, CaptureFinished{SessionID: "s1", FileName: "a.jpg"})

	select {
	case e := <-captures:
		if e.FileName != "a.jpg" {
			t.Errorf("unexpected capture event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for capture event")
	}

	select {
	case e := <-states:
		t.Errorf("state subscriber should not receive capture events: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_nil_bus(t *testing.T) {
	var bus *Bus
	Publish(bus, SessionStateChanged{SessionID: "s1"})
}
