package events_test

import (
	"testing"

	"github.com/cordala/erpbridge/pkg/events"
)

type orderPlaced struct {
	ID int
}

type orderFailed struct {
	ID int
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := events.New()

	var got []orderPlaced
	events.Subscribe(bus, func(ev orderPlaced) {
		got = append(got, ev)
	})

	bus.Publish(orderPlaced{ID: 7})
	if len(got) != 1 || got[0].ID != 7 {
		t.Errorf("received = %+v, want one event with ID 7", got)
	}
}

func TestPublishIgnoresOtherTypes(t *testing.T) {
	bus := events.New()

	calls := 0
	events.Subscribe(bus, func(orderPlaced) { calls++ })

	bus.Publish(orderFailed{ID: 1})
	if calls != 0 {
		t.Errorf("handler called %d times for an unrelated event type", calls)
	}
}

func TestPublishFansOut(t *testing.T) {
	bus := events.New()

	calls := 0
	events.Subscribe(bus, func(orderPlaced) { calls++ })
	events.Subscribe(bus, func(orderPlaced) { calls++ })

	bus.Publish(orderPlaced{})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := events.New()

	events.Subscribe(bus, func(orderPlaced) { panic("broken subscriber") })
	calls := 0
	events.Subscribe(bus, func(orderPlaced) { calls++ })

	bus.Publish(orderPlaced{})
	if calls != 1 {
		t.Errorf("surviving handler called %d times, want 1", calls)
	}
}

func TestCancel(t *testing.T) {
	bus := events.New()

	calls := 0
	sub := events.Subscribe(bus, func(orderPlaced) { calls++ })

	if !sub.Cancel() {
		t.Error("first Cancel = false, want true")
	}
	if sub.Cancel() {
		t.Error("second Cancel = true, want false")
	}

	bus.Publish(orderPlaced{})
	if calls != 0 {
		t.Errorf("cancelled handler called %d times", calls)
	}
}

func TestHandlerCountAndClear(t *testing.T) {
	bus := events.New()

	events.Subscribe(bus, func(orderPlaced) {})
	events.Subscribe(bus, func(orderPlaced) {})
	events.Subscribe(bus, func(orderFailed) {})

	if n := events.HandlerCount[orderPlaced](bus); n != 2 {
		t.Errorf("HandlerCount[orderPlaced] = %d, want 2", n)
	}

	events.ClearType[orderPlaced](bus)
	if n := events.HandlerCount[orderPlaced](bus); n != 0 {
		t.Errorf("HandlerCount after ClearType = %d, want 0", n)
	}
	if n := events.HandlerCount[orderFailed](bus); n != 1 {
		t.Errorf("HandlerCount[orderFailed] = %d, want 1", n)
	}

	bus.Clear()
	if n := events.HandlerCount[orderFailed](bus); n != 0 {
		t.Errorf("HandlerCount after Clear = %d, want 0", n)
	}
}

func TestDefaultBusIsShared(t *testing.T) {
	if events.Default() != events.Default() {
		t.Error("Default returned different buses")
	}
}
