package notification

import (
	"context"
	"testing"
)

func TestDispatcherFoldsAddressCaseIntoOneRoom(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, unsubscribe := dispatcher.Subscribe(ctx, "0xAbCd")
	defer unsubscribe()

	dispatcher.Publish("0xabcd", Event{ID: 1, Type: TypeFollow})
	select {
	case event := <-stream:
		if event.ID != 1 {
			t.Fatalf("unexpected event %+v", event)
		}
	default:
		t.Fatalf("expected event despite case difference")
	}
}

func TestDispatcherDropsEventsForAbsentRooms(t *testing.T) {
	dispatcher := NewDispatcher()
	// No subscribers; must not block or panic.
	dispatcher.Publish("0xabcd", Event{ID: 1, Type: TypeFollow})
	dispatcher.Publish("", Event{ID: 2, Type: TypeFollow})
}

func TestDispatcherDropsWhenSubscriberBufferIsFull(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, unsubscribe := dispatcher.Subscribe(ctx, "0xabcd")
	defer unsubscribe()

	for i := 0; i < 100; i++ {
		dispatcher.Publish("0xabcd", Event{ID: uint(i)})
	}

	received := 0
	for {
		select {
		case <-stream:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received >= 100 {
		t.Fatalf("expected a bounded buffer, received %d events", received)
	}
}

func TestDispatcherUnsubscribeStopsDelivery(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, unsubscribe := dispatcher.Subscribe(ctx, "0xabcd")
	unsubscribe()

	dispatcher.Publish("0xabcd", Event{ID: 1})
	select {
	case event := <-stream:
		t.Fatalf("expected no delivery after unsubscribe, got %+v", event)
	default:
	}
}
