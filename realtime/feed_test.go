// unadulting/realtime/feed_test.go
package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("Channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return Event{}
}

func TestHubFanOut(t *testing.T) {
	hub := testHub()
	a, cancelA := hub.Subscribe(TableTopics)
	defer cancelA()
	b, cancelB := hub.Subscribe(TableTopics)
	defer cancelB()
	other, cancelOther := hub.Subscribe(TablePosts)
	defer cancelOther()

	ev := Event{Table: TableTopics, Action: ActionUpdate, Row: json.RawMessage(`{"id":3}`)}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for _, ch := range []<-chan Event{a, b} {
		got := recv(t, ch)
		if got.Action != ActionUpdate || string(got.Row) != `{"id":3}` {
			t.Errorf("Unexpected event: %+v", got)
		}
	}
	select {
	case ev := <-other:
		t.Errorf("Posts subscriber received a topics event: %+v", ev)
	default:
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := testHub()
	ch, cancel := hub.Subscribe(TableTopics)
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Error("Expected closed channel after cancel")
	}
	if err := hub.Publish(context.Background(), Event{Table: TableTopics, Action: ActionInsert}); err != nil {
		t.Fatalf("Publish after cancel failed: %v", err)
	}
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := testHub()
	ch, cancel := hub.Subscribe(TablePosts)
	defer cancel()

	// One more than the buffer; the overflow event must not block Publish.
	for i := 0; i < subscriberBuffer+1; i++ {
		if err := hub.Publish(context.Background(), Event{Table: TablePosts, Action: ActionInsert}); err != nil {
			t.Fatalf("Publish %d failed: %v", i, err)
		}
	}

	got := 0
	for {
		select {
		case <-ch:
			got++
		default:
			if got != subscriberBuffer {
				t.Errorf("Expected %d buffered events, got %d", subscriberBuffer, got)
			}
			return
		}
	}
}

func TestSubscriberChanToleratesLateSends(t *testing.T) {
	sc := newSubscriberChan()

	if !sc.send(Event{Table: TablePosts, Action: ActionInsert}) {
		t.Fatal("Send to an open subscriber should be accepted")
	}
	sc.close()
	sc.close() // idempotent

	// A delivery callback racing the cancel must neither panic nor block.
	if sc.send(Event{Table: TablePosts, Action: ActionUpdate}) {
		t.Error("Send after close should be refused")
	}

	// Events buffered before the close still drain.
	ev, ok := <-sc.ch
	if !ok || ev.Action != ActionInsert {
		t.Errorf("Expected the buffered event, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-sc.ch; ok {
		t.Error("Expected closed channel after drain")
	}
}

func TestSubscriberChanDropsWhenFull(t *testing.T) {
	sc := newSubscriberChan()
	for i := 0; i < subscriberBuffer; i++ {
		if !sc.send(Event{Table: TablePosts, Action: ActionInsert}) {
			t.Fatalf("Send %d should be accepted", i)
		}
	}
	if sc.send(Event{Table: TablePosts, Action: ActionInsert}) {
		t.Error("Send beyond the buffer should be refused, not block")
	}
}
