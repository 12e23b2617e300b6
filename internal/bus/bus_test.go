package bus

import (
	"encoding/json"
	"testing"
)

func TestPublishDelivery(t *testing.T) {
	b := New(4)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish("status", map[string]bool{"running": true})

	ev := <-ch
	if ev.Name != "status" {
		t.Errorf("name: got %q", ev.Name)
	}
	var got map[string]bool
	if err := json.Unmarshal(ev.Data, &got); err != nil || !got["running"] {
		t.Errorf("payload: %s (err %v)", ev.Data, err)
	}
}

func TestPerSubscriberOrdering(t *testing.T) {
	b := New(16)
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 10; i++ {
		b.Publish("progress", i)
	}
	for i := 0; i < 10; i++ {
		ev := <-ch
		var got int
		json.Unmarshal(ev.Data, &got)
		if got != i {
			t.Fatalf("event %d out of order: got %d", i, got)
		}
	}
}

func TestSlowSubscriberEvicted(t *testing.T) {
	b := New(2)
	drops := 0
	b.OnDrop = func() { drops++ }

	slow, _ := b.Subscribe()
	fast, cancelFast := b.Subscribe()
	defer cancelFast()

	// Never drain slow: the third publish overflows its queue.
	for i := 0; i < 3; i++ {
		b.Publish("log", i)
		<-fast
	}

	if b.SubscriberCount() != 1 {
		t.Errorf("subscribers: got %d, want 1", b.SubscriberCount())
	}
	if drops != 1 {
		t.Errorf("drops: got %d, want 1", drops)
	}

	// The evicted channel is closed after its buffered events drain.
	n := 0
	for range slow {
		n++
	}
	if n != 2 {
		t.Errorf("buffered events before close: got %d, want 2", n)
	}
}

func TestCancelIdempotent(t *testing.T) {
	b := New(1)
	_, cancel := b.Subscribe()
	cancel()
	cancel() // second call must not panic
	if b.SubscriberCount() != 0 {
		t.Errorf("subscribers: got %d, want 0", b.SubscriberCount())
	}

	// Publishing to an empty bus is a no-op.
	b.Publish("status", "idle")
}
