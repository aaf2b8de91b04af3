package bus

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("job")
	defer b.Unsubscribe(sub)

	b.Publish("job.completed", "done")

	select {
	case event := <-sub.Ch():
		if event.Topic != "job.completed" {
			t.Fatalf("topic = %q, want %q", event.Topic, "job.completed")
		}
		if event.Payload != "done" {
			t.Fatalf("payload = %v, want %q", event.Payload, "done")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_PrefixMatching(t *testing.T) {
	b := New()

	jobSub := b.Subscribe("job.")
	defer b.Unsubscribe(jobSub)

	allSub := b.Subscribe("")
	defer b.Unsubscribe(allSub)

	b.Publish("job.enqueued", "new job")
	b.Publish("escalation.raised", "human handoff")

	// jobSub should receive job.enqueued but not escalation.raised.
	select {
	case event := <-jobSub.Ch():
		if event.Topic != "job.enqueued" {
			t.Fatalf("topic = %q, want job.enqueued", event.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for job event")
	}

	select {
	case event := <-jobSub.Ch():
		t.Fatalf("unexpected event on jobSub: %v", event)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}

	// allSub should receive both.
	received := 0
	for i := 0; i < 2; i++ {
		select {
		case <-allSub.Ch():
			received++
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for all event")
		}
	}
	if received != 2 {
		t.Fatalf("allSub received %d events, want 2", received)
	}
}

func TestBus_NonBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe("job")
	defer b.Unsubscribe(sub)

	// Fill the buffer past capacity; Publish must not block.
	for i := 0; i < defaultBufferSize+10; i++ {
		b.Publish("job.enqueued", i)
	}

	count := 0
	for {
		select {
		case <-sub.Ch():
			count++
		case <-time.After(50 * time.Millisecond):
			if count != defaultBufferSize {
				t.Fatalf("received %d events, want %d", count, defaultBufferSize)
			}
			return
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)

	if b.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d, want 0", b.SubscriberCount())
	}

	// Publishing after unsubscribe must not panic.
	b.Publish("job.enqueued", "x")

	// Channel must be closed.
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
}
