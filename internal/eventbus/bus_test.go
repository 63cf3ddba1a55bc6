package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 10)
	bus.Subscribe("failure_detected", received)

	bus.Publish(Event{
		Type:      "failure_detected",
		Timestamp: time.Now(),
		Data:      2,
	})

	select {
	case evt := <-received:
		if evt.Type != "failure_detected" {
			t.Errorf("expected failure_detected, got %s", evt.Type)
		}
		if evt.Data != 2 {
			t.Errorf("expected data 2, got %v", evt.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch1 := make(chan Event, 10)
	ch2 := make(chan Event, 10)
	bus.Subscribe("checkpoint_created", ch1)
	bus.Subscribe("checkpoint_created", ch2)

	bus.Publish(Event{Type: "checkpoint_created", Data: int64(1000)})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	failCh := make(chan Event, 10)
	repairCh := make(chan Event, 10)
	bus.Subscribe("failure_detected", failCh)
	bus.Subscribe("repaired", repairCh)

	bus.Publish(Event{Type: "failure_detected"})

	select {
	case <-failCh:
	case <-time.After(time.Second):
		t.Fatal("failure subscriber did not receive event")
	}

	select {
	case <-repairCh:
		t.Fatal("repaired subscriber should NOT receive failure_detected event")
	case <-time.After(50 * time.Millisecond):
		// good
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := New()

	received := make(chan Event, 10)
	bus.Subscribe("completed", received)
	bus.Close()

	bus.Publish(Event{Type: "completed"})

	select {
	case <-received:
		t.Fatal("closed bus should not deliver events")
	case <-time.After(50 * time.Millisecond):
		// good
	}
}

func TestBus_PublishConcurrent(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 100)
	bus.Subscribe("countermeasure_performed", received)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(failed bool) {
			defer wg.Done()
			bus.Publish(Event{Type: "countermeasure_performed", Data: failed})
		}(i%2 == 0)
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)
	if len(received) != 50 {
		t.Errorf("expected 50 events, got %d", len(received))
	}
}
