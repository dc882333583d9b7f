package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4)
	defer bus.Unsubscribe(sub)

	bus.Publish(Event{
		Type:       EventArmChosen,
		Experiment: "checkout",
		ChosenArm:  "red",
	})

	select {
	case e := <-sub.C:
		if e.Type != EventArmChosen {
			t.Errorf("type = %s, want arm_chosen", e.Type)
		}
		if e.ChosenArm != "red" {
			t.Errorf("chosen_arm = %s, want red", e.ChosenArm)
		}
		if e.Timestamp.IsZero() {
			t.Error("expected Publish to stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	defer bus.Unsubscribe(sub)

	// Fill the buffer, then publish more; extra events must be dropped
	// without blocking.
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventOutcomeRecorded, Arm: "a"})
	}

	count := 0
	for {
		select {
		case <-sub.C:
			count++
		default:
			if count != 1 {
				t.Errorf("buffered %d events, want 1", count)
			}
			return
		}
	}
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(4)
	if bus.SubscriberCount() != 1 {
		t.Fatalf("count = %d, want 1", bus.SubscriberCount())
	}
	bus.Unsubscribe(sub)
	if bus.SubscriberCount() != 0 {
		t.Fatalf("count after unsubscribe = %d, want 0", bus.SubscriberCount())
	}

	select {
	case <-sub.done:
	default:
		t.Error("done channel should be closed after Unsubscribe")
	}
}

func TestMultipleSubscribersReceiveAll(t *testing.T) {
	bus := NewBus()
	s1 := bus.Subscribe(2)
	s2 := bus.Subscribe(2)
	defer bus.Unsubscribe(s1)
	defer bus.Unsubscribe(s2)

	bus.Publish(Event{Type: EventExperimentChange, Action: "created"})

	for _, s := range []*Subscriber{s1, s2} {
		select {
		case e := <-s.C:
			if e.Action != "created" {
				t.Errorf("action = %s, want created", e.Action)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestDefaultBufferSize(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(0)
	defer bus.Unsubscribe(sub)
	if cap(sub.C) != 64 {
		t.Errorf("default buffer = %d, want 64", cap(sub.C))
	}
}

func TestEventJSON(t *testing.T) {
	e := Event{
		Type:       EventOutcomeRecorded,
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Experiment: "checkout",
		Arm:        "green",
		Win:        true,
	}
	var decoded map[string]any
	if err := json.Unmarshal(e.JSON(), &decoded); err != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", err)
	}
	if decoded["type"] != "outcome_recorded" {
		t.Errorf("type = %v", decoded["type"])
	}
	if decoded["arm"] != "green" {
		t.Errorf("arm = %v", decoded["arm"])
	}
	if decoded["win"] != true {
		t.Errorf("win = %v", decoded["win"])
	}
}
