package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventAllocationComputed EventType = "allocation_computed"
	EventArmChosen          EventType = "arm_chosen"
	EventOutcomeRecorded    EventType = "outcome_recorded"
	EventExperimentChange   EventType = "experiment_change"
	EventAllocationError    EventType = "allocation_error"
)

// Event is a single bandit event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Allocation fields (populated for allocation events).
	Experiment string  `json:"experiment,omitempty"`
	Subtype    string  `json:"subtype,omitempty"`
	Epsilon    float64 `json:"epsilon,omitempty"`
	ChosenArm  string  `json:"chosen_arm,omitempty"`
	ErrorMsg   string  `json:"error_msg,omitempty"`

	// Outcome fields (populated for outcome_recorded events).
	Arm string `json:"arm,omitempty"`
	Win bool   `json:"win,omitempty"`

	// Change fields (populated for experiment_change events).
	Action    string `json:"action,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub event bus for bandit events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
			// Drop event if subscriber is slow (back-pressure).
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
