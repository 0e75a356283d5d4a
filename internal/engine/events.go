package engine

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// TaskEvent is one state transition of a task.
type TaskEvent struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	BackendID string    `json:"backend_id,omitempty"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// EventBroker fans task transitions out to subscribers. It is safe for
// concurrent use.
//
// Finished topics are kept as closed markers so a subscriber arriving after
// the task ended gets a closed channel instead of waiting forever.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan TaskEvent
	nextID int
	closed bool
}

// NewEventBroker creates an empty broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{topics: make(map[string]*eventTopic)}
}

// Subscribe returns a channel of events for taskID and an unsubscribe
// function. If the task already finished the channel is closed.
func (b *EventBroker) Subscribe(taskID string) (<-chan TaskEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan TaskEvent)}
		b.topics[taskID] = t
	}

	ch := make(chan TaskEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
		if !t.closed && len(t.subs) == 0 && b.topics[taskID] == t {
			delete(b.topics, taskID)
		}
	}
}

// Publish delivers ev to the task's subscribers, dropping it for any whose
// buffer is full.
func (b *EventBroker) Publish(ev TaskEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.TaskID]
	if !ok || t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends the stream for taskID.
func (b *EventBroker) Close(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[taskID]
	if !ok {
		b.topics[taskID] = &eventTopic{subs: make(map[int]chan TaskEvent), closed: true}
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Forget drops the closed marker for taskID. The executor calls it when a
// task is evicted from memory.
func (b *EventBroker) Forget(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[taskID]; ok && t.closed {
		delete(b.topics, taskID)
	}
}
