// Package notify publishes per-run progress events to in-process subscribers.
// The serve command fans these out over SSE and websockets; the CLI watches
// them directly during a foreground run.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/schema-cli/internal/model"
)

// EventKind discriminates the payload of an Event.
type EventKind string

const (
	EventRun  EventKind = "run"
	EventItem EventKind = "item"
)

// Event is one progress delta for a run. Run events carry the run's current
// status; item events carry the full item so observers need no extra reads.
type Event struct {
	Kind      EventKind       `json:"kind"`
	RunID     string          `json:"run_id"`
	Status    model.RunStatus `json:"status,omitempty"`
	Item      *model.RunItem  `json:"item,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind starts losing events; it should re-read run state from the
// store on reconnect anyway.
const subscriberBuffer = 256

// Broker is an in-process fan-out of run progress events. Publishing never
// blocks on a slow subscriber.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[int]chan Event // run id → subscriber id → channel
	next int
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan Event)}
}

// Subscribe registers for events on a run. The returned cancel func must be
// called when the observer goes away; it closes the channel.
func (b *Broker) Subscribe(runID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	b.subs[runID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[runID][id]; ok {
			delete(b.subs[runID], id)
			if len(b.subs[runID]) == 0 {
				delete(b.subs, runID)
			}
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// PublishRun emits a run-status delta.
func (b *Broker) PublishRun(runID string, status model.RunStatus) {
	b.publish(runID, Event{
		Kind:      EventRun,
		RunID:     runID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// PublishItem emits a row-level delta with the item's current state.
func (b *Broker) PublishItem(runID string, item model.RunItem) {
	b.publish(runID, Event{
		Kind:      EventItem,
		RunID:     runID,
		Item:      &item,
		Timestamp: time.Now().UTC(),
	})
}

func (b *Broker) publish(runID string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs[runID] {
		select {
		case ch <- ev:
		default:
			zap.L().Warn("dropping progress event for slow subscriber",
				zap.String("run_id", runID),
				zap.Int("subscriber", id))
		}
	}
}
